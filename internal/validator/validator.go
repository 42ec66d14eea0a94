package validator

// =============================================================================
// The CUE schema is the contract between the expander and everything that
// consumes its rows (symbol file writer, layout audit, downstream tools).
// A failure here means the expander or the configuration layer produced
// something the file format cannot represent. Fix the producer; do not
// loosen the schema to make a run pass.
// =============================================================================

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaFS embed.FS

// DefaultBatchSize is the number of rows unified with the schema at once.
const DefaultBatchSize = 5000

// Validator checks configuration and rows against the embedded CUE schema.
type Validator struct {
	ctx       *cue.Context
	schema    cue.Value
	BatchSize int
}

// New creates a new Validator with the embedded CUE schema
func New() (*Validator, error) {
	ctx := cuecontext.New()

	schemaBytes, err := schemaFS.ReadFile("schema.cue")
	if err != nil {
		return nil, fmt.Errorf("loading embedded schema: %w", err)
	}

	schema := ctx.CompileBytes(schemaBytes)
	if schema.Err() != nil {
		return nil, fmt.Errorf("compiling schema: %w", schema.Err())
	}

	return &Validator{
		ctx:       ctx,
		schema:    schema,
		BatchSize: DefaultBatchSize,
	}, nil
}

// ValidateConfig checks a configuration value against #Config.
func (v *Validator) ValidateConfig(cfg interface{}) error {
	if err := v.validate(cfg, "#Config"); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// ValidateRow checks a single row against #Row.
func (v *Validator) ValidateRow(row interface{}) error {
	if err := v.validate(row, "#Row"); err != nil {
		return fmt.Errorf("row validation failed: %w", err)
	}
	return nil
}

// ValidateRows checks rows against #Rows in batches. The first failing batch
// is reported with its row range, the index of the offending row and every
// schema message for that row.
func ValidateRows[T any](v *Validator, rows []T) error {
	size := v.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		if err := v.validate(rows[start:end], "#Rows"); err != nil {
			for i := start; i < end; i++ {
				if v.ValidateRow(rows[i]) != nil {
					return fmt.Errorf("row validation failed in rows %d-%d at row %d: %s",
						start, end-1, i, strings.Join(v.ValidationErrors(rows[i], "#Row"), "; "))
				}
			}
			return fmt.Errorf("row validation failed in rows %d-%d: %w", start, end-1, err)
		}
	}
	return nil
}

// ValidationErrors returns every schema violation of data against the named
// definition, one message per error.
func (v *Validator) ValidationErrors(data interface{}, definition string) []string {
	err := v.validate(data, definition)
	if err == nil {
		return nil
	}
	var errs []string
	for _, e := range errors.Errors(err) {
		errs = append(errs, e.Error())
	}
	return errs
}

func (v *Validator) validate(data interface{}, definition string) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling data to JSON: %w", err)
	}

	dataValue := v.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return fmt.Errorf("compiling data as CUE: %w", dataValue.Err())
	}

	def := v.schema.LookupPath(cue.ParsePath(definition))
	if def.Err() != nil {
		return fmt.Errorf("looking up %s definition: %w", definition, def.Err())
	}

	unified := def.Unify(dataValue)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}
