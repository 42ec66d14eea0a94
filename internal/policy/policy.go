// Package policy audits flattened symbol layouts with rego rules.
package policy

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/robert-at-pretension-io/tpy-csv/internal/facts"
)

//go:embed layout.rego
var layoutPolicy string

const (
	violationsQuery = "data.tpy.audit.all_violations"
	summaryQuery    = "data.tpy.audit.summary"
)

// Engine evaluates layout policies against flattened rows
type Engine struct {
	queries map[string]rego.PreparedEvalQuery
}

// Violation represents a policy violation
type Violation struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Message  string `json:"message"`
}

// Result contains the evaluation results
type Result struct {
	Violations []Violation
	Summary    Summary
}

// Summary provides aggregate counts
type Summary struct {
	TotalViolations int `json:"total_violations"`
	Errors          int `json:"errors"`
	Warnings        int `json:"warnings"`
	Info            int `json:"info"`
}

// Input is the data structure passed to OPA
type Input struct {
	Symbols []Symbol `json:"symbols"`
}

// Symbol is a top-level row together with the rows below it
type Symbol struct {
	Name    string  `json:"name"`
	IGroup  string  `json:"igroup"`
	IOffset int64   `json:"ioffset"`
	BitSize int64   `json:"bit_size"`
	Type    string  `json:"type"`
	Fields  []Field `json:"fields"`
}

// Field is an array element or struct field row
type Field struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	BitSize   int64  `json:"bit_size"`
	BitOffset int64  `json:"bit_offset"`
	Depth     int    `json:"depth"`
}

// BuildInput groups rows under the top-level row that precedes them.
func BuildInput(rows []facts.Row) Input {
	in := Input{Symbols: []Symbol{}}
	for _, r := range rows {
		if r.IsTopLevel() {
			in.Symbols = append(in.Symbols, Symbol{
				Name:    r.Name,
				IGroup:  r.IGroup,
				IOffset: r.IOffset,
				BitSize: r.BitSize,
				Type:    r.Type,
				Fields:  []Field{},
			})
			continue
		}
		if len(in.Symbols) == 0 {
			continue
		}
		sym := &in.Symbols[len(in.Symbols)-1]
		sym.Fields = append(sym.Fields, Field{
			Name:      r.Name,
			Type:      r.Type,
			BitSize:   r.BitSize,
			BitOffset: *r.BitOffset,
			Depth:     r.Depth,
		})
	}
	return in
}

// New creates a policy engine from the built-in layout rules plus every
// .rego file in policyDir, which may be empty.
func New(ctx context.Context, policyDir string) (*Engine, error) {
	engine := &Engine{
		queries: make(map[string]rego.PreparedEvalQuery),
	}

	modules := []func(*rego.Rego){rego.Module("layout.rego", layoutPolicy)}

	if policyDir != "" {
		files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("finding policy files: %w", err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no policy files found in %s", policyDir)
		}
		for _, f := range files {
			content, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", f, err)
			}
			modules = append(modules, rego.Module(f, string(content)))
		}
	}

	for name, q := range map[string]string{"violations": violationsQuery, "summary": summaryQuery} {
		opts := append(append([]func(*rego.Rego){}, modules...), rego.Query(q))
		query, err := rego.New(opts...).PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("preparing %s query: %w", name, err)
		}
		engine.queries[name] = query
	}

	return engine, nil
}

// Evaluate runs the policies against rows. Violations are ordered by
// symbol, row name and rule.
func (e *Engine) Evaluate(ctx context.Context, rows []facts.Row) (*Result, error) {
	inputMap, err := structToMap(BuildInput(rows))
	if err != nil {
		return nil, fmt.Errorf("converting input: %w", err)
	}

	result := &Result{Violations: []Violation{}}

	rs, err := e.queries["violations"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating violations: %w", err)
	}

	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		violations, ok := rs[0].Expressions[0].Value.([]interface{})
		if ok {
			for _, v := range violations {
				vmap, ok := v.(map[string]interface{})
				if !ok {
					continue
				}
				result.Violations = append(result.Violations, Violation{
					Rule:     getString(vmap, "rule"),
					Severity: getString(vmap, "severity"),
					Symbol:   getString(vmap, "symbol"),
					Name:     getString(vmap, "name"),
					Message:  getString(vmap, "message"),
				})
			}
		}
	}
	sort.Slice(result.Violations, func(i, j int) bool {
		a, b := result.Violations[i], result.Violations[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Rule < b.Rule
	})

	rs, err = e.queries["summary"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating summary: %w", err)
	}

	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		smap, ok := rs[0].Expressions[0].Value.(map[string]interface{})
		if ok {
			result.Summary = Summary{
				TotalViolations: getInt(smap, "total_violations"),
				Errors:          getInt(smap, "errors"),
				Warnings:        getInt(smap, "warnings"),
				Info:            getInt(smap, "info"),
			}
		}
	}

	return result, nil
}

// Helper functions
func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	return result, err
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		case json.Number:
			i, _ := n.Int64()
			return int(i)
		}
	}
	return 0
}
