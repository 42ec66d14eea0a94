// Package converter runs the TPY to symbol file pipeline: parse, build the
// type catalog, expand symbols into rows, optionally validate and audit the
// rows, then write the chunked symbol files.
package converter

// =============================================================================
// Nothing is written until every row has been produced and checked. A cycle
// in the type graph, a malformed document or a contract failure leaves the
// previous output untouched.
// =============================================================================

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/robert-at-pretension-io/tpy-csv/internal/config"
	"github.com/robert-at-pretension-io/tpy-csv/internal/facts"
	"github.com/robert-at-pretension-io/tpy-csv/internal/filter"
	"github.com/robert-at-pretension-io/tpy-csv/internal/layout"
	"github.com/robert-at-pretension-io/tpy-csv/internal/policy"
	"github.com/robert-at-pretension-io/tpy-csv/internal/symfile"
	"github.com/robert-at-pretension-io/tpy-csv/internal/tpy"
	"github.com/robert-at-pretension-io/tpy-csv/internal/validator"
)

// EngineVersion changes whenever the row layout produced for the same input
// changes. Cached outputs from another engine version are rebuilt.
const EngineVersion = "1"

// Converter converts TPY documents into symbol files.
type Converter struct {
	// Configuration, already merged with command line overrides
	Config *config.Config

	Logger *zap.Logger

	validator *validator.Validator
}

// Result describes one conversion run.
type Result struct {
	Input     string               `json:"input"`
	Symbols   int                  `json:"symbols"`
	DataTypes int                  `json:"data_types"`
	Catalog   int                  `json:"catalog_types"`
	Filtered  bool                 `json:"filtered"`
	Rows      int                  `json:"rows"`
	Files     []symfile.FileResult `json:"files"`
	Audit     *policy.Result       `json:"audit,omitempty"`

	// Cached is set when the outputs were up to date and nothing was written
	Cached bool `json:"cached"`

	Elapsed time.Duration `json:"elapsed"`
}

// New checks cfg against the configuration contract and returns a converter.
// A nil cfg selects config.DefaultConfig.
func New(cfg *config.Config, logger *zap.Logger) (*Converter, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v, err := validator.New()
	if err != nil {
		return nil, err
	}
	if err := v.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Converter{Config: cfg, Logger: logger, validator: v}, nil
}

// Run converts input into output (plus numbered part files when needed).
func (c *Converter) Run(ctx context.Context, input, output string) (*Result, error) {
	start := time.Now()
	cfg := c.Config

	timing := newTimingRecorder(start, resolveTimingPath(cfg.TimingPath))
	if err := timing.Err(); err != nil {
		c.Logger.Warn("timing output disabled", zap.Error(err))
	}
	defer timing.Close()

	res := &Result{Input: input}

	var cache *outputCache
	var inputHash, fingerprint, cacheKey string
	if cfg.CacheEnabled() {
		stageStart := time.Now()
		var err error
		cache, inputHash, fingerprint, cacheKey, err = c.openCache(input, output)
		timing.Stage("cache_check", stageStart, 0, err)
		if err != nil {
			return nil, err
		}
		if entry, ok := cache.Fresh(cacheKey, inputHash, fingerprint); ok {
			res.Cached = true
			res.Rows = entry.Rows
			for _, p := range entry.Outputs {
				res.Files = append(res.Files, symfile.FileResult{Path: p})
			}
			res.Elapsed = time.Since(start)
			c.Logger.Info("outputs up to date, skipping conversion",
				zap.String("input", input),
				zap.Int("files", len(res.Files)))
			return res, nil
		}
	}

	stageStart := time.Now()
	typeFilter, err := filter.Load(cfg.Filters.OnlyFile, cfg.Filters.SkipFile, c.Logger)
	timing.Stage("filters", stageStart, 0, err)
	if err != nil {
		return nil, fmt.Errorf("loading filters: %w", err)
	}

	stageStart = time.Now()
	doc, err := tpy.ParseFile(input)
	timing.Stage("parse", stageStart, 0, err)
	if err != nil {
		return nil, err
	}
	res.Symbols = len(doc.Symbols)
	res.DataTypes = len(doc.DataTypes)
	c.Logger.Debug("parsed document",
		zap.String("input", input),
		zap.Int("symbols", res.Symbols),
		zap.Int("data_types", res.DataTypes))

	stageStart = time.Now()
	catalog := layout.NewCatalog(doc.DataTypes)
	res.Catalog = catalog.Len()
	res.Filtered = !typeFilter.Empty()
	rows, err := layout.NewExpander(catalog, ExpansionOptions(cfg, typeFilter)).Expand(doc.Symbols)
	timing.Stage("expand", stageStart, len(rows), err)
	if err != nil {
		return nil, fmt.Errorf("expanding %s: %w", input, err)
	}
	res.Rows = len(rows)

	if cfg.Validation.Rows {
		stageStart = time.Now()
		err := validator.ValidateRows(c.validator, rows)
		timing.Stage("validate", stageStart, len(rows), err)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Audit.Enabled {
		stageStart = time.Now()
		audit, err := c.audit(ctx, rows)
		timing.Stage("audit", stageStart, len(rows), err)
		if err != nil {
			return nil, err
		}
		res.Audit = audit
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageStart = time.Now()
	writer := symfile.NewWriter(cfg.Output.MaxLinesPerFile, c.Logger)
	if cfg.Output.Header != "" {
		writer.Header = cfg.Output.Header
	}
	files, err := writer.WriteFiles(output, rows)
	timing.Stage("write", stageStart, len(rows), err)
	if err != nil {
		return nil, err
	}
	res.Files = files

	if cache != nil {
		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.Path
		}
		cache.Put(cacheKey, inputHash, fingerprint, paths, len(rows))
		if err := cache.Save(); err != nil {
			c.Logger.Warn("failed to save conversion cache", zap.Error(err))
		}
	}

	res.Elapsed = time.Since(start)
	c.Logger.Info("conversion complete",
		zap.String("input", input),
		zap.String("output", output),
		zap.Bool("recurse", cfg.Recurse()),
		zap.Bool("recurse_arrays", cfg.RecurseArrays()),
		zap.String("only_file", cfg.Filters.OnlyFile),
		zap.String("skip_file", cfg.Filters.SkipFile),
		zap.Bool("filtered", res.Filtered),
		zap.Int("catalog_types", res.Catalog),
		zap.Int("rows", res.Rows),
		zap.Int("files", len(res.Files)),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// ExpansionOptions maps the expansion settings of cfg onto layout options.
// An empty filter is left out so every composite type is descended into.
func ExpansionOptions(cfg *config.Config, typeFilter *filter.Filter) layout.Options {
	opts := layout.Options{
		Recurse:       cfg.Recurse(),
		RecurseArrays: cfg.RecurseArrays(),
		MaxDepth:      cfg.Expansion.MaxDepth,
	}
	if !typeFilter.Empty() {
		opts.Filter = typeFilter
	}
	return opts
}

func (c *Converter) audit(ctx context.Context, rows []facts.Row) (*policy.Result, error) {
	engine, err := policy.New(ctx, c.Config.Audit.PolicyDir)
	if err != nil {
		return nil, fmt.Errorf("loading audit policies: %w", err)
	}
	result, err := engine.Evaluate(ctx, rows)
	if err != nil {
		return nil, err
	}
	for _, v := range result.Violations {
		fields := []zap.Field{
			zap.String("rule", v.Rule),
			zap.String("symbol", v.Symbol),
			zap.String("name", v.Name),
			zap.String("message", v.Message),
		}
		switch v.Severity {
		case "error", "warning":
			c.Logger.Warn("layout audit", append(fields, zap.String("severity", v.Severity))...)
		default:
			c.Logger.Info("layout audit", append(fields, zap.String("severity", v.Severity))...)
		}
	}
	c.Logger.Info("layout audit summary",
		zap.Int("violations", result.Summary.TotalViolations),
		zap.Int("errors", result.Summary.Errors),
		zap.Int("warnings", result.Summary.Warnings),
		zap.Int("info", result.Summary.Info))
	return result, nil
}

func (c *Converter) openCache(input, output string) (*outputCache, string, string, string, error) {
	cache := newOutputCache(c.Config.Cache.Dir, EngineVersion)
	if err := cache.Load(); err != nil {
		c.Logger.Warn("ignoring unreadable conversion cache", zap.Error(err))
		cache = newOutputCache(c.Config.Cache.Dir, EngineVersion)
	}
	inputHash, err := hashFile(input)
	if err != nil {
		return nil, "", "", "", fmt.Errorf("hashing %s: %w", input, err)
	}
	fingerprint, err := c.fingerprint(input)
	if err != nil {
		return nil, "", "", "", err
	}
	key, err := filepath.Abs(output)
	if err != nil {
		key = output
	}
	return cache, inputHash, fingerprint, key, nil
}

// fingerprint covers every setting that changes the written bytes, including
// the contents of the pattern files.
func (c *Converter) fingerprint(input string) (string, error) {
	cfg := c.Config
	onlyHash, err := hashFile(cfg.Filters.OnlyFile)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", cfg.Filters.OnlyFile, err)
	}
	skipHash, err := hashFile(cfg.Filters.SkipFile)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", cfg.Filters.SkipFile, err)
	}
	abs, err := filepath.Abs(input)
	if err != nil {
		abs = input
	}
	data, err := json.Marshal(struct {
		Input         string `json:"input"`
		Recurse       bool   `json:"recurse"`
		RecurseArrays bool   `json:"recurse_arrays"`
		MaxDepth      int    `json:"max_depth"`
		OnlyHash      string `json:"only_hash"`
		SkipHash      string `json:"skip_hash"`
		MaxLines      int    `json:"max_lines"`
		Header        string `json:"header"`
	}{
		Input:         abs,
		Recurse:       cfg.Recurse(),
		RecurseArrays: cfg.RecurseArrays(),
		MaxDepth:      cfg.Expansion.MaxDepth,
		OnlyHash:      onlyHash,
		SkipHash:      skipHash,
		MaxLines:      cfg.Output.MaxLinesPerFile,
		Header:        cfg.Output.Header,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
