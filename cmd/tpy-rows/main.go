// tpy-rows prints the expanded rows of a .tpy file as JSON, including the
// owning symbol and nesting depth that symbol files leave out. With
// --delta-from it also writes the rows added and removed since an earlier
// dump.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/robert-at-pretension-io/tpy-csv/internal/config"
	"github.com/robert-at-pretension-io/tpy-csv/internal/converter"
	"github.com/robert-at-pretension-io/tpy-csv/internal/facts"
	"github.com/robert-at-pretension-io/tpy-csv/internal/filter"
	"github.com/robert-at-pretension-io/tpy-csv/internal/layout"
	"github.com/robert-at-pretension-io/tpy-csv/internal/tpy"
)

type rowsOptions struct {
	output         string
	deltaFrom      string
	deltaOut       string
	configPath     string
	noRecurse      bool
	noArrayRecurse bool
	onlyFile       string
	skipFile       string
}

func main() {
	if err := newRowsCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRowsCmd() *cobra.Command {
	opts := &rowsOptions{}
	cmd := &cobra.Command{
		Use:           "tpy-rows [--output file] [--delta-from prev.json --delta-out delta.json] <input.tpy>",
		Short:         "Dump expanded symbol rows as JSON",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRows(cmd, opts, args[0])
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "", "write rows JSON to file (default: stdout)")
	flags.StringVar(&opts.deltaFrom, "delta-from", "", "previous rows JSON to compute delta from")
	flags.StringVar(&opts.deltaOut, "delta-out", "", "write delta JSON to file (requires --delta-from)")
	flags.StringVarP(&opts.configPath, "config", "c", "", "configuration file (JSON or YAML)")
	flags.BoolVar(&opts.noRecurse, "no-recurse", false, "expand composite symbols one level only")
	flags.BoolVar(&opts.noArrayRecurse, "no-array-recurse", false, "do not expand composite array elements")
	flags.StringVar(&opts.onlyFile, "only", "", "whitelist pattern file")
	flags.StringVar(&opts.skipFile, "skip", "", "blacklist pattern file")
	return cmd
}

func runRows(cmd *cobra.Command, opts *rowsOptions, input string) error {
	if (opts.deltaFrom == "") != (opts.deltaOut == "") {
		return fmt.Errorf("--delta-from and --delta-out must be used together")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(cmd, opts, input, logger)
	if err != nil {
		return err
	}
	typeFilter, err := filter.Load(cfg.Filters.OnlyFile, cfg.Filters.SkipFile, logger)
	if err != nil {
		return err
	}
	doc, err := tpy.ParseFile(input)
	if err != nil {
		return err
	}
	expander := layout.NewExpander(layout.NewCatalog(doc.DataTypes), converter.ExpansionOptions(cfg, typeFilter))
	rows, err := expander.Expand(doc.Symbols)
	if err != nil {
		return err
	}

	if opts.output != "" {
		if err := writeJSON(opts.output, rows); err != nil {
			return fmt.Errorf("writing rows: %w", err)
		}
	} else {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			return fmt.Errorf("encoding rows: %w", err)
		}
	}

	if opts.deltaFrom != "" {
		prev, err := readRows(opts.deltaFrom)
		if err != nil {
			return fmt.Errorf("reading delta-from: %w", err)
		}
		if err := writeJSON(opts.deltaOut, facts.ComputeDelta(prev, rows)); err != nil {
			return fmt.Errorf("writing delta: %w", err)
		}
	}
	return nil
}

// loadConfig applies the same configuration search and flag overrides as
// tpy-csv, so both tools expand identically.
func loadConfig(cmd *cobra.Command, opts *rowsOptions, input string, logger *zap.Logger) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", opts.configPath, err)
		}
		cfg.ResolvePaths(filepath.Dir(opts.configPath))
	} else {
		cfg, err = config.Load(filepath.Dir(input))
		if err != nil {
			logger.Warn("could not load config, using defaults", zap.Error(err))
			cfg = config.DefaultConfig()
		}
	}

	flags := cmd.Flags()
	if flags.Changed("no-recurse") || flags.Changed("no-array-recurse") {
		cfg.SetRecurse(cfg.Recurse() && !opts.noRecurse, cfg.RecurseArrays() && !opts.noArrayRecurse)
	}
	if flags.Changed("only") {
		cfg.Filters.OnlyFile = opts.onlyFile
	}
	if flags.Changed("skip") {
		cfg.Filters.SkipFile = opts.skipFile
	}
	return cfg, nil
}

func readRows(path string) ([]facts.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var rows []facts.Row
	if err := json.NewDecoder(f).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func writeJSON(path string, data interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
