// =============================================================================
// tpy-csv - TwinCAT symbol table flattener
// =============================================================================
//
// Reads a TwinCAT 2 PLC project info file (.tpy) and writes the PLC symbol
// file consumed by HMI/SCADA tools: one row per addressable element, struct
// fields and array elements flattened to absolute addresses.
//
// THE PIPELINE:
//   1. internal/tpy parses the XML document
//   2. internal/layout builds the type catalog and expands every symbol
//   3. internal/validator checks config and (optionally) rows against CUE
//   4. internal/policy audits the layout with rego rules (optional)
//   5. internal/symfile writes the chunked symbol files
// =============================================================================

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/robert-at-pretension-io/tpy-csv/internal/config"
	"github.com/robert-at-pretension-io/tpy-csv/internal/converter"
	"github.com/robert-at-pretension-io/tpy-csv/internal/facts"
	"github.com/robert-at-pretension-io/tpy-csv/internal/symfile"
)

// options holds the flags shared by every command.
type options struct {
	verbose        bool
	configPath     string
	noRecurse      bool
	noArrayRecurse bool
	onlyFile       string
	skipFile       string
	maxLines       int
	audit          bool
	validateRows   bool

	logger *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "tpy-csv <input.tpy> <output.csv>",
		Short: "Flatten a TwinCAT symbol table into a PLC symbol file",
		Long: `Expands every symbol of a .tpy file into rows with absolute addresses:
  - struct fields are qualified as Parent.Field
  - array elements are qualified as Parent[i]
  - output is split into numbered part files when it exceeds --max-lines

Configuration is read from ./tpy_csv.json, ./.tpy_csv.json, ./tpy_csv.yaml,
the same names next to the input file, or ~/.config/tpy_csv/config.json.
Run 'tpy-csv init' to create one.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logCfg := zap.NewProductionConfig()
			if opts.verbose {
				logCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := logCfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, opts, args[0], args[1])
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVarP(&opts.configPath, "config", "c", "", "configuration file (JSON or YAML)")
	flags.BoolVar(&opts.noRecurse, "no-recurse", false, "expand composite symbols one level only")
	flags.BoolVar(&opts.noArrayRecurse, "no-array-recurse", false, "do not expand composite array elements")
	flags.StringVar(&opts.onlyFile, "only", "", "whitelist pattern file: only matching types are recursed into")
	flags.StringVar(&opts.skipFile, "skip", "", "blacklist pattern file: matching types are never recursed into")
	flags.IntVar(&opts.maxLines, "max-lines", 0, "maximum lines per output file, header included")
	flags.BoolVar(&opts.audit, "audit", false, "run the layout audit before writing")
	flags.BoolVar(&opts.validateRows, "validate-rows", false, "check every row against the row contract")

	root.AddCommand(newInitCmd(), newDiffCmd(), newWatchCmd(opts))
	return root
}

func runConvert(cmd *cobra.Command, opts *options, input, output string) error {
	c, err := newConverter(cmd, opts, input)
	if err != nil {
		return err
	}
	res, err := c.Run(cmd.Context(), input, output)
	if err != nil {
		return err
	}
	for _, f := range res.Files {
		fmt.Fprintln(cmd.OutOrStdout(), f.Path)
	}
	return nil
}

func newConverter(cmd *cobra.Command, opts *options, input string) (*converter.Converter, error) {
	cfg, err := loadConfig(cmd, opts, input)
	if err != nil {
		return nil, err
	}
	return converter.New(cfg, opts.logger)
}

// loadConfig reads the configuration file and applies command line
// overrides on top of it.
func loadConfig(cmd *cobra.Command, opts *options, input string) (*config.Config, error) {
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
			opts.logger.Warn("could not load config, using defaults", zap.Error(err))
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
	if flags.Changed("max-lines") {
		cfg.Output.MaxLinesPerFile = opts.maxLines
	}
	if flags.Changed("audit") {
		cfg.Audit.Enabled = opts.audit
	}
	if flags.Changed("validate-rows") {
		cfg.Validation.Rows = opts.validateRows
	}
	return cfg, nil
}

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create a tpy_csv.json configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := "tpy_csv.json"
			if len(args) == 1 {
				configPath = args[0]
			}
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", configPath)
			}
			if err := config.DefaultConfig().Save(configPath); err != nil {
				return fmt.Errorf("creating config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s\n", configPath)
			fmt.Fprintln(out, "\nEdit this file to configure:")
			fmt.Fprintln(out, "  - Recursion into structs and arrays")
			fmt.Fprintln(out, "  - Whitelist/blacklist pattern files")
			fmt.Fprintln(out, "  - Output file size and header")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <old.csv> <new.csv>",
		Short: "Show rows added and removed between two symbol files",
		Long: `Reads both symbol files (with their part files) and prints the rows only
present in one of them as JSON: {"added": [...], "removed": [...]}.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd.OutOrStdout(), args[0], args[1])
		},
	}
}

func runDiff(out io.Writer, oldPath, newPath string) error {
	prev, _, err := symfile.ReadParts(oldPath)
	if err != nil {
		return err
	}
	next, _, err := symfile.ReadParts(newPath)
	if err != nil {
		return err
	}
	delta := facts.ComputeDelta(prev.Rows, next.Rows)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(delta)
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <input.tpy> <output.csv>",
		Short: "Convert, then convert again whenever the input changes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newConverter(cmd, opts, args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			opts.logger.Info("watching for changes", zap.String("input", args[0]))
			return converter.NewWatcher(c, args[0], args[1]).Run(ctx)
		},
	}
}

