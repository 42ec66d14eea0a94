package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultMaxLinesPerFile = 1_670_000
	defaultMaxDepth        = 64
	defaultHeader          = "Beckhoff TwinCat V2-PLC-Symbolfile"
	defaultCacheDir        = ".tpy_csv_cache"
)

// Config is the top-level configuration for tpy-csv
type Config struct {
	// Expansion controls how composite and array symbols are flattened
	Expansion ExpansionConfig `json:"expansion" yaml:"expansion"`

	// Filters names the whitelist/blacklist pattern files
	Filters FilterConfig `json:"filters,omitempty" yaml:"filters,omitempty"`

	// Output controls the written symbol files
	Output OutputConfig `json:"output" yaml:"output"`

	// Validation enables CUE contract checks on emitted rows
	Validation ValidationConfig `json:"validation,omitempty" yaml:"validation,omitempty"`

	// Audit enables rego layout checks on emitted rows
	Audit AuditConfig `json:"audit,omitempty" yaml:"audit,omitempty"`

	// Cache controls skipping of unchanged conversions
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`

	// TimingPath receives per-stage timings as JSON lines when set
	TimingPath string `json:"timing_path,omitempty" yaml:"timing_path,omitempty"`
}

// ExpansionConfig controls recursion into composite types
type ExpansionConfig struct {
	// Recurse expands composite symbols at every depth
	Recurse *bool `json:"recurse,omitempty" yaml:"recurse,omitempty"`

	// RecurseArrays expands composite array elements (needs Recurse)
	RecurseArrays *bool `json:"recurse_arrays,omitempty" yaml:"recurse_arrays,omitempty"`

	// MaxDepth bounds composite nesting below a symbol
	MaxDepth int `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`
}

// FilterConfig names pattern files, one regular expression per line
type FilterConfig struct {
	// OnlyFile is the whitelist: only matching types are recursed into
	OnlyFile string `json:"only_file,omitempty" yaml:"only_file,omitempty"`

	// SkipFile is the blacklist: matching types are never recursed into
	SkipFile string `json:"skip_file,omitempty" yaml:"skip_file,omitempty"`
}

// OutputConfig controls symbol file layout
type OutputConfig struct {
	// MaxLinesPerFile caps each file, including the two header lines
	MaxLinesPerFile int `json:"max_lines_per_file,omitempty" yaml:"max_lines_per_file,omitempty"`

	// Header is the identification line written first in every file
	Header string `json:"header,omitempty" yaml:"header,omitempty"`
}

// ValidationConfig toggles row contract validation
type ValidationConfig struct {
	Rows bool `json:"rows,omitempty" yaml:"rows,omitempty"`
}

// AuditConfig toggles the layout audit
type AuditConfig struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// PolicyDir holds additional .rego modules in package tpy.audit
	PolicyDir string `json:"policy_dir,omitempty" yaml:"policy_dir,omitempty"`
}

// CacheConfig controls the conversion cache
type CacheConfig struct {
	// Enabled turns on skipping of unchanged conversions
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// Dir is the cache directory
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// DefaultConfig returns a configuration matching the converter's built-in
// behavior: full recursion, no filters, 1,670,000 lines per file.
func DefaultConfig() *Config {
	return &Config{
		Expansion: ExpansionConfig{
			Recurse:       boolPtr(true),
			RecurseArrays: boolPtr(true),
			MaxDepth:      defaultMaxDepth,
		},
		Output: OutputConfig{
			MaxLinesPerFile: defaultMaxLinesPerFile,
			Header:          defaultHeader,
		},
		Cache: CacheConfig{
			Enabled: boolPtr(false),
			Dir:     defaultCacheDir,
		},
	}
}

func boolPtr(v bool) *bool {
	return &v
}

// Load finds and loads the configuration file
// Search order:
//  1. ./tpy_csv.json, ./.tpy_csv.json, ./tpy_csv.yaml (current working directory)
//  2. the same names in dir (if different from cwd)
//  3. ~/.config/tpy_csv/config.json
//
// Returns DefaultConfig if no config file is found
func Load(dir string) (*Config, error) {
	cwd, _ := os.Getwd()

	names := []string{"tpy_csv.json", ".tpy_csv.json", "tpy_csv.yaml"}
	var searchPaths []string
	for _, name := range names {
		searchPaths = append(searchPaths, filepath.Join(cwd, name))
	}

	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		absDir, _ := filepath.Abs(dir)
		if absDir != cwd {
			for _, name := range names {
				searchPaths = append(searchPaths, filepath.Join(dir, name))
			}
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "tpy_csv", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	return DefaultConfig(), nil
}

// LoadFile loads configuration from a specific file. Files ending in .yaml
// or .yml are read as YAML, everything else as JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	if c.Expansion.Recurse == nil {
		c.Expansion.Recurse = boolPtr(true)
	}
	if c.Expansion.RecurseArrays == nil {
		c.Expansion.RecurseArrays = boolPtr(true)
	}
	if c.Expansion.MaxDepth == 0 {
		c.Expansion.MaxDepth = defaultMaxDepth
	}
	if c.Output.MaxLinesPerFile == 0 {
		c.Output.MaxLinesPerFile = defaultMaxLinesPerFile
	}
	if c.Output.Header == "" {
		c.Output.Header = defaultHeader
	}
	if c.Cache.Enabled == nil {
		c.Cache.Enabled = boolPtr(false)
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = defaultCacheDir
	}
}

// Save writes the configuration to a file, as YAML for .yaml/.yml paths and
// JSON otherwise.
func (c *Config) Save(path string) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Recurse reports whether composite symbols are expanded recursively.
func (c *Config) Recurse() bool {
	return c.Expansion.Recurse == nil || *c.Expansion.Recurse
}

// RecurseArrays reports whether composite array elements are expanded.
// Disabling Recurse disables it as well.
func (c *Config) RecurseArrays() bool {
	if !c.Recurse() {
		return false
	}
	return c.Expansion.RecurseArrays == nil || *c.Expansion.RecurseArrays
}

// SetRecurse overrides the recursion switches, as the --no-recurse and
// --no-array-recurse flags do.
func (c *Config) SetRecurse(recurse, arrays bool) {
	c.Expansion.Recurse = boolPtr(recurse)
	c.Expansion.RecurseArrays = boolPtr(recurse && arrays)
}

// CacheEnabled reports whether unchanged conversions may be skipped.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Enabled != nil && *c.Cache.Enabled
}

// ResolvePaths makes relative file references absolute against base, the
// directory holding the config file.
func (c *Config) ResolvePaths(base string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Filters.OnlyFile = resolve(c.Filters.OnlyFile)
	c.Filters.SkipFile = resolve(c.Filters.SkipFile)
	c.Audit.PolicyDir = resolve(c.Audit.PolicyDir)
	c.Cache.Dir = resolve(c.Cache.Dir)
	c.TimingPath = resolve(c.TimingPath)
}
