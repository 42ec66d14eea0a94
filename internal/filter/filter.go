// Package filter decides which composite types may be expanded recursively.
package filter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Filter is a whitelist/blacklist gate over composite type names. Patterns
// are regular expressions matched anywhere in the name. The zero value allows
// every type.
type Filter struct {
	only []*regexp.Regexp
	skip []*regexp.Regexp
}

// New builds a Filter from compiled pattern sets. Either may be empty.
func New(only, skip []*regexp.Regexp) *Filter {
	return &Filter{only: only, skip: skip}
}

// Allowed reports whether typeName may be expanded recursively. A non-empty
// whitelist admits only names matching one of its patterns; the blacklist is
// applied afterwards.
func (f *Filter) Allowed(typeName string) bool {
	if f == nil {
		return true
	}
	if len(f.only) > 0 && !matchesAny(typeName, f.only) {
		return false
	}
	if len(f.skip) > 0 && matchesAny(typeName, f.skip) {
		return false
	}
	return true
}

// Empty reports whether no pattern is configured.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.only) == 0 && len(f.skip) == 0)
}

func matchesAny(name string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// Load builds a Filter from a whitelist file and a blacklist file. Empty
// paths are skipped.
func Load(onlyPath, skipPath string, logger *zap.Logger) (*Filter, error) {
	only, err := LoadPatternFile(onlyPath, logger)
	if err != nil {
		return nil, err
	}
	skip, err := LoadPatternFile(skipPath, logger)
	if err != nil {
		return nil, err
	}
	return New(only, skip), nil
}

// LoadPatternFile reads one regular expression per line. Blank lines and
// lines starting with "#", ";" or "//" are ignored. A missing file or an
// invalid pattern is logged and skipped.
func LoadPatternFile(path string, logger *zap.Logger) ([]*regexp.Regexp, error) {
	if path == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("pattern file not found, ignoring", zap.String("path", path))
			return nil, nil
		}
		return nil, fmt.Errorf("opening pattern file: %w", err)
	}
	defer func() { _ = f.Close() }()

	patterns, err := ParsePatterns(f, path, logger)
	if err != nil {
		return nil, fmt.Errorf("reading pattern file %s: %w", path, err)
	}
	return patterns, nil
}

// ParsePatterns compiles the pattern lines read from r. source only labels
// log entries.
func ParsePatterns(r io.Reader, source string, logger *zap.Logger) ([]*regexp.Regexp, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var patterns []*regexp.Regexp
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		s := strings.TrimSpace(scanner.Text())
		if s == "" || strings.HasPrefix(s, "#") || strings.HasPrefix(s, ";") || strings.HasPrefix(s, "//") {
			continue
		}
		re, err := regexp.Compile(s)
		if err != nil {
			logger.Warn("invalid pattern, skipping",
				zap.String("path", source),
				zap.Int("line", lineNo),
				zap.String("pattern", s),
				zap.Error(err))
			continue
		}
		patterns = append(patterns, re)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}
