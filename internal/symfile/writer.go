// Package symfile reads and writes semicolon-separated PLC symbol files.
//
// A symbol file starts with an identifying header line and a line holding
// the number of records, followed by one record per row in facts.Columns
// order. Large row sets are split into numbered part files.
package symfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/robert-at-pretension-io/tpy-csv/internal/facts"
)

const (
	// DefaultHeader identifies the file format on the first line.
	DefaultHeader = "Beckhoff TwinCat V2-PLC-Symbolfile"

	// HeaderLines is the number of lines before the first record.
	HeaderLines = 2

	// DefaultMaxLinesPerFile caps a single file, header lines included.
	DefaultMaxLinesPerFile = 1_670_000
)

// FileResult describes one written file.
type FileResult struct {
	Path    string `json:"path"`
	Records int    `json:"records"`
	Lines   int    `json:"lines"`
}

// Writer writes rows into one or more symbol files.
type Writer struct {
	Header          string
	MaxLinesPerFile int
	Logger          *zap.Logger
}

// NewWriter returns a Writer with the default header. maxLines <= 0 selects
// DefaultMaxLinesPerFile.
func NewWriter(maxLines int, logger *zap.Logger) *Writer {
	if maxLines <= 0 {
		maxLines = DefaultMaxLinesPerFile
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		Header:          DefaultHeader,
		MaxLinesPerFile: maxLines,
		Logger:          logger,
	}
}

// MaxRecordsPerFile returns the number of records that fit in one file.
func (w *Writer) MaxRecordsPerFile() int {
	return w.MaxLinesPerFile - HeaderLines
}

// Plan splits rows into the chunks WriteFiles would produce, keyed by the
// file each chunk goes to. At least one (possibly empty) chunk is returned.
func (w *Writer) Plan(path string, rows []facts.Row) ([]string, [][]facts.Row, error) {
	per := w.MaxRecordsPerFile()
	if per <= 0 {
		return nil, nil, fmt.Errorf("max lines per file %d leaves no room for records", w.MaxLinesPerFile)
	}
	if len(rows) <= per {
		return []string{PartFilename(path, 0)}, [][]facts.Row{rows}, nil
	}

	var paths []string
	var chunks [][]facts.Row
	for start, part := 0, 0; start < len(rows); part++ {
		end := min(start+per, len(rows))
		paths = append(paths, PartFilename(path, part))
		chunks = append(chunks, rows[start:end])
		start = end
	}
	return paths, chunks, nil
}

// WriteFiles writes rows to path, splitting into part files when they do not
// fit into one. Every part is written to a temporary name before any of them
// is renamed into place, and part files left over from an earlier, longer
// output are removed.
func (w *Writer) WriteFiles(path string, rows []facts.Row) ([]FileResult, error) {
	paths, chunks, err := w.Plan(path, rows)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}

	temps := make([]string, 0, len(paths))
	cleanup := func() {
		for _, t := range temps {
			_ = os.Remove(t)
		}
	}
	for i, p := range paths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			cleanup()
			return nil, fmt.Errorf("output %s is a directory", p)
		}
		tmp, err := w.writeTemp(p, chunks[i])
		if err != nil {
			cleanup()
			return nil, err
		}
		temps = append(temps, tmp)
	}

	results := make([]FileResult, 0, len(paths))
	for i, p := range paths {
		if err := os.Rename(temps[i], p); err != nil {
			for _, t := range temps[i:] {
				_ = os.Remove(t)
			}
			return results, fmt.Errorf("rename %s: %w", p, err)
		}
		res := FileResult{Path: p, Records: len(chunks[i]), Lines: len(chunks[i]) + HeaderLines}
		w.Logger.Info("wrote symbol file",
			zap.String("path", res.Path),
			zap.Int("records", res.Records),
			zap.Int("lines", res.Lines))
		results = append(results, res)
	}

	if err := w.removeStaleParts(path, len(paths)); err != nil {
		return results, err
	}
	return results, nil
}

// removeStaleParts deletes part files numbered from index upward until the
// first one that does not exist.
func (w *Writer) removeStaleParts(base string, index int) error {
	for k := index; ; k++ {
		p := PartFilename(base, k)
		err := os.Remove(p)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("removing stale part %s: %w", p, err)
		}
		w.Logger.Info("removed stale symbol file", zap.String("path", p))
	}
}

func (w *Writer) writeTemp(path string, rows []facts.Row) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*"+filepath.Ext(path))
	if err != nil {
		return "", fmt.Errorf("temp output file: %w", err)
	}
	if err := w.Encode(tmp, rows); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return tmp.Name(), nil
}

// Encode writes a single symbol file holding all rows to out. A field is
// quoted only when it contains the separator, a quote or a line break.
func (w *Writer) Encode(out io.Writer, rows []facts.Row) error {
	bw := bufio.NewWriter(out)
	if _, err := fmt.Fprintf(bw, "%s\n%d\n", w.Header, len(rows)); err != nil {
		return err
	}
	for _, r := range rows {
		for i, field := range r.Record() {
			if i > 0 {
				if err := bw.WriteByte(';'); err != nil {
					return err
				}
			}
			if _, err := bw.WriteString(quoteField(field)); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func quoteField(field string) string {
	if !strings.ContainsAny(field, ";\"\r\n") {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

// PartFilename returns the file name of the index-th part (0-based) of base.
// The first part is base itself; later parts get a _<n> suffix before the
// extension, n starting at 2.
func PartFilename(base string, index int) string {
	if index == 0 {
		return base
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(filepath.Base(base), ext)
	return filepath.Join(filepath.Dir(base), stem+"_"+strconv.Itoa(index+1)+ext)
}
