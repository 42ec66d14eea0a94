package symfile

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/robert-at-pretension-io/tpy-csv/internal/facts"
)

var (
	// ErrBadHeader reports a file whose two header lines are unusable.
	ErrBadHeader = errors.New("bad symbol file header")

	// ErrRecordCount reports a declared record count that differs from the
	// records present.
	ErrRecordCount = errors.New("record count mismatch")
)

// File is a decoded symbol file.
type File struct {
	Header string
	Rows   []facts.Row
}

// Read decodes one symbol file.
func Read(r io.Reader) (*File, error) {
	br := bufio.NewReader(r)

	header, err := readLine(br)
	if err != nil || header == "" {
		return nil, fmt.Errorf("%w: missing identification line", ErrBadHeader)
	}
	countLine, err := readLine(br)
	if err != nil {
		return nil, fmt.Errorf("%w: missing record count", ErrBadHeader)
	}
	declared, err := strconv.Atoi(strings.TrimSpace(countLine))
	if err != nil || declared < 0 {
		return nil, fmt.Errorf("%w: record count %q", ErrBadHeader, countLine)
	}

	cr := csv.NewReader(br)
	cr.Comma = ';'
	cr.FieldsPerRecord = len(facts.Columns)
	cr.ReuseRecord = true

	rows := make([]facts.Row, 0, declared)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading records: %w", err)
		}
		row, err := facts.ParseRecord(rec)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line+HeaderLines, err)
		}
		rows = append(rows, row)
	}

	if len(rows) != declared {
		return nil, fmt.Errorf("%w: declared %d, found %d", ErrRecordCount, declared, len(rows))
	}
	return &File{Header: header, Rows: rows}, nil
}

// ReadFile decodes the symbol file at path.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	file, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// ReadParts decodes base and every following part file (base_2, base_3, ...)
// that exists, concatenating their rows in part order.
func ReadParts(base string) (*File, []string, error) {
	first, err := ReadFile(base)
	if err != nil {
		return nil, nil, err
	}
	paths := []string{base}
	for i := 1; ; i++ {
		p := PartFilename(base, i)
		part, err := ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		first.Rows = append(first.Rows, part.Rows...)
		paths = append(paths, p)
	}
	return first, paths, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
