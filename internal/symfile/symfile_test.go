package symfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/robert-at-pretension-io/tpy-csv/internal/facts"
)

func sampleRows(n int) []facts.Row {
	rows := make([]facts.Row, 0, n)
	for i := 0; i < n; i++ {
		r := facts.Row{
			IGroup:        "16416",
			IOffset:       int64(100 + i),
			Name:          fmt.Sprintf("MAIN.v%d", i),
			Type:          "BYTE",
			BitSize:       8,
			ActualAddress: int64(100 + i),
		}
		if i%2 == 1 {
			r.BitOffset = facts.Offset(int64(i * 8))
		}
		rows = append(rows, r)
	}
	return rows
}

func TestEncodeFormat(t *testing.T) {
	rows := []facts.Row{
		{IGroup: "16416", IOffset: 100, Name: "Motor1", Comment: "drive; left", Type: "ST_Motor", BitSize: 24, ActualAddress: 100},
		{IGroup: "16416", IOffset: 102, Name: "Motor1.Status", Type: "BOOL", BitSize: 8, BitOffset: facts.Offset(16), DefaultValue: "TRUE", ActualAddress: 102},
	}

	var buf bytes.Buffer
	if err := NewWriter(0, nil).Encode(&buf, rows); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := "Beckhoff TwinCat V2-PLC-Symbolfile\n" +
		"2\n" +
		"16416;100;Motor1;\"drive; left\";ST_Motor;24;;;100\n" +
		"16416;102;Motor1.Status;;BOOL;8;16;TRUE;102\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("encoded file mismatch (-want +got):\n%s", diff)
	}

	file, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if file.Header != DefaultHeader {
		t.Fatalf("unexpected header %q", file.Header)
	}
	if diff := cmp.Diff(rows, file.Rows); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPartFilename(t *testing.T) {
	tests := []struct {
		base  string
		index int
		want  string
	}{
		{"out/output.csv", 0, "out/output.csv"},
		{"out/output.csv", 1, filepath.Join("out", "output_2.csv")},
		{"out/output.csv", 9, filepath.Join("out", "output_10.csv")},
		{"symbols", 2, "symbols_3"},
	}
	for _, tt := range tests {
		if got := PartFilename(tt.base, tt.index); got != tt.want {
			t.Errorf("PartFilename(%q, %d) = %q, want %q", tt.base, tt.index, got, tt.want)
		}
	}
}

func TestWriteFilesChunksAndConservesRecords(t *testing.T) {
	tests := []struct {
		name      string
		rows      int
		maxLines  int
		wantFiles []int
	}{
		{"empty", 0, 10, []int{0}},
		{"fits", 8, 10, []int{8}},
		{"one_over", 9, 10, []int{8, 1}},
		{"three_parts", 20, 10, []int{8, 8, 4}},
		{"single_record_files", 3, 3, []int{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "output.csv")
			rows := sampleRows(tt.rows)

			results, err := NewWriter(tt.maxLines, nil).WriteFiles(out, rows)
			if err != nil {
				t.Fatalf("WriteFiles: %v", err)
			}

			var counts []int
			total := 0
			for i, res := range results {
				if res.Path != PartFilename(out, i) {
					t.Fatalf("part %d written to %s", i, res.Path)
				}
				file, err := ReadFile(res.Path)
				if err != nil {
					t.Fatalf("ReadFile(%s): %v", res.Path, err)
				}
				if len(file.Rows) != res.Records || res.Lines != res.Records+HeaderLines {
					t.Fatalf("result %+v does not match file with %d rows", res, len(file.Rows))
				}
				if res.Lines > tt.maxLines {
					t.Fatalf("file %s has %d lines, limit %d", res.Path, res.Lines, tt.maxLines)
				}
				counts = append(counts, res.Records)
				total += res.Records
			}
			if diff := cmp.Diff(tt.wantFiles, counts); diff != "" {
				t.Fatalf("per-file records mismatch (-want +got):\n%s", diff)
			}
			if total != tt.rows {
				t.Fatalf("records not conserved: %d written, %d rows", total, tt.rows)
			}

			all, paths, err := ReadParts(out)
			if err != nil {
				t.Fatalf("ReadParts: %v", err)
			}
			if len(paths) != len(results) {
				t.Fatalf("ReadParts found %d files, wrote %d", len(paths), len(results))
			}
			if diff := cmp.Diff(rows, all.Rows); diff != "" {
				t.Fatalf("rows mismatch after reading parts (-want +got):\n%s", diff)
			}

			entries, _ := os.ReadDir(filepath.Dir(out))
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), ".tmp-") {
					t.Fatalf("temporary file %s left behind", e.Name())
				}
			}
		})
	}
}

func TestWriteFilesRejectsTinyLimit(t *testing.T) {
	w := &Writer{Header: DefaultHeader, MaxLinesPerFile: HeaderLines}
	if _, err := w.WriteFiles(filepath.Join(t.TempDir(), "x.csv"), sampleRows(1)); err == nil {
		t.Fatalf("expected error for a limit without room for records")
	}
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrBadHeader},
		{"no_count", "Beckhoff TwinCat V2-PLC-Symbolfile\n", ErrBadHeader},
		{"bad_count", "Beckhoff TwinCat V2-PLC-Symbolfile\nmany\n", ErrBadHeader},
		{"count_too_high", "Beckhoff TwinCat V2-PLC-Symbolfile\n2\n1;0;a;;INT;16;;;0\n", ErrRecordCount},
		{"count_too_low", "Beckhoff TwinCat V2-PLC-Symbolfile\n0\n1;0;a;;INT;16;;;0\n", ErrRecordCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := Read(strings.NewReader("H\n1\n1;0;a;;INT\n")); err == nil {
		t.Fatalf("expected error for short record")
	}
}

func TestEncodeQuotesOnlyWhenNeeded(t *testing.T) {
	tests := []struct {
		name    string
		comment string
		want    string
	}{
		{"leading_space", " Motor speed", "16416;0;MAIN.x; Motor speed;INT;16;;;0\n"},
		{"separator", "a;b", "16416;0;MAIN.x;\"a;b\";INT;16;;;0\n"},
		{"quote", `say "hi"`, "16416;0;MAIN.x;\"say \"\"hi\"\"\";INT;16;;;0\n"},
		{"plain", "speed", "16416;0;MAIN.x;speed;INT;16;;;0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := facts.Row{IGroup: "16416", Name: "MAIN.x", Comment: tt.comment, Type: "INT", BitSize: 16}
			var buf bytes.Buffer
			if err := NewWriter(0, nil).Encode(&buf, []facts.Row{row}); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			want := DefaultHeader + "\n1\n" + tt.want
			if diff := cmp.Diff(want, buf.String()); diff != "" {
				t.Fatalf("encoded file mismatch (-want +got):\n%s", diff)
			}

			file, err := Read(&buf)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if file.Rows[0].Comment != tt.comment {
				t.Fatalf("comment %q read back as %q", tt.comment, file.Rows[0].Comment)
			}
		})
	}
}

func TestWriteFilesRemovesStaleParts(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.csv")
	w := NewWriter(4, nil)

	first, err := w.WriteFiles(out, sampleRows(6))
	if err != nil {
		t.Fatalf("first WriteFiles: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(first))
	}

	if _, err := w.WriteFiles(out, sampleRows(1)); err != nil {
		t.Fatalf("second WriteFiles: %v", err)
	}

	file, paths, err := ReadParts(out)
	if err != nil {
		t.Fatalf("ReadParts: %v", err)
	}
	if len(paths) != 1 || len(file.Rows) != 1 {
		t.Fatalf("expected 1 file with 1 row, got %d rows from %v", len(file.Rows), paths)
	}
	for _, k := range []int{1, 2} {
		if _, err := os.Stat(PartFilename(out, k)); !os.IsNotExist(err) {
			t.Fatalf("stale part %s still present (stat: %v)", PartFilename(out, k), err)
		}
	}
}

func TestWriteFilesFailureLeavesNoParts(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")
	if err := os.Mkdir(PartFilename(out, 1), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if _, err := NewWriter(4, nil).WriteFiles(out, sampleRows(6)); err == nil {
		t.Fatalf("expected error when a part target is a directory")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("first part must not be written on failure (stat: %v)", err)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("temporary file %s left behind", e.Name())
		}
	}
}
