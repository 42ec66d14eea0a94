// Package facts holds the flat symbol rows produced by layout expansion.
package facts

import (
	"fmt"
	"strconv"
)

// Columns is the fixed column order of a symbol row.
var Columns = []string{
	"IGroup", "IOffset", "Name", "Comment", "Type",
	"BitSize", "BitOffs", "DefaultValue", "ActualAddress",
}

// Row is one addressable element: a top-level symbol, an array element or a
// (possibly nested) struct field.
type Row struct {
	IGroup        string `json:"igroup"`
	IOffset       int64  `json:"ioffset"`
	Name          string `json:"name"`
	Comment       string `json:"comment"`
	Type          string `json:"type"`
	BitSize       int64  `json:"bit_size"`
	BitOffset     *int64 `json:"bit_offset"`
	DefaultValue  string `json:"default_value"`
	ActualAddress int64  `json:"actual_address"`

	// Symbol is the owning top-level symbol and Depth the nesting level
	// below it (0 for the symbol row). Neither is written to symbol files.
	Symbol string `json:"symbol"`
	Depth  int    `json:"depth"`
}

// Offset returns a BitOffset value.
func Offset(bits int64) *int64 {
	return &bits
}

// IsTopLevel reports whether the row describes a top-level symbol.
func (r Row) IsTopLevel() bool {
	return r.BitOffset == nil
}

// Record renders the row in Columns order.
func (r Row) Record() []string {
	bitOffs := ""
	if r.BitOffset != nil {
		bitOffs = strconv.FormatInt(*r.BitOffset, 10)
	}
	return []string{
		r.IGroup,
		strconv.FormatInt(r.IOffset, 10),
		r.Name,
		r.Comment,
		r.Type,
		strconv.FormatInt(r.BitSize, 10),
		bitOffs,
		r.DefaultValue,
		strconv.FormatInt(r.ActualAddress, 10),
	}
}

// ParseRecord is the inverse of Row.Record. Symbol and Depth are not
// recoverable from a record and stay zero.
func ParseRecord(rec []string) (Row, error) {
	if len(rec) != len(Columns) {
		return Row{}, fmt.Errorf("expected %d fields, got %d", len(Columns), len(rec))
	}
	var r Row
	var err error

	r.IGroup = rec[0]
	if r.IOffset, err = parseField("IOffset", rec[1]); err != nil {
		return Row{}, err
	}
	r.Name = rec[2]
	r.Comment = rec[3]
	r.Type = rec[4]
	if r.BitSize, err = parseField("BitSize", rec[5]); err != nil {
		return Row{}, err
	}
	if rec[6] != "" {
		v, err := parseField("BitOffs", rec[6])
		if err != nil {
			return Row{}, err
		}
		r.BitOffset = &v
	}
	r.DefaultValue = rec[7]
	if r.ActualAddress, err = parseField("ActualAddress", rec[8]); err != nil {
		return Row{}, err
	}
	return r, nil
}

func parseField(column, s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", column, err)
	}
	return v, nil
}
