// Package tpy reads TwinCAT PLC project information files (.tpy) into the
// symbol and data type records consumed by the layout expander.
package tpy

import "strings"

// MaxCommentLength is the number of characters of a symbol comment that are
// carried into the output.
const MaxCommentLength = 200

// Document is the parsed symbol table of one PLC project.
type Document struct {
	// Symbols in document order
	Symbols []Symbol `json:"symbols"`

	// DataTypes in document order; later definitions shadow earlier ones
	// with the same name when a catalog is built from them.
	DataTypes []DataType `json:"data_types"`
}

// Symbol is a top-level addressable PLC variable.
type Symbol struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	IGroup  string `json:"igroup"`
	IOffset int64  `json:"ioffset"`
	BitSize int64  `json:"bit_size"`
	Comment string `json:"comment,omitempty"`
}

// DataType is a named composite type (STRUCT, FUNCTION_BLOCK, ...).
type DataType struct {
	Name     string    `json:"name"`
	BitSize  int64     `json:"bit_size"`
	SubItems []SubItem `json:"sub_items"`
}

// SubItem is one field of a DataType. BitOffset is relative to the start of
// the enclosing DataType.
type SubItem struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	BitSize   int64  `json:"bit_size"`
	BitOffset int64  `json:"bit_offset"`
	Default   string `json:"default,omitempty"`
}

// LimitComment truncates a comment to MaxCommentLength characters and
// replaces line breaks with spaces.
func LimitComment(s string) string {
	if r := []rune(s); len(r) > MaxCommentLength {
		s = string(r[:MaxCommentLength])
	}
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
