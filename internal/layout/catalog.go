// Package layout flattens PLC symbols into addressable rows by resolving
// type widths and walking array and composite type definitions.
package layout

import (
	"strings"

	"github.com/robert-at-pretension-io/tpy-csv/internal/tpy"
)

// Catalog maps composite type names to their definitions. It is read-only
// once built.
type Catalog struct {
	types map[string]*tpy.DataType
}

// NewCatalog indexes data types by name. Unnamed definitions are ignored and
// a later definition replaces an earlier one with the same name.
func NewCatalog(types []tpy.DataType) *Catalog {
	c := &Catalog{types: make(map[string]*tpy.DataType, len(types))}
	for i := range types {
		dt := &types[i]
		if dt.Name == "" {
			continue
		}
		c.types[dt.Name] = dt
	}
	return c
}

// Lookup returns the definition of a composite type. Surrounding whitespace
// in name is ignored; otherwise names match exactly, case included.
func (c *Catalog) Lookup(name string) (*tpy.DataType, bool) {
	if c == nil {
		return nil, false
	}
	dt, ok := c.types[strings.TrimSpace(name)]
	return dt, ok
}

// Bits returns the recorded total size of a composite type, 0 if the type is
// unknown or has no size.
func (c *Catalog) Bits(name string) int64 {
	if dt, ok := c.Lookup(name); ok {
		return dt.BitSize
	}
	return 0
}

// Len returns the number of distinct type names.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.types)
}
