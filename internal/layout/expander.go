package layout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robert-at-pretension-io/tpy-csv/internal/facts"
	"github.com/robert-at-pretension-io/tpy-csv/internal/tpy"
)

// DefaultMaxDepth bounds composite nesting below a top-level symbol.
const DefaultMaxDepth = 64

var (
	// ErrTypeCycle is returned when a composite type contains itself.
	ErrTypeCycle = errors.New("composite type cycle")

	// ErrMaxDepth is returned when nesting exceeds Options.MaxDepth.
	ErrMaxDepth = errors.New("composite nesting too deep")
)

// CycleError names the chain of types that led back to an enclosing type.
type CycleError struct {
	Symbol string
	Path   []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Symbol, ErrTypeCycle, strings.Join(e.Path, " -> "))
}

// Is makes errors.Is(err, ErrTypeCycle) match.
func (e *CycleError) Is(target error) bool {
	return target == ErrTypeCycle
}

// TypeFilter gates recursive descent into a named composite type.
type TypeFilter interface {
	Allowed(typeName string) bool
}

// Options controls recursion during expansion.
type Options struct {
	// Recurse expands composite-typed symbols at every depth. When false a
	// composite symbol gets exactly one level of field rows.
	Recurse bool

	// RecurseArrays expands composite array elements. Ignored unless
	// Recurse is set.
	RecurseArrays bool

	// MaxDepth limits nesting below a symbol; <= 0 means DefaultMaxDepth.
	MaxDepth int

	// Filter decides which composite types may be descended into. Nil
	// allows all.
	Filter TypeFilter
}

// Expander turns symbols into flat rows with absolute addresses.
type Expander struct {
	catalog *Catalog
	sizes   *SizeResolver
	opts    Options
}

// NewExpander creates an expander over catalog.
func NewExpander(catalog *Catalog, opts Options) *Expander {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if !opts.Recurse {
		opts.RecurseArrays = false
	}
	return &Expander{
		catalog: catalog,
		sizes:   NewSizeResolver(catalog),
		opts:    opts,
	}
}

// Expand flattens every symbol in order.
func (e *Expander) Expand(symbols []tpy.Symbol) ([]facts.Row, error) {
	rows := make([]facts.Row, 0, len(symbols))
	for _, sym := range symbols {
		var err error
		rows, err = e.ExpandSymbol(rows, sym)
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// ExpandSymbol appends the rows for one symbol to rows: the symbol itself
// followed by its array elements or fields in pre-order.
func (e *Expander) ExpandSymbol(rows []facts.Row, sym tpy.Symbol) ([]facts.Row, error) {
	rows = append(rows, facts.Row{
		IGroup:        sym.IGroup,
		IOffset:       sym.IOffset,
		Name:          sym.Name,
		Comment:       tpy.LimitComment(sym.Comment),
		Type:          sym.Type,
		BitSize:       sym.BitSize,
		ActualAddress: sym.IOffset,
		Symbol:        sym.Name,
	})

	if arr, ok := ParseArray(sym.Type); ok {
		return e.expandArray(rows, sym, arr)
	}

	dt, ok := e.catalog.Lookup(sym.Type)
	if !ok {
		return rows, nil
	}
	w := walk{symbol: sym.Name, igroup: sym.IGroup, base: sym.IOffset}
	recurse := e.opts.Recurse && e.allowed(dt.Name)
	return e.expandFields(rows, w, sym.Name, 0, 1, dt, recurse, []string{dt.Name})
}

// walk carries the values that stay fixed below one top-level symbol.
type walk struct {
	symbol string
	igroup string
	base   int64
}

func (e *Expander) expandArray(rows []facts.Row, sym tpy.Symbol, arr ArrayType) ([]facts.Row, error) {
	count := arr.Count()
	if count <= 0 {
		return rows, nil
	}
	perElem := e.sizes.Bits(arr.Elem, sym.BitSize, count)

	var dt *tpy.DataType
	if e.opts.RecurseArrays {
		if d, ok := e.catalog.Lookup(arr.Elem); ok && e.allowed(d.Name) {
			dt = d
		}
	}

	w := walk{symbol: sym.Name, igroup: sym.IGroup, base: sym.IOffset}
	for idx := arr.Start; idx <= arr.End; idx++ {
		elemBits := (idx - arr.Start) * perElem
		addr := w.base + floorDiv(elemBits, 8)
		name := fmt.Sprintf("%s[%d]", sym.Name, idx)
		rows = append(rows, facts.Row{
			IGroup:        w.igroup,
			IOffset:       addr,
			Name:          name,
			Type:          arr.Elem,
			BitSize:       perElem,
			BitOffset:     facts.Offset(elemBits),
			ActualAddress: addr,
			Symbol:        w.symbol,
			Depth:         1,
		})

		if dt != nil {
			var err error
			rows, err = e.expandFields(rows, w, name, elemBits, 2, dt, true, []string{dt.Name})
			if err != nil {
				return nil, err
			}
		}
	}
	return rows, nil
}

// expandFields emits one row per field of dt at the given depth. parentBits
// is the absolute bit offset of dt's instance from the symbol base; chain
// lists the composite types currently being expanded, dt last.
func (e *Expander) expandFields(rows []facts.Row, w walk, parent string, parentBits int64, depth int, dt *tpy.DataType, recurse bool, chain []string) ([]facts.Row, error) {
	if depth > e.opts.MaxDepth {
		return nil, fmt.Errorf("%s: %w (%d levels)", w.symbol, ErrMaxDepth, e.opts.MaxDepth)
	}

	for _, si := range dt.SubItems {
		absBits := parentBits + si.BitOffset
		addr := w.base + floorDiv(absBits, 8)
		name := Qualify(parent, si.Name)
		rows = append(rows, facts.Row{
			IGroup:        w.igroup,
			IOffset:       addr,
			Name:          name,
			Type:          si.Type,
			BitSize:       si.BitSize,
			BitOffset:     facts.Offset(absBits),
			DefaultValue:  si.Default,
			ActualAddress: addr,
			Symbol:        w.symbol,
			Depth:         depth,
		})

		if !recurse {
			continue
		}
		child, ok := e.catalog.Lookup(si.Type)
		if !ok || !e.allowed(child.Name) {
			continue
		}
		for _, seen := range chain {
			if seen == child.Name {
				path := append(append([]string{}, chain...), child.Name)
				return nil, &CycleError{Symbol: w.symbol, Path: path}
			}
		}

		var err error
		rows, err = e.expandFields(rows, w, name, absBits, depth+1, child, true, append(chain, child.Name))
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (e *Expander) allowed(typeName string) bool {
	return e.opts.Filter == nil || e.opts.Filter.Allowed(typeName)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
