package tpy

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

// ErrMalformed reports an input document that cannot be turned into symbols.
var ErrMalformed = errors.New("malformed tpy document")

type xmlSymbol struct {
	Name    string `xml:"Name"`
	Type    string `xml:"Type"`
	IGroup  string `xml:"IGroup"`
	IOffset string `xml:"IOffset"`
	BitSize string `xml:"BitSize"`
	Comment string `xml:"Comment"`
}

type xmlDataType struct {
	Name     string       `xml:"Name"`
	BitSize  string       `xml:"BitSize"`
	SubItems []xmlSubItem `xml:"SubItem"`
}

type xmlSubItem struct {
	Name    string `xml:"Name"`
	Type    string `xml:"Type"`
	BitSize string `xml:"BitSize"`
	BitOffs string `xml:"BitOffs"`
	Default string `xml:"Default>Value"`
}

// ParseFile opens and parses a .tpy file.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	doc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}

// Parse reads a TPY XML document. Every DataType element directly below a
// DataTypes element and every Symbol element, at any depth, is collected in
// document order.
func Parse(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	doc := &Document{
		Symbols:   []Symbol{},
		DataTypes: []DataType{},
	}
	var stack []string
	seenRoot := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			seenRoot = true
			parent := ""
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			}
			switch {
			case t.Name.Local == "DataType" && parent == "DataTypes":
				var x xmlDataType
				if err := dec.DecodeElement(&x, &t); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
				}
				dt, err := x.convert()
				if err != nil {
					return nil, err
				}
				doc.DataTypes = append(doc.DataTypes, dt)
			case t.Name.Local == "Symbol":
				var x xmlSymbol
				if err := dec.DecodeElement(&x, &t); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
				}
				sym, err := x.convert()
				if err != nil {
					return nil, err
				}
				doc.Symbols = append(doc.Symbols, sym)
			default:
				stack = append(stack, t.Name.Local)
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !seenRoot {
		return nil, fmt.Errorf("%w: no root element", ErrMalformed)
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: unclosed element %s", ErrMalformed, stack[len(stack)-1])
	}
	return doc, nil
}

func (x xmlSymbol) convert() (Symbol, error) {
	ioffset, err := parseInt(x.IOffset)
	if err != nil {
		return Symbol{}, fmt.Errorf("%w: symbol %q IOffset: %v", ErrMalformed, x.Name, err)
	}
	bits, err := parseInt(x.BitSize)
	if err != nil {
		return Symbol{}, fmt.Errorf("%w: symbol %q BitSize: %v", ErrMalformed, x.Name, err)
	}
	return Symbol{
		Name:    x.Name,
		Type:    x.Type,
		IGroup:  x.IGroup,
		IOffset: ioffset,
		BitSize: bits,
		Comment: x.Comment,
	}, nil
}

func (x xmlDataType) convert() (DataType, error) {
	// A broken DataType size only disables the catalog size lookup.
	bits, err := parseInt(x.BitSize)
	if err != nil {
		bits = 0
	}
	dt := DataType{
		Name:     x.Name,
		BitSize:  bits,
		SubItems: make([]SubItem, 0, len(x.SubItems)),
	}
	for _, si := range x.SubItems {
		item, err := si.convert(x.Name)
		if err != nil {
			return DataType{}, err
		}
		dt.SubItems = append(dt.SubItems, item)
	}
	return dt, nil
}

func (x xmlSubItem) convert(owner string) (SubItem, error) {
	bits, err := parseInt(x.BitSize)
	if err != nil {
		return SubItem{}, fmt.Errorf("%w: %s.%s BitSize: %v", ErrMalformed, owner, x.Name, err)
	}
	offs, err := parseInt(x.BitOffs)
	if err != nil {
		return SubItem{}, fmt.Errorf("%w: %s.%s BitOffs: %v", ErrMalformed, owner, x.Name, err)
	}
	return SubItem{
		Name:      x.Name,
		Type:      x.Type,
		BitSize:   bits,
		BitOffset: offs,
		Default:   x.Default,
	}, nil
}

// parseInt treats an absent or blank field as 0.
func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
