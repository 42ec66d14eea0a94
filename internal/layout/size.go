package layout

import (
	"regexp"
	"strconv"
	"strings"
)

// MinBits is the width used when nothing better is known.
const MinBits = 8

// Fixed IEC 61131-3 widths. BOOL is byte aligned.
var primitiveBits = map[string]int64{
	"BOOL": 8, "BYTE": 8, "SINT": 8, "USINT": 8,
	"WORD": 16, "INT": 16, "UINT": 16,
	"DWORD": 32, "DINT": 32, "UDINT": 32, "REAL": 32,
	"LWORD": 64, "LINT": 64, "ULINT": 64, "LREAL": 64,
}

// TwinCAT time and date types
var specialBits = map[string]int64{
	"TIME":          32,
	"DATE_AND_TIME": 32,
	"DATE":          16,
	"TIME_OF_DAY":   32,
	"TOD":           32,
	"DT":            32,
	"LTIME":         64,
	"LDATE":         32,
}

var (
	stringPattern = regexp.MustCompile(`(?i)^(W?STRING)\s*\(\s*(\d+)\s*\)$`)
	arrayPattern  = regexp.MustCompile(`(?i)^(?:.*)?\s*ARRAY\s*\[\s*(-?\d+)\s*\.\.\s*(-?\d+)\s*\]\s*OF\s*(.+)$`)
)

// ArrayType is a parsed one-dimensional ARRAY[start..end] OF elem expression.
type ArrayType struct {
	Start int64
	End   int64
	Elem  string
}

// Count returns the number of elements, 0 for an inverted range.
func (a ArrayType) Count() int64 {
	if a.End < a.Start {
		return 0
	}
	return a.End - a.Start + 1
}

// ParseArray recognizes an array type expression.
func ParseArray(typeExpr string) (ArrayType, bool) {
	m := arrayPattern.FindStringSubmatch(typeExpr)
	if m == nil {
		return ArrayType{}, false
	}
	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return ArrayType{}, false
	}
	end, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return ArrayType{}, false
	}
	return ArrayType{Start: start, End: end, Elem: strings.TrimSpace(m[3])}, true
}

// StringBits returns the storage width of a STRING(n) or WSTRING(n) type,
// including the terminator.
func StringBits(typeExpr string) (int64, bool) {
	m := stringPattern.FindStringSubmatch(strings.TrimSpace(typeExpr))
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, false
	}
	bytesPerChar := int64(1)
	if strings.EqualFold(m[1], "WSTRING") {
		bytesPerChar = 2
	}
	return (n + 1) * bytesPerChar * 8, true
}

// SizeResolver computes the bit width of a type expression.
type SizeResolver struct {
	catalog *Catalog
}

// NewSizeResolver returns a resolver backed by catalog, which may be nil.
func NewSizeResolver(catalog *Catalog) *SizeResolver {
	return &SizeResolver{catalog: catalog}
}

// Bits resolves typeExpr to a width in bits. Primitive, string and time
// types come from fixed tables; composite types use their catalog size.
// Otherwise totalBits/count is used when both are known, and MinBits as a
// last resort. The result is always positive.
func (r *SizeResolver) Bits(typeExpr string, totalBits, count int64) int64 {
	base := strings.TrimSpace(typeExpr)
	if base == "" {
		return MinBits
	}
	upper := strings.ToUpper(base)

	if b, ok := primitiveBits[upper]; ok {
		return b
	}
	if b, ok := StringBits(base); ok {
		return b
	}
	if b, ok := specialBits[upper]; ok {
		return b
	}
	if b := r.catalog.Bits(base); b > 0 {
		return b
	}
	if totalBits > 0 && count > 0 {
		return max(MinBits, totalBits/count)
	}
	return MinBits
}
