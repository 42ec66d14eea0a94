package layout

import (
	"testing"

	"github.com/robert-at-pretension-io/tpy-csv/internal/tpy"
)

func TestSizeResolverBits(t *testing.T) {
	catalog := NewCatalog([]tpy.DataType{
		{Name: "ST_Motor", BitSize: 24},
		{Name: "ST_Unsized"},
	})
	r := NewSizeResolver(catalog)

	tests := []struct {
		typ   string
		total int64
		count int64
		want  int64
	}{
		{"BOOL", 0, 0, 8},
		{"bool", 0, 0, 8},
		{"  INT ", 0, 0, 16},
		{"UDINT", 0, 0, 32},
		{"REAL", 0, 0, 32},
		{"LREAL", 0, 0, 64},
		{"STRING(80)", 0, 0, 648},
		{"string ( 10 )", 0, 0, 88},
		{"WSTRING(10)", 0, 0, 176},
		{"TIME", 0, 0, 32},
		{"date", 0, 0, 16},
		{"LTIME", 0, 0, 64},
		{"TOD", 0, 0, 32},
		{"ST_Motor", 0, 0, 24},
		{"ST_Motor", 480, 10, 24},
		{"ST_Unsized", 480, 10, 48},
		{"FB_Unknown", 320, 10, 32},
		{"FB_Unknown", 40, 10, 8},
		{"FB_Unknown", 0, 10, 8},
		{"FB_Unknown", 320, 0, 8},
		{"", 320, 10, 8},
		{"   ", 0, 0, 8},
	}

	for _, tt := range tests {
		if got := r.Bits(tt.typ, tt.total, tt.count); got != tt.want {
			t.Errorf("Bits(%q, %d, %d) = %d, want %d", tt.typ, tt.total, tt.count, got, tt.want)
		}
	}
}

func TestSizeResolverNilCatalog(t *testing.T) {
	r := NewSizeResolver(nil)
	if got := r.Bits("ST_Motor", 0, 0); got != MinBits {
		t.Fatalf("expected %d, got %d", MinBits, got)
	}
}

func TestParseArray(t *testing.T) {
	tests := []struct {
		typ   string
		ok    bool
		want  ArrayType
		count int64
	}{
		{"ARRAY[0..2] OF BOOL", true, ArrayType{0, 2, "BOOL"}, 3},
		{"ARRAY [1..10] OF ST_Motor", true, ArrayType{1, 10, "ST_Motor"}, 10},
		{"array[ 5 .. 5 ]of int", true, ArrayType{5, 5, "int"}, 1},
		{"ARRAY[3..1] OF INT", true, ArrayType{3, 1, "INT"}, 0},
		{"ARRAY[-2..2] OF INT", true, ArrayType{-2, 2, "INT"}, 5},
		{"ARRAY[0..3] OF STRING(20) ", true, ArrayType{0, 3, "STRING(20)"}, 4},
		{"INT", false, ArrayType{}, 0},
		{"ARRAY[0..1, 0..2] OF INT", false, ArrayType{}, 0},
	}

	for _, tt := range tests {
		got, ok := ParseArray(tt.typ)
		if ok != tt.ok {
			t.Fatalf("ParseArray(%q) ok = %v, want %v", tt.typ, ok, tt.ok)
		}
		if !ok {
			continue
		}
		if got != tt.want {
			t.Fatalf("ParseArray(%q) = %+v, want %+v", tt.typ, got, tt.want)
		}
		if got.Count() != tt.count {
			t.Fatalf("ParseArray(%q).Count() = %d, want %d", tt.typ, got.Count(), tt.count)
		}
	}
}

func TestCatalogLastDefinitionWins(t *testing.T) {
	c := NewCatalog([]tpy.DataType{
		{Name: "ST_A", BitSize: 8},
		{Name: ""},
		{Name: "ST_A", BitSize: 16},
	})
	if c.Len() != 1 {
		t.Fatalf("expected 1 type, got %d", c.Len())
	}
	if c.Bits("ST_A") != 16 {
		t.Fatalf("expected later definition, got %d bits", c.Bits("ST_A"))
	}
	if _, ok := c.Lookup("ST_B"); ok {
		t.Fatalf("unexpected lookup hit")
	}
}

func TestCatalogLookupIgnoresSurroundingSpace(t *testing.T) {
	c := NewCatalog([]tpy.DataType{{Name: "ST_Motor", BitSize: 24}})

	if dt, ok := c.Lookup(" ST_Motor\t"); !ok || dt.Name != "ST_Motor" {
		t.Fatalf("expected padded name to resolve, got %v %v", dt, ok)
	}
	if _, ok := c.Lookup("st_motor"); ok {
		t.Fatalf("lookup must stay case sensitive")
	}
	if _, ok := c.Lookup("ST_Mot or"); ok {
		t.Fatalf("inner whitespace must not be ignored")
	}
}
