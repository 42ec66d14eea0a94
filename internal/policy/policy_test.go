package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/robert-at-pretension-io/tpy-csv/internal/facts"
)

func auditRows() []facts.Row {
	return []facts.Row{
		{Name: "Motor1", Type: "ST_Motor", BitSize: 24, IOffset: 100, ActualAddress: 100, Symbol: "Motor1"},
		{Name: "Motor1.Speed", Type: "INT", BitSize: 16, BitOffset: facts.Offset(0), Symbol: "Motor1", Depth: 1},
		{Name: "Motor1.Status", Type: "DINT", BitSize: 32, BitOffset: facts.Offset(16), Symbol: "Motor1", Depth: 1},
		{Name: "Flags", Type: "ST_Flags", BitSize: 0, Symbol: "Flags"},
		{Name: "Flags.Spare", Type: "BIT", BitSize: 0, BitOffset: facts.Offset(0), Symbol: "Flags", Depth: 1},
		{Name: "bOk", Type: "BOOL", BitSize: 8, Symbol: "bOk"},
		{Name: "Anon", Type: " ", Symbol: "Anon"},
	}
}

func TestBuildInputGroupsRowsBySymbol(t *testing.T) {
	in := BuildInput(auditRows())

	var names []string
	for _, s := range in.Symbols {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"Motor1", "Flags", "bOk", "Anon"}, names); diff != "" {
		t.Fatalf("symbols mismatch (-want +got):\n%s", diff)
	}
	if len(in.Symbols[0].Fields) != 2 || in.Symbols[0].Fields[1].BitOffset != 16 {
		t.Fatalf("unexpected Motor1 fields %+v", in.Symbols[0].Fields)
	}
	if in.Symbols[2].Fields == nil {
		t.Fatalf("expected empty, non-nil field list")
	}
}

func TestEvaluateBuiltInRules(t *testing.T) {
	ctx := context.Background()
	engine, err := New(ctx, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := engine.Evaluate(ctx, auditRows())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	type hit struct{ Rule, Name string }
	var got []hit
	for _, v := range result.Violations {
		got = append(got, hit{v.Rule, v.Name})
	}
	want := []hit{
		{"untyped_symbol", "Anon"},
		{"unsized_symbol", "Flags"},
		{"zero_size_field", "Flags.Spare"},
		{"field_exceeds_symbol", "Motor1.Status"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("violations mismatch (-want +got):\n%s", diff)
	}

	wantSummary := Summary{TotalViolations: 4, Warnings: 2, Info: 2}
	if result.Summary != wantSummary {
		t.Fatalf("summary = %+v, want %+v", result.Summary, wantSummary)
	}
}

func TestEvaluateCleanLayout(t *testing.T) {
	ctx := context.Background()
	engine, err := New(ctx, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rows := auditRows()[:2]
	result, err := engine.Evaluate(ctx, rows)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(result.Violations) != 0 || result.Summary.TotalViolations != 0 {
		t.Fatalf("expected no violations, got %+v", result)
	}
}

func TestNewLoadsPolicyDir(t *testing.T) {
	dir := t.TempDir()
	custom := `package tpy.audit

import rego.v1

violations contains v if {
	some sym in input.symbols
	startswith(sym.name, "tmp")
	v := {"rule": "temporary_symbol", "severity": "error", "symbol": sym.name, "name": sym.name, "message": "temporary symbol"}
}
`
	if err := os.WriteFile(filepath.Join(dir, "custom.rego"), []byte(custom), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx := context.Background()
	engine, err := New(ctx, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := engine.Evaluate(ctx, []facts.Row{{Name: "tmpValue", Type: "INT", BitSize: 16, Symbol: "tmpValue"}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Summary.Errors != 1 || len(result.Violations) != 1 || result.Violations[0].Rule != "temporary_symbol" {
		t.Fatalf("expected custom rule to fire, got %+v", result)
	}

	if _, err := New(ctx, t.TempDir()); err == nil {
		t.Fatalf("expected error for a policy dir without .rego files")
	}
}
