package facts

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRecordColumns(t *testing.T) {
	tests := []struct {
		name string
		row  Row
		want []string
	}{
		{
			name: "top_level",
			row:  Row{IGroup: "16416", IOffset: 100, Name: "Motor1", Comment: "drive", Type: "ST_Motor", BitSize: 24, ActualAddress: 100},
			want: []string{"16416", "100", "Motor1", "drive", "ST_Motor", "24", "", "", "100"},
		},
		{
			name: "nested",
			row:  Row{IGroup: "16416", IOffset: 102, Name: "Motor1.Status", Type: "BOOL", BitSize: 8, BitOffset: Offset(16), DefaultValue: "TRUE", ActualAddress: 102},
			want: []string{"16416", "102", "Motor1.Status", "", "BOOL", "8", "16", "TRUE", "102"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.row.Record()
			if len(got) != len(Columns) {
				t.Fatalf("expected %d columns, got %d", len(Columns), len(got))
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("record mismatch (-want +got):\n%s", diff)
			}

			back, err := ParseRecord(got)
			if err != nil {
				t.Fatalf("ParseRecord: %v", err)
			}
			if diff := cmp.Diff(tt.row, back); diff != "" {
				t.Fatalf("parsed row mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseRecordErrors(t *testing.T) {
	if _, err := ParseRecord([]string{"a", "b"}); err == nil {
		t.Fatalf("expected field count error")
	}
	if _, err := ParseRecord([]string{"1", "x", "n", "", "INT", "16", "", "", "0"}); err == nil {
		t.Fatalf("expected IOffset error")
	}
	if _, err := ParseRecord([]string{"1", "0", "n", "", "INT", "16", "zz", "", "0"}); err == nil {
		t.Fatalf("expected BitOffs error")
	}
}
