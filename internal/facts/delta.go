package facts

import "strings"

// Delta captures rows added and removed between two symbol file snapshots.
type Delta struct {
	Added   []Row `json:"added"`
	Removed []Row `json:"removed"`
}

// Empty reports whether both snapshots held the same rows.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// ComputeDelta computes row-level additions and removals between two
// snapshots. Rows are compared on their written columns only.
func ComputeDelta(prev, next []Row) Delta {
	return Delta{
		Added:   diffRows(prev, next, rowKey),
		Removed: diffRows(next, prev, rowKey),
	}
}

func rowKey(r Row) string {
	return strings.Join(r.Record(), "\x1f")
}

func diffRows[T any](from, to []T, key func(T) string) []T {
	fromSet := make(map[string]struct{}, len(from))
	for _, row := range from {
		fromSet[key(row)] = struct{}{}
	}
	var diff []T
	for _, row := range to {
		if _, ok := fromSet[key(row)]; !ok {
			diff = append(diff, row)
		}
	}
	if diff == nil {
		diff = []T{}
	}
	return diff
}
