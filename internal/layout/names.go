package layout

import "strings"

// Qualify joins parent and child into a dotted path. A child that already
// carries the parent prefix is returned unchanged, so qualifying twice is a
// no-op.
func Qualify(parent, child string) string {
	if parent == "" {
		return child
	}
	if strings.HasPrefix(child, parent+".") {
		return child
	}
	if child == "" {
		return parent
	}
	return parent + "." + child
}
