// tpy-debug shows how a type expression is sized and expanded against the
// data types of a .tpy file.
//
//	tpy-debug plc.tpy "ARRAY [1..4] OF ST_Valve"
package main

import (
	"fmt"
	"os"

	"github.com/robert-at-pretension-io/tpy-csv/internal/layout"
	"github.com/robert-at-pretension-io/tpy-csv/internal/tpy"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "Usage: tpy-debug <input.tpy> <type>")
		os.Exit(1)
	}

	doc, err := tpy.ParseFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	catalog := layout.NewCatalog(doc.DataTypes)
	sizes := layout.NewSizeResolver(catalog)
	typeExpr := os.Args[2]

	fmt.Printf("type %q: %d bits\n", typeExpr, sizes.Bits(typeExpr, 0, 0))

	if arr, ok := layout.ParseArray(typeExpr); ok {
		fmt.Printf("  array [%d..%d] of %q, %d elements of %d bits\n",
			arr.Start, arr.End, arr.Elem, arr.Count(), sizes.Bits(arr.Elem, 0, arr.Count()))
		typeExpr = arr.Elem
	}

	dt, ok := catalog.Lookup(typeExpr)
	if !ok {
		fmt.Printf("  %q is not a catalog type\n", typeExpr)
		return
	}
	fmt.Printf("  %s: %d bits, %d fields\n", dt.Name, dt.BitSize, len(dt.SubItems))
	for i, item := range dt.SubItems {
		fmt.Printf("  [%d] %s type=%s bits=%d offset=%d default=%q\n",
			i, item.Name, item.Type, item.BitSize, item.BitOffset, item.Default)
	}

	// Expand a zero-based symbol of the type to show the resulting rows.
	rows, err := layout.NewExpander(catalog, layout.Options{Recurse: true, RecurseArrays: true}).
		Expand([]tpy.Symbol{{Name: "X", Type: os.Args[2]}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, r := range rows {
		fmt.Printf("  %-40s addr=%-6d bits=%-5d depth=%d\n", r.Name, r.ActualAddress, r.BitSize, r.Depth)
	}
}
