// Package differ computes the structural difference between two
// snapshot content-hash maps.
package differ

import (
	"sort"

	"github.com/fathomdata/trellis/internal/types"
)

// Diff compares previous and current {model name -> content hash}
// maps. Output lists are sorted. Because content hashes cover
// normalized SQL, cosmetic-only edits never show up as modifications.
func Diff(previous, current map[string]string) *types.DiffResult {
	result := &types.DiffResult{}
	for name, hash := range current {
		prev, existed := previous[name]
		switch {
		case !existed:
			result.Added = append(result.Added, name)
		case prev != hash:
			result.Modified = append(result.Modified, name)
		}
	}
	for name := range previous {
		if _, still := current[name]; !still {
			result.Removed = append(result.Removed, name)
		}
	}
	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	sort.Strings(result.Modified)
	return result
}
