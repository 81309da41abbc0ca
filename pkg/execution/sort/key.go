// Package sort provides the ordering operator: multi-key in-memory sorting
// with per-column direction and null placement, spilling to sorted run files
// merged with a bounded fan-in when the input exceeds the memory budget.
package sort

import (
	"fmt"

	"querycore/pkg/errs"
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

// SortKey orders one column. Null placement is independent of direction:
// NullsFirst emits nulls first in the output whether the column is ascending
// or descending.
type SortKey struct {
	Column       int
	Descending   bool
	NullOrdering types.NullOrdering
}

// validateKeys rejects sort directives the schema cannot satisfy.
func validateKeys(keys []SortKey, td *tuple.TupleDescription) error {
	if len(keys) == 0 {
		return errs.Config("NO_SORT_KEYS", "sort requires at least one key")
	}
	for i, k := range keys {
		if k.Column < 0 || k.Column >= td.NumFields() {
			return errs.Config("BAD_SORT_COLUMN",
				"sort key %d names column %d, schema has %d columns", i, k.Column, td.NumFields())
		}
	}
	return nil
}

// compareTuples orders two rows by the key list. The first key that
// disagrees decides; equal rows compare as 0.
func compareTuples(a, b *tuple.Tuple, keys []SortKey) (int, error) {
	for _, k := range keys {
		af, err := a.GetField(k.Column)
		if err != nil {
			return 0, fmt.Errorf("sort column %d: %w", k.Column, err)
		}
		bf, err := b.GetField(k.Column)
		if err != nil {
			return 0, fmt.Errorf("sort column %d: %w", k.Column, err)
		}

		c, err := types.CompareFields(af, bf, k.NullOrdering)
		if err != nil {
			return 0, fmt.Errorf("sort column %d: %w", k.Column, err)
		}
		if c == 0 {
			continue
		}

		// direction flips value order only; null placement stays put
		if k.Descending && af != nil && bf != nil {
			c = -c
		}
		return c, nil
	}
	return 0, nil
}
