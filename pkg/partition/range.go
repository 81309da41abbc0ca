package partition

import (
	"fmt"

	"github.com/google/btree"

	"querycore/pkg/errs"
	"querycore/pkg/primitives"
	"querycore/pkg/types"
)

// rangeItem is one partition's slot in the ordered bound directory.
// upper is the exclusive upper bound (nil = unbounded above); lower is the
// inclusive lower bound inherited from the previous bound (nil = unbounded
// below).
type rangeItem struct {
	pos   int
	lower types.Field
	upper types.Field
	part  Partition
}

// rangeItemLess orders the directory by upper bound. Bound types are
// validated at construction, so the field comparison cannot fail here.
func rangeItemLess(a, b *rangeItem) bool {
	if a.upper == nil {
		return false
	}
	if b.upper == nil {
		return true
	}
	cmp, err := a.upper.Cmp(b.upper)
	if err != nil {
		return false
	}
	if cmp != 0 {
		return cmp < 0
	}
	return a.pos < b.pos
}

// RangeScheme partitions rows by consecutive value ranges on one column.
// Partition i covers [bound(i-1), bound(i)); the last partition is unbounded
// above. Pruning binary-searches the ordered bound directory for the
// sub-range overlapping the constraint's interval.
type RangeScheme struct {
	column primitives.ColumnID
	items  []*rangeItem
	dir    *btree.BTreeG[*rangeItem]
}

// NewRangeScheme builds a range scheme. upperBounds[i] is the exclusive
// upper bound of parts[i]; the final partition takes everything at or above
// the last bound, so len(parts) must be len(upperBounds)+1. Bounds must be
// strictly ascending and share one type.
func NewRangeScheme(column primitives.ColumnID, upperBounds []types.Field, parts []Partition) (*RangeScheme, error) {
	if len(parts) != len(upperBounds)+1 {
		return nil, errs.Config("BAD_RANGE_PARTITIONS",
			"range scheme needs exactly one more partition (%d) than bounds (%d)",
			len(parts), len(upperBounds))
	}

	for i, b := range upperBounds {
		if b == nil {
			return nil, errs.Config("BAD_RANGE_BOUND", "range bound %d is null", i)
		}
		if i > 0 {
			cmp, err := upperBounds[i-1].Cmp(b)
			if err != nil {
				return nil, errs.Config("BAD_RANGE_BOUND", "range bounds disagree on type: %v", err)
			}
			if cmp >= 0 {
				return nil, errs.Config("BAD_RANGE_BOUND",
					"range bounds must be strictly ascending, bound %d is not", i)
			}
		}
	}

	rs := &RangeScheme{
		column: column,
		dir:    btree.NewG[*rangeItem](2, rangeItemLess),
	}

	for i, p := range parts {
		item := &rangeItem{pos: i, part: p}
		if i > 0 {
			item.lower = upperBounds[i-1]
		}
		if i < len(upperBounds) {
			item.upper = upperBounds[i]
		}
		rs.items = append(rs.items, item)
		rs.dir.ReplaceOrInsert(item)
	}
	return rs, nil
}

func (rs *RangeScheme) Partitions() []Partition {
	out := make([]Partition, len(rs.items))
	for i, item := range rs.items {
		out[i] = item.part
	}
	return out
}

func (rs *RangeScheme) Prune(constraints []Constraint) ([]Partition, error) {
	return pruneConjunction(rs, constraints, rs.pruneOne)
}

func (rs *RangeScheme) pruneOne(c Constraint) ([]Partition, error) {
	if c.Column != rs.column {
		return rs.Partitions(), nil
	}

	switch c.Op {
	case primitives.Equals:
		// covers IN lists too: union of the per-value equality prunes
		var out []Partition
		seen := make(map[primitives.PartitionID]struct{})
		for _, v := range c.Values {
			if v == nil {
				return rs.Partitions(), nil
			}
			kept, err := rs.overlapping(v, v)
			if err != nil {
				return nil, err
			}
			for _, p := range kept {
				if _, dup := seen[p.ID]; !dup {
					seen[p.ID] = struct{}{}
					out = append(out, p)
				}
			}
		}
		return out, nil

	case primitives.LessThan, primitives.LessThanOrEqual:
		if c.Values[0] == nil {
			return rs.Partitions(), nil
		}
		return rs.overlapping(nil, c.Values[0])

	case primitives.GreaterThan, primitives.GreaterThanOrEqual:
		if c.Values[0] == nil {
			return rs.Partitions(), nil
		}
		return rs.overlapping(c.Values[0], nil)

	default:
		// NotEqual excludes a point, which proves nothing about a range.
		return rs.Partitions(), nil
	}
}

// overlapping returns the partitions whose [lower, upper) range intersects
// the closed interval [lo, hi]; nil bounds are unbounded. The search starts
// at the first directory entry whose upper bound exceeds lo and stops once a
// partition's lower bound passes hi.
func (rs *RangeScheme) overlapping(lo, hi types.Field) ([]Partition, error) {
	var out []Partition
	var iterErr error

	visit := func(item *rangeItem) bool {
		if hi != nil && item.lower != nil {
			cmp, err := item.lower.Cmp(hi)
			if err != nil {
				iterErr = fmt.Errorf("range prune bound comparison: %w", err)
				return false
			}
			if cmp > 0 {
				return false
			}
		}
		out = append(out, item.part)
		return true
	}

	if lo == nil {
		rs.dir.Ascend(visit)
	} else {
		// pivot sorts after every item with upper == lo, which is correct
		// because an exclusive upper bound equal to lo cannot contain lo
		pivot := &rangeItem{upper: lo, pos: len(rs.items)}
		rs.dir.AscendGreaterOrEqual(pivot, visit)
	}

	if iterErr != nil {
		return nil, iterErr
	}
	return out, nil
}
