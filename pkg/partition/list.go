package partition

import (
	"querycore/pkg/errs"
	"querycore/pkg/primitives"
	"querycore/pkg/types"
)

// ListScheme routes rows by explicit value membership on one column. Each
// partition owns a fixed value list; an optional default partition catches
// values outside every list (and null values).
type ListScheme struct {
	column     primitives.ColumnID
	parts      []Partition
	byValue    map[string]Partition
	defaultSet bool
	defaultP   Partition
}

// NewListScheme builds a list scheme from per-partition value lists. Values
// must be non-null, share one type and appear in at most one list.
func NewListScheme(column primitives.ColumnID, valueLists [][]types.Field, parts []Partition) (*ListScheme, error) {
	if len(valueLists) != len(parts) {
		return nil, errs.Config("BAD_LIST_PARTITIONS",
			"list scheme needs one value list per partition, got %d lists for %d partitions",
			len(valueLists), len(parts))
	}

	ls := &ListScheme{
		column:  column,
		parts:   parts,
		byValue: make(map[string]Partition),
	}

	var valueType types.Type
	typed := false
	for i, list := range valueLists {
		if len(list) == 0 {
			return nil, errs.Config("BAD_LIST_VALUES", "partition %d has an empty value list", i)
		}
		for _, v := range list {
			if v == nil {
				return nil, errs.Config("BAD_LIST_VALUES", "partition %d lists a null value", i)
			}
			if !typed {
				valueType = v.Type()
				typed = true
			} else if v.Type() != valueType {
				return nil, errs.Config("BAD_LIST_VALUES",
					"partition %d mixes value types %v and %v", i, valueType, v.Type())
			}
			key := v.String()
			if _, dup := ls.byValue[key]; dup {
				return nil, errs.Config("BAD_LIST_VALUES",
					"value %s appears in more than one partition", key)
			}
			ls.byValue[key] = parts[i]
		}
	}
	return ls, nil
}

// WithDefault adds a catch-all partition for values outside every list.
func (ls *ListScheme) WithDefault(p Partition) *ListScheme {
	ls.defaultSet = true
	ls.defaultP = p
	return ls
}

func (ls *ListScheme) Partitions() []Partition {
	out := make([]Partition, 0, len(ls.parts)+1)
	out = append(out, ls.parts...)
	if ls.defaultSet {
		out = append(out, ls.defaultP)
	}
	return out
}

func (ls *ListScheme) Prune(constraints []Constraint) ([]Partition, error) {
	return pruneConjunction(ls, constraints, ls.pruneOne)
}

func (ls *ListScheme) pruneOne(c Constraint) ([]Partition, error) {
	if c.Column != ls.column || c.Op != primitives.Equals {
		// ordering predicates say nothing about arbitrary value lists
		return ls.Partitions(), nil
	}

	var out []Partition
	seen := make(map[primitives.PartitionID]struct{})
	keep := func(p Partition) {
		if _, dup := seen[p.ID]; !dup {
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}

	for _, v := range c.Values {
		if v == nil {
			return ls.Partitions(), nil
		}
		if p, ok := ls.byValue[v.String()]; ok {
			keep(p)
		} else if ls.defaultSet {
			keep(ls.defaultP)
		}
	}
	return out, nil
}
