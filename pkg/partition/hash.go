package partition

import (
	"fmt"

	"querycore/pkg/errs"
	"querycore/pkg/primitives"
	"querycore/pkg/types"
)

// HashScheme spreads rows across a fixed bucket count by hashing one column.
// Only equality constraints prune: a value hashes to exactly one bucket,
// while ordering predicates can land anywhere.
type HashScheme struct {
	column primitives.ColumnID
	parts  []Partition
}

// NewHashScheme builds a hash scheme with one partition per bucket.
func NewHashScheme(column primitives.ColumnID, parts []Partition) (*HashScheme, error) {
	if len(parts) == 0 {
		return nil, errs.Config("BAD_HASH_PARTITIONS", "hash scheme needs at least one partition")
	}
	return &HashScheme{column: column, parts: parts}, nil
}

func (hs *HashScheme) Partitions() []Partition {
	out := make([]Partition, len(hs.parts))
	copy(out, hs.parts)
	return out
}

// bucket maps a value to its partition index.
func (hs *HashScheme) bucket(v types.Field) (int, error) {
	h, err := v.Hash()
	if err != nil {
		return 0, fmt.Errorf("hashing partition key: %w", err)
	}
	return int(h % primitives.HashCode(len(hs.parts))), nil
}

func (hs *HashScheme) Prune(constraints []Constraint) ([]Partition, error) {
	return pruneConjunction(hs, constraints, hs.pruneOne)
}

func (hs *HashScheme) pruneOne(c Constraint) ([]Partition, error) {
	if c.Column != hs.column || c.Op != primitives.Equals {
		return hs.Partitions(), nil
	}

	var out []Partition
	seen := make(map[primitives.PartitionID]struct{})
	for _, v := range c.Values {
		if v == nil {
			return hs.Partitions(), nil
		}
		b, err := hs.bucket(v)
		if err != nil {
			return nil, err
		}
		p := hs.parts[b]
		if _, dup := seen[p.ID]; !dup {
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out, nil
}
