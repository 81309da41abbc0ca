package partition

import (
	"fmt"
	"querycore/pkg/primitives"
	"querycore/pkg/types"
)

// Partition names one physical data segment and its place in the table's
// partition set. The set is immutable for the duration of a query.
type Partition struct {
	ID      primitives.PartitionID
	Segment primitives.SegmentID
}

// Constraint is the predicate form pruning understands: a comparison between
// one column and one or more constant values. A multi-value constraint with
// Op == Equals is an IN list.
type Constraint struct {
	Column primitives.ColumnID
	Op     primitives.Predicate
	Values []types.Field
}

// NewConstraint builds a single-value comparison constraint.
func NewConstraint(column primitives.ColumnID, op primitives.Predicate, value types.Field) Constraint {
	return Constraint{Column: column, Op: op, Values: []types.Field{value}}
}

// NewInConstraint builds an IN-list constraint.
func NewInConstraint(column primitives.ColumnID, values ...types.Field) Constraint {
	return Constraint{Column: column, Op: primitives.Equals, Values: values}
}

// Scheme maps rows to partitions and prunes partitions against a query
// predicate. Prune is conservative: it may keep partitions a tighter
// analysis could discard, but it never discards a partition that might hold
// a qualifying row.
type Scheme interface {
	// Partitions returns the full partition set in scheme order.
	Partitions() []Partition

	// Prune returns the partitions that cannot be proven disjoint from the
	// conjunction of the given constraints. Constraints on other columns,
	// or of shapes the scheme cannot reason about, prune nothing.
	Prune(constraints []Constraint) ([]Partition, error)
}

// intersect keeps the partitions of a that also appear in b, preserving a's
// order. Used to combine per-constraint pruning results conjunctively.
func intersect(a, b []Partition) []Partition {
	inB := make(map[primitives.PartitionID]struct{}, len(b))
	for _, p := range b {
		inB[p.ID] = struct{}{}
	}

	var out []Partition
	for _, p := range a {
		if _, ok := inB[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out
}

// pruneConjunction applies per-constraint pruning and intersects the
// results, the shared skeleton for every scheme.
func pruneConjunction(s Scheme, constraints []Constraint,
	pruneOne func(Constraint) ([]Partition, error)) ([]Partition, error) {

	surviving := s.Partitions()
	for _, c := range constraints {
		if len(c.Values) == 0 {
			return nil, fmt.Errorf("constraint on column %d has no values", c.Column)
		}
		kept, err := pruneOne(c)
		if err != nil {
			return nil, err
		}
		surviving = intersect(surviving, kept)
		if len(surviving) == 0 {
			return surviving, nil
		}
	}
	return surviving, nil
}
