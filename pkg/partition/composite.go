package partition

import (
	"querycore/pkg/errs"
	"querycore/pkg/primitives"
)

// CompositeScheme layers two schemes: an outer scheme picks a group of
// leaf partitions and an inner scheme per group picks within it. The usual
// shape is range on one column subdivided by hash on another, but any
// scheme pair works. Pruning narrows with the outer scheme first, then
// prunes each surviving group with its own inner scheme.
type CompositeScheme struct {
	outer Scheme
	inner map[primitives.PartitionID]Scheme
}

// NewCompositeScheme builds a composite scheme. Every partition the outer
// scheme can return must have an inner scheme keyed by its ID.
func NewCompositeScheme(outer Scheme, inner map[primitives.PartitionID]Scheme) (*CompositeScheme, error) {
	if outer == nil {
		return nil, errs.Config("BAD_COMPOSITE", "composite scheme needs an outer scheme")
	}
	for _, p := range outer.Partitions() {
		if inner[p.ID] == nil {
			return nil, errs.Config("BAD_COMPOSITE",
				"outer partition %d has no inner scheme", p.ID)
		}
	}
	return &CompositeScheme{outer: outer, inner: inner}, nil
}

func (cs *CompositeScheme) Partitions() []Partition {
	var out []Partition
	for _, g := range cs.outer.Partitions() {
		out = append(out, cs.inner[g.ID].Partitions()...)
	}
	return out
}

func (cs *CompositeScheme) Prune(constraints []Constraint) ([]Partition, error) {
	groups, err := cs.outer.Prune(constraints)
	if err != nil {
		return nil, err
	}

	var out []Partition
	for _, g := range groups {
		kept, err := cs.inner[g.ID].Prune(constraints)
		if err != nil {
			return nil, err
		}
		out = append(out, kept...)
	}
	return out, nil
}
