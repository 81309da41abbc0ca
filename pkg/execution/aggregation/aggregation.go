package aggregation

import (
	"bytes"
	"fmt"

	"querycore/pkg/errs"
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

// Aggregate names one aggregate function applied to one input column.
type Aggregate struct {
	Op     Op
	Column int
}

// layout is the validated shape shared by both aggregate operators: group
// columns, aggregate list and the derived output schema (group columns
// first, one column per aggregate after).
type layout struct {
	groupCols []int
	aggs      []Aggregate
	inDesc    *tuple.TupleDescription
	outDesc   *tuple.TupleDescription
}

// newLayout validates the grouping directive against the child schema.
// Failures are configuration errors raised before any row is pulled.
func newLayout(in *tuple.TupleDescription, groupCols []int, aggs []Aggregate) (*layout, error) {
	if in == nil {
		return nil, fmt.Errorf("input schema cannot be nil")
	}
	if len(aggs) == 0 {
		return nil, errs.Config("BAD_AGGREGATE", "aggregation requires at least one aggregate")
	}

	var outTypes []types.Type
	var outNames []string

	for _, c := range groupCols {
		ft, err := in.TypeAtIndex(c)
		if err != nil {
			return nil, errs.Config("BAD_GROUP_COLUMN", "group column %d: %v", c, err)
		}
		name, _ := in.GetFieldName(c)
		outTypes = append(outTypes, ft)
		outNames = append(outNames, name)
	}

	for _, a := range aggs {
		ft, err := in.TypeAtIndex(a.Column)
		if err != nil {
			return nil, errs.Config("BAD_AGGREGATE", "aggregate column %d: %v", a.Column, err)
		}
		rt, err := resultType(a.Op, ft)
		if err != nil {
			return nil, err
		}
		name, _ := in.GetFieldName(a.Column)
		outTypes = append(outTypes, rt)
		outNames = append(outNames, fmt.Sprintf("%s(%s)", a.Op, name))
	}

	outDesc, err := tuple.NewTupleDesc(outTypes, outNames)
	if err != nil {
		return nil, err
	}

	return &layout{
		groupCols: groupCols,
		aggs:      aggs,
		inDesc:    in,
		outDesc:   outDesc,
	}, nil
}

// OutputDesc derives the schema an aggregation with these directives
// produces: group columns first, one column per aggregate after. View
// maintenance shares it with the operators.
func OutputDesc(in *tuple.TupleDescription, groupCols []int, aggs []Aggregate) (*tuple.TupleDescription, error) {
	l, err := newLayout(in, groupCols, aggs)
	if err != nil {
		return nil, err
	}
	return l.outDesc, nil
}

// GroupKey renders a group key as an exact map key, nulls included.
func GroupKey(fields []types.Field) (string, error) {
	return encodeGroupKey(fields)
}

// keyFieldsOf extracts the group key of one row. Null fields stay nil;
// null groups with null.
func (l *layout) keyFieldsOf(t *tuple.Tuple) ([]types.Field, error) {
	out := make([]types.Field, len(l.groupCols))
	for i, c := range l.groupCols {
		f, err := t.GetField(c)
		if err != nil {
			return nil, fmt.Errorf("group column %d: %w", c, err)
		}
		out[i] = f
	}
	return out, nil
}

// encodeGroupKey renders a group key, nulls included, as an exact map key.
// A one-byte null flag precedes each field, matching the tuple codec.
func encodeGroupKey(fields []types.Field) (string, error) {
	var buf bytes.Buffer
	for _, f := range fields {
		if f == nil {
			buf.WriteByte(0)
			continue
		}
		buf.WriteByte(1)
		if err := f.Serialize(&buf); err != nil {
			return "", fmt.Errorf("failed to encode group key: %w", err)
		}
	}
	return buf.String(), nil
}

// groupHash folds a group key for spill partitioning, nulls hashing as a
// fixed sentinel. depth perturbs the fold like the join's grace hash.
func groupHash(fields []types.Field, depth int) (uint64, error) {
	const prime = 0x100000001b3
	h := uint64(depth)*prime + 0xcbf29ce484222325
	for _, f := range fields {
		if f == nil {
			h = (h ^ 0x9e3779b97f4a7c15) * prime
			continue
		}
		fh, err := f.Hash()
		if err != nil {
			return 0, fmt.Errorf("failed to hash group key: %w", err)
		}
		h = (h ^ uint64(fh)) * prime
	}
	return h, nil
}

// groupState is one live group: its key and one accumulator per aggregate.
type groupState struct {
	key  []types.Field
	accs []accumulator
}

// newGroup seats the accumulators for one fresh group.
func (l *layout) newGroup(key []types.Field) *groupState {
	accs := make([]accumulator, len(l.aggs))
	for i, a := range l.aggs {
		ft, _ := l.inDesc.TypeAtIndex(a.Column)
		accs[i] = newAccumulator(a.Op, ft)
	}
	return &groupState{key: key, accs: accs}
}

// absorb folds one row into the group.
func (g *groupState) absorb(l *layout, t *tuple.Tuple) error {
	for i, a := range l.aggs {
		f, err := t.GetField(a.Column)
		if err != nil {
			return fmt.Errorf("aggregate column %d: %w", a.Column, err)
		}
		if err := g.accs[i].add(f); err != nil {
			return err
		}
	}
	return nil
}

// emit materializes the group as one output row.
func (g *groupState) emit(l *layout) (*tuple.Tuple, error) {
	out := tuple.NewTuple(l.outDesc)
	for i, f := range g.key {
		if f == nil {
			continue
		}
		if err := out.SetField(i, f); err != nil {
			return nil, err
		}
	}
	for i, acc := range g.accs {
		f, err := acc.result()
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue
		}
		if err := out.SetField(len(g.key)+i, f); err != nil {
			return nil, err
		}
	}
	return out, nil
}
