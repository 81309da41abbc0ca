// Package view maintains materialized aggregate views. A view is defined
// by an aggregate plan node; CompleteRefresh recomputes it from the base
// plan, IncrementalApply folds a change log of inserted and deleted base
// rows into the live group table without rereading the base relation.
//
// Sum, Count and Avg retract cleanly, so both inserts and deletes apply
// incrementally. Min and Max accept inserts only: a deleted row may have
// carried the current extreme, and recovering the runner-up needs the base
// data, so a delete demands a complete refresh.
package view

import (
	"errors"
	"fmt"
	"sort"

	"querycore/pkg/errs"
	"querycore/pkg/execution/aggregation"
	"querycore/pkg/iterator"
	"querycore/pkg/plan"
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

// ErrRefreshRequired reports a change the view cannot absorb
// incrementally. The caller runs CompleteRefresh and retries from there.
var ErrRefreshRequired = errors.New("view requires a complete refresh")

// ChangeSet is one batch of base-row changes. Either side may be nil.
// Rows carry the base relation's schema.
type ChangeSet struct {
	Inserted iterator.DbIterator
	Deleted  iterator.DbIterator
}

// group is one live view group: its key, per-aggregate state and a count
// of contributing base rows. The group dies when rows reaches zero.
type group struct {
	key   []types.Field
	cells []cell
	rows  int64
}

// View is a materialized group-by/aggregate view.
type View struct {
	def       *plan.Node
	groupCols []int
	aggs      []aggregation.Aggregate

	inDesc  *tuple.TupleDescription
	outDesc *tuple.TupleDescription

	groups map[string]*group
	fresh  bool
}

// New defines a view over an aggregate plan node. Schemas are derived and
// validated on the first CompleteRefresh, when the base plan is built.
func New(def *plan.Node) (*View, error) {
	if def == nil {
		return nil, errs.Config("BAD_VIEW", "view definition cannot be nil")
	}
	if def.Kind != plan.StreamAggregate && def.Kind != plan.HashAggregate {
		return nil, errs.Config("BAD_VIEW",
			"view definition must be an aggregate node, got %s", def.Kind)
	}
	if def.Left == nil {
		return nil, errs.Config("BAD_VIEW", "view definition needs a base plan")
	}
	return &View{
		def:       def,
		groupCols: def.GroupCols,
		aggs:      def.Aggregates,
	}, nil
}

// Desc returns the view's output schema, nil before the first refresh.
func (v *View) Desc() *tuple.TupleDescription {
	return v.outDesc
}

// Fresh reports whether the view's contents are trustworthy. A failed
// apply leaves the view stale until the next complete refresh.
func (v *View) Fresh() bool {
	return v.fresh
}

// CompleteRefresh rebuilds the view from scratch: the base plan is
// executed and every row folded into a fresh group table.
func (v *View) CompleteRefresh(rt *plan.Runtime) error {
	base, err := plan.Build(v.def.Left, rt)
	if err != nil {
		return err
	}
	if err := base.Open(); err != nil {
		return fmt.Errorf("failed to open view base plan: %w", err)
	}
	defer base.Close()

	if v.inDesc == nil {
		in := base.GetTupleDesc()
		out, err := aggregation.OutputDesc(in, v.groupCols, v.aggs)
		if err != nil {
			return err
		}
		v.inDesc = in
		v.outDesc = out
	}

	v.groups = make(map[string]*group)
	v.fresh = false
	if err := iterator.ForEach(base, v.insertRow); err != nil {
		return err
	}
	v.fresh = true
	return nil
}

// IncrementalApply folds one change set into the view. On error the view
// is marked stale; only a complete refresh makes it trustworthy again.
func (v *View) IncrementalApply(cs ChangeSet) error {
	if !v.fresh {
		return ErrRefreshRequired
	}

	if v.hasExtreme() && cs.Deleted != nil {
		any, err := hasAnyRow(cs.Deleted)
		if err != nil {
			return err
		}
		if any {
			return fmt.Errorf("cannot retract MIN/MAX: %w", ErrRefreshRequired)
		}
		cs.Deleted = nil
	}

	v.fresh = false
	if cs.Inserted != nil {
		if err := v.drain(cs.Inserted, v.insertRow); err != nil {
			return err
		}
	}
	if cs.Deleted != nil {
		if err := v.drain(cs.Deleted, v.deleteRow); err != nil {
			return err
		}
	}
	v.fresh = true
	return nil
}

// Rows materializes the view's current contents, ordered by encoded group
// key. The order is deterministic but otherwise unspecified.
func (v *View) Rows() ([]*tuple.Tuple, error) {
	if !v.fresh {
		return nil, ErrRefreshRequired
	}

	keys := make([]string, 0, len(v.groups))
	for k := range v.groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*tuple.Tuple, 0, len(keys))
	for _, k := range keys {
		t, err := v.emit(v.groups[k])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (v *View) hasExtreme() bool {
	for _, a := range v.aggs {
		if a.Op == aggregation.Min || a.Op == aggregation.Max {
			return true
		}
	}
	return false
}

func (v *View) drain(it iterator.DbIterator, apply func(*tuple.Tuple) error) error {
	if err := it.Open(); err != nil {
		return fmt.Errorf("failed to open change set: %w", err)
	}
	defer it.Close()
	return iterator.ForEach(it, apply)
}

// hasAnyRow opens the iterator only to learn whether it is empty.
func hasAnyRow(it iterator.DbIterator) (bool, error) {
	if err := it.Open(); err != nil {
		return false, fmt.Errorf("failed to open change set: %w", err)
	}
	defer it.Close()
	return it.HasNext()
}

func (v *View) groupOf(t *tuple.Tuple) (string, []types.Field, error) {
	key := make([]types.Field, len(v.groupCols))
	for i, c := range v.groupCols {
		f, err := t.GetField(c)
		if err != nil {
			return "", nil, fmt.Errorf("group column %d: %w", c, err)
		}
		key[i] = f
	}
	enc, err := aggregation.GroupKey(key)
	if err != nil {
		return "", nil, err
	}
	return enc, key, nil
}

func (v *View) insertRow(t *tuple.Tuple) error {
	if !t.TupleDesc.Equals(v.inDesc) {
		return errs.Config("BAD_CHANGE_ROW", "change row schema does not match the view's base schema")
	}
	enc, key, err := v.groupOf(t)
	if err != nil {
		return err
	}
	g, ok := v.groups[enc]
	if !ok {
		g = v.newGroup(key)
		v.groups[enc] = g
	}
	g.rows++
	for i, a := range v.aggs {
		f, err := t.GetField(a.Column)
		if err != nil {
			return fmt.Errorf("aggregate column %d: %w", a.Column, err)
		}
		if err := g.cells[i].insert(f); err != nil {
			return err
		}
	}
	return nil
}

func (v *View) deleteRow(t *tuple.Tuple) error {
	if !t.TupleDesc.Equals(v.inDesc) {
		return errs.Config("BAD_CHANGE_ROW", "change row schema does not match the view's base schema")
	}
	enc, _, err := v.groupOf(t)
	if err != nil {
		return err
	}
	g, ok := v.groups[enc]
	if !ok {
		return fmt.Errorf("delete names a group the view does not hold: %w", ErrRefreshRequired)
	}
	for i, a := range v.aggs {
		f, err := t.GetField(a.Column)
		if err != nil {
			return fmt.Errorf("aggregate column %d: %w", a.Column, err)
		}
		if err := g.cells[i].remove(f); err != nil {
			return err
		}
	}
	g.rows--
	if g.rows <= 0 && len(v.groupCols) > 0 {
		delete(v.groups, enc)
	}
	return nil
}

func (v *View) newGroup(key []types.Field) *group {
	cells := make([]cell, len(v.aggs))
	for i, a := range v.aggs {
		ft, _ := v.inDesc.TypeAtIndex(a.Column)
		cells[i] = cell{op: a.Op, isFloat: ft == types.FloatType}
	}
	return &group{key: key, cells: cells}
}

func (v *View) emit(g *group) (*tuple.Tuple, error) {
	out := tuple.NewTuple(v.outDesc)
	for i, f := range g.key {
		if f == nil {
			continue
		}
		if err := out.SetField(i, f); err != nil {
			return nil, err
		}
	}
	for i := range g.cells {
		f, err := g.cells[i].result()
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

// cell is the retractable state of one aggregate within one group. Sums
// are carried exactly; Avg divides only at emission.
type cell struct {
	op      aggregation.Op
	isFloat bool

	n    int64
	isum int64
	fsum float64
	best types.Field
}

func (c *cell) insert(f types.Field) error {
	if f == nil {
		return nil
	}
	switch c.op {
	case aggregation.Count:
		c.n++
	case aggregation.Sum, aggregation.Avg:
		if err := c.addNumeric(f, 1); err != nil {
			return err
		}
		c.n++
	case aggregation.Min, aggregation.Max:
		if c.best == nil {
			c.best = f
			c.n++
			return nil
		}
		cmp, err := f.Cmp(c.best)
		if err != nil {
			return err
		}
		if (c.op == aggregation.Min && cmp < 0) || (c.op == aggregation.Max && cmp > 0) {
			c.best = f
		}
		c.n++
	default:
		return fmt.Errorf("unknown aggregate op %d", c.op)
	}
	return nil
}

func (c *cell) remove(f types.Field) error {
	if f == nil {
		return nil
	}
	switch c.op {
	case aggregation.Count:
		c.n--
	case aggregation.Sum, aggregation.Avg:
		if err := c.addNumeric(f, -1); err != nil {
			return err
		}
		c.n--
	case aggregation.Min, aggregation.Max:
		return fmt.Errorf("cannot retract %s: %w", c.op, ErrRefreshRequired)
	default:
		return fmt.Errorf("unknown aggregate op %d", c.op)
	}
	if c.n < 0 {
		return fmt.Errorf("delete retracts more rows than the view holds: %w", ErrRefreshRequired)
	}
	return nil
}

func (c *cell) addNumeric(f types.Field, sign int64) error {
	switch x := f.(type) {
	case *types.IntField:
		c.isum += sign * x.Value
		c.fsum += float64(sign) * float64(x.Value)
	case *types.Float64Field:
		c.fsum += float64(sign) * x.Value
	default:
		return fmt.Errorf("aggregate expected numeric field, got %T", f)
	}
	return nil
}

func (c *cell) result() (types.Field, error) {
	switch c.op {
	case aggregation.Count:
		return types.NewIntField(c.n), nil
	case aggregation.Sum:
		if c.n == 0 {
			return nil, nil
		}
		if c.isFloat {
			return types.NewFloat64Field(c.fsum), nil
		}
		return types.NewIntField(c.isum), nil
	case aggregation.Avg:
		if c.n == 0 {
			return nil, nil
		}
		return types.NewFloat64Field(c.fsum / float64(c.n)), nil
	case aggregation.Min, aggregation.Max:
		return c.best, nil
	default:
		return nil, fmt.Errorf("unknown aggregate op %d", c.op)
	}
}
