package aggregation

import (
	"fmt"

	"querycore/pkg/iterator"
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

// StreamAggregate groups input already sorted by the group columns,
// emitting each group the moment the key changes. State is one group's
// accumulators regardless of input size, and output preserves the input's
// group order, which makes it the operator feeding incremental view
// maintenance.
type StreamAggregate struct {
	base   *iterator.BaseIterator
	child  iterator.DbIterator
	layout *layout

	cur     *groupState
	started bool
	done    bool
}

// NewStreamAggregate validates the grouping directive. The child must be
// sorted by groupCols; interleaved keys silently produce one output group
// per run, so the plan builder is responsible for the sort.
func NewStreamAggregate(child iterator.DbIterator, groupCols []int, aggs []Aggregate) (*StreamAggregate, error) {
	if child == nil {
		return nil, fmt.Errorf("child operator cannot be nil")
	}
	l, err := newLayout(child.GetTupleDesc(), groupCols, aggs)
	if err != nil {
		return nil, err
	}

	a := &StreamAggregate{child: child, layout: l}
	a.base = iterator.NewBaseIterator(a.readNext)
	return a, nil
}

func (a *StreamAggregate) Open() error {
	if err := a.child.Open(); err != nil {
		return fmt.Errorf("failed to open child operator: %w", err)
	}
	a.reset()
	a.base.MarkOpened()
	return nil
}

func (a *StreamAggregate) reset() {
	a.cur = nil
	a.started = false
	a.done = false
	a.base.ClearCache()
}

// sameKey reports whether a row continues the current group. Null key
// fields compare equal to null, grouping nulls together.
func sameKey(cur []types.Field, key []types.Field) (bool, error) {
	for i := range cur {
		c, err := types.CompareFields(cur[i], key[i], types.NullsFirst)
		if err != nil {
			return false, err
		}
		if c != 0 {
			return false, nil
		}
	}
	return true, nil
}

// readNext folds rows until the group key changes, then emits the closed
// group. The final group emits at input exhaustion.
func (a *StreamAggregate) readNext() (*tuple.Tuple, error) {
	if a.done {
		return nil, nil
	}

	for {
		hasNext, err := a.child.HasNext()
		if err != nil {
			return nil, err
		}
		if !hasNext {
			a.done = true
			if a.cur != nil {
				return a.cur.emit(a.layout)
			}
			// a global aggregate emits its single group even from empty input
			if len(a.layout.groupCols) == 0 && !a.started {
				return a.layout.newGroup(nil).emit(a.layout)
			}
			return nil, nil
		}

		t, err := a.child.Next()
		if err != nil {
			return nil, err
		}
		key, err := a.layout.keyFieldsOf(t)
		if err != nil {
			return nil, err
		}

		if a.cur == nil {
			a.cur = a.layout.newGroup(key)
			a.started = true
		} else {
			same, err := sameKey(a.cur.key, key)
			if err != nil {
				return nil, err
			}
			if !same {
				closed := a.cur
				a.cur = a.layout.newGroup(key)
				if err := a.cur.absorb(a.layout, t); err != nil {
					return nil, err
				}
				return closed.emit(a.layout)
			}
		}

		if err := a.cur.absorb(a.layout, t); err != nil {
			return nil, err
		}
	}
}

func (a *StreamAggregate) HasNext() (bool, error) {
	return a.base.HasNext()
}

func (a *StreamAggregate) Next() (*tuple.Tuple, error) {
	return a.base.Next()
}

func (a *StreamAggregate) Rewind() error {
	if !a.base.IsOpened() {
		return fmt.Errorf("iterator not opened")
	}
	if err := a.child.Rewind(); err != nil {
		return err
	}
	a.reset()
	return nil
}

func (a *StreamAggregate) Close() error {
	a.child.Close()
	a.cur = nil
	return a.base.Close()
}

func (a *StreamAggregate) GetTupleDesc() *tuple.TupleDescription {
	return a.layout.outDesc
}
