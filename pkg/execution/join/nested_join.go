package join

import (
	"fmt"

	"querycore/pkg/iterator"
	"querycore/pkg/tuple"
)

// NestedLoop joins by rescanning the inner (right) child for every outer
// row. Output preserves the outer child's row order, which makes it the
// executor of choice under an order-sensitive parent.
type NestedLoop struct {
	base     *iterator.BaseIterator
	left     iterator.DbIterator
	right    iterator.DbIterator
	pred     *Predicate
	joinType JoinType
	td       *tuple.TupleDescription

	curLeft     *tuple.Tuple
	leftKey     string
	leftKeyOK   bool
	leftMatched bool
}

// NewNestedLoop builds a nested-loop join. The right child must support
// Rewind.
func NewNestedLoop(left, right iterator.DbIterator, pred *Predicate, joinType JoinType) (*NestedLoop, error) {
	if left == nil || right == nil {
		return nil, fmt.Errorf("join children cannot be nil")
	}
	if pred == nil {
		return nil, fmt.Errorf("join predicate cannot be nil")
	}

	j := &NestedLoop{
		left:     left,
		right:    right,
		pred:     pred,
		joinType: joinType,
		td:       tuple.Combine(left.GetTupleDesc(), right.GetTupleDesc()),
	}
	j.base = iterator.NewBaseIterator(j.readNext)
	return j, nil
}

func (j *NestedLoop) Open() error {
	if err := j.left.Open(); err != nil {
		return fmt.Errorf("failed to open left child: %w", err)
	}
	if err := j.right.Open(); err != nil {
		return fmt.Errorf("failed to open right child: %w", err)
	}
	j.base.MarkOpened()
	return nil
}

func (j *NestedLoop) readNext() (*tuple.Tuple, error) {
	for {
		if j.curLeft == nil {
			done, err := j.advanceLeft()
			if err != nil {
				return nil, err
			}
			if done {
				return nil, nil
			}
		}

		hasNext, err := j.right.HasNext()
		if err != nil {
			return nil, err
		}
		if !hasNext {
			// inner exhausted for this outer row
			padded, err := j.finishLeft()
			if err != nil {
				return nil, err
			}
			if padded != nil {
				return padded, nil
			}
			continue
		}

		r, err := j.right.Next()
		if err != nil {
			return nil, err
		}
		if !j.leftKeyOK {
			continue
		}

		rKey, ok, err := j.pred.rightKey(r)
		if err != nil {
			return nil, err
		}
		if !ok || rKey != j.leftKey {
			continue
		}

		j.leftMatched = true
		return tuple.CombineTuples(j.curLeft, r)
	}
}

// advanceLeft loads the next outer row and rewinds the inner child. done is
// true when the outer side is exhausted.
func (j *NestedLoop) advanceLeft() (bool, error) {
	hasNext, err := j.left.HasNext()
	if err != nil {
		return false, err
	}
	if !hasNext {
		return true, nil
	}

	j.curLeft, err = j.left.Next()
	if err != nil {
		return false, err
	}
	j.leftKey, j.leftKeyOK, err = j.pred.leftKey(j.curLeft)
	if err != nil {
		return false, err
	}
	j.leftMatched = false
	if err := j.right.Rewind(); err != nil {
		return false, fmt.Errorf("failed to rewind right child: %w", err)
	}
	return false, nil
}

// finishLeft retires the current outer row, returning its null-padded form
// when a left-outer join found no match.
func (j *NestedLoop) finishLeft() (*tuple.Tuple, error) {
	cur := j.curLeft
	matched := j.leftMatched
	j.curLeft = nil

	if j.joinType == LeftOuter && !matched {
		return tuple.CombineWithNulls(cur, j.right.GetTupleDesc())
	}
	return nil, nil
}

func (j *NestedLoop) HasNext() (bool, error) {
	return j.base.HasNext()
}

func (j *NestedLoop) Next() (*tuple.Tuple, error) {
	return j.base.Next()
}

func (j *NestedLoop) Rewind() error {
	if !j.base.IsOpened() {
		return fmt.Errorf("iterator not opened")
	}
	if err := j.left.Rewind(); err != nil {
		return err
	}
	if err := j.right.Rewind(); err != nil {
		return err
	}
	j.curLeft = nil
	j.base.ClearCache()
	return nil
}

func (j *NestedLoop) Close() error {
	j.left.Close()
	j.right.Close()
	j.curLeft = nil
	return j.base.Close()
}

func (j *NestedLoop) GetTupleDesc() *tuple.TupleDescription {
	return j.td
}
