package join

import (
	"fmt"

	"querycore/pkg/iterator"
	"querycore/pkg/tuple"
)

// SortMerge joins two inputs already sorted ascending on their join keys,
// advancing both sides in lockstep and buffering each run of equal right
// keys so duplicate left keys can replay it. Output preserves join-key
// order. The plan builder inserts sorts under this operator when the inputs
// are not naturally ordered.
type SortMerge struct {
	base     *iterator.BaseIterator
	left     iterator.DbIterator
	right    iterator.DbIterator
	pred     *Predicate
	joinType JoinType
	td       *tuple.TupleDescription

	curLeft     *tuple.Tuple
	leftMatched bool

	run      []*tuple.Tuple // right rows sharing the current run key
	runKey   *tuple.Tuple   // representative right row of the run
	runIdx   int
	pending  *tuple.Tuple // right row read past the run boundary
	rightEOF bool
}

// NewSortMerge builds a sort-merge join over key-sorted children.
func NewSortMerge(left, right iterator.DbIterator, pred *Predicate, joinType JoinType) (*SortMerge, error) {
	if left == nil || right == nil {
		return nil, fmt.Errorf("join children cannot be nil")
	}
	if pred == nil {
		return nil, fmt.Errorf("join predicate cannot be nil")
	}

	j := &SortMerge{
		left:     left,
		right:    right,
		pred:     pred,
		joinType: joinType,
		td:       tuple.Combine(left.GetTupleDesc(), right.GetTupleDesc()),
	}
	j.base = iterator.NewBaseIterator(j.readNext)
	return j, nil
}

func (j *SortMerge) Open() error {
	if err := j.left.Open(); err != nil {
		return fmt.Errorf("failed to open left child: %w", err)
	}
	if err := j.right.Open(); err != nil {
		return fmt.Errorf("failed to open right child: %w", err)
	}
	j.base.MarkOpened()
	return nil
}

func (j *SortMerge) readNext() (*tuple.Tuple, error) {
	for {
		// drain the current left row against the buffered run
		if j.curLeft != nil && j.runIdx < len(j.run) {
			r := j.run[j.runIdx]
			j.runIdx++
			j.leftMatched = true
			return tuple.CombineTuples(j.curLeft, r)
		}
		if j.curLeft != nil {
			padded, err := j.finishLeft()
			if err != nil {
				return nil, err
			}
			if padded != nil {
				return padded, nil
			}
		}

		hasNext, err := j.left.HasNext()
		if err != nil {
			return nil, err
		}
		if !hasNext {
			return nil, nil
		}
		j.curLeft, err = j.left.Next()
		if err != nil {
			return nil, err
		}
		j.leftMatched = false

		_, keyOK, err := keyFields(j.curLeft, j.pred.leftCols)
		if err != nil {
			return nil, err
		}
		if !keyOK {
			// null key joins nothing; the run stays put
			j.runIdx = len(j.run)
			continue
		}

		if err := j.alignRun(); err != nil {
			return nil, err
		}
	}
}

// finishLeft retires the current left row, null-padding it for an
// unmatched left-outer row.
func (j *SortMerge) finishLeft() (*tuple.Tuple, error) {
	cur := j.curLeft
	matched := j.leftMatched
	j.curLeft = nil

	if j.joinType == LeftOuter && !matched {
		return tuple.CombineWithNulls(cur, j.right.GetTupleDesc())
	}
	return nil, nil
}

// alignRun positions the right-side run buffer on the current left key:
// replay the existing run when the key repeats, otherwise discard it and
// advance the right side to the first key >= the left key, buffering the
// run of equal keys.
func (j *SortMerge) alignRun() error {
	if j.runKey != nil {
		c, err := j.pred.cmpKeys(j.curLeft, j.runKey)
		if err != nil {
			return err
		}
		if c == 0 {
			j.runIdx = 0
			return nil
		}
		if c < 0 {
			// left key sits before the buffered run; no match possible
			j.runIdx = len(j.run)
			return nil
		}
	}

	j.run = j.run[:0]
	j.runKey = nil
	j.runIdx = 0

	for {
		r, err := j.nextRight()
		if err != nil {
			return err
		}
		if r == nil {
			return nil
		}

		_, keyOK, err := keyFields(r, j.pred.rightCols)
		if err != nil {
			return err
		}
		if !keyOK {
			continue
		}

		c, err := j.pred.cmpKeys(j.curLeft, r)
		if err != nil {
			return err
		}
		if c > 0 {
			continue
		}
		if c < 0 {
			// overshot; park the row for the next left key
			j.pending = r
			return nil
		}

		j.runKey = r
		j.run = append(j.run, r)
		return j.fillRun()
	}
}

// fillRun extends the run with every consecutive right row equal to the run
// key, parking the first row past the boundary.
func (j *SortMerge) fillRun() error {
	for {
		r, err := j.nextRight()
		if err != nil {
			return err
		}
		if r == nil {
			return nil
		}

		c, err := j.pred.cmpKeys(j.curLeft, r)
		if err != nil {
			return err
		}
		if c == 0 {
			j.run = append(j.run, r)
			continue
		}
		j.pending = r
		return nil
	}
}

// nextRight returns the parked row if any, else the next right child row,
// nil at exhaustion.
func (j *SortMerge) nextRight() (*tuple.Tuple, error) {
	if j.pending != nil {
		r := j.pending
		j.pending = nil
		return r, nil
	}
	if j.rightEOF {
		return nil, nil
	}

	hasNext, err := j.right.HasNext()
	if err != nil {
		return nil, err
	}
	if !hasNext {
		j.rightEOF = true
		return nil, nil
	}
	return j.right.Next()
}

func (j *SortMerge) HasNext() (bool, error) {
	return j.base.HasNext()
}

func (j *SortMerge) Next() (*tuple.Tuple, error) {
	return j.base.Next()
}

func (j *SortMerge) Rewind() error {
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
	j.run = nil
	j.runKey = nil
	j.runIdx = 0
	j.pending = nil
	j.rightEOF = false
	j.base.ClearCache()
	return nil
}

func (j *SortMerge) Close() error {
	j.left.Close()
	j.right.Close()
	j.curLeft = nil
	j.run = nil
	j.runKey = nil
	j.pending = nil
	return j.base.Close()
}

func (j *SortMerge) GetTupleDesc() *tuple.TupleDescription {
	return j.td
}
