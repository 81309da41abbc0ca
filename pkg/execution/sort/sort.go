package sort

import (
	"container/heap"
	"fmt"
	stdsort "sort"

	"querycore/pkg/config"
	"querycore/pkg/execution/spill"
	"querycore/pkg/iterator"
	"querycore/pkg/tuple"
)

// Sort orders its child's rows by the key list. Input within the memory
// budget is sorted in place; larger input is cut into sorted runs on disk
// and merged with at most MergeFanIn runs open at a time.
type Sort struct {
	base  *iterator.BaseIterator
	child iterator.DbIterator
	keys  []SortKey
	cfg   *config.Config
	td    *tuple.TupleDescription

	buf    []*tuple.Tuple
	bufIdx int

	runs  []*spill.File
	merge *mergeHeap
}

// NewSort validates the key list against the child schema and builds the
// operator. Validation failures are configuration errors raised before any
// row is pulled.
func NewSort(child iterator.DbIterator, keys []SortKey, cfg *config.Config) (*Sort, error) {
	if child == nil {
		return nil, fmt.Errorf("child operator cannot be nil")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := validateKeys(keys, child.GetTupleDesc()); err != nil {
		return nil, err
	}

	s := &Sort{
		child: child,
		keys:  keys,
		cfg:   cfg,
		td:    child.GetTupleDesc(),
	}
	s.base = iterator.NewBaseIterator(s.readNext)
	return s, nil
}

// Open consumes the entire child, spilling sorted runs as the budget fills,
// then prepares either the in-memory buffer or the final merge.
func (s *Sort) Open() error {
	if err := s.child.Open(); err != nil {
		return fmt.Errorf("failed to open child operator: %w", err)
	}

	err := iterator.ForEach(s.child, func(t *tuple.Tuple) error {
		s.buf = append(s.buf, t)
		if s.cfg.ShouldSpill(len(s.buf), s.td.GetSize()) {
			return s.flushRun()
		}
		return nil
	})
	if err != nil {
		s.discardRuns()
		return err
	}

	if len(s.runs) == 0 {
		if err := s.sortBuffer(); err != nil {
			return err
		}
		s.bufIdx = 0
		s.base.MarkOpened()
		return nil
	}

	// spilled at least once: the tail of the buffer becomes the last run
	if len(s.buf) > 0 {
		if err := s.flushRun(); err != nil {
			s.discardRuns()
			return err
		}
	}
	if err := s.prepareMerge(); err != nil {
		s.discardRuns()
		return err
	}
	s.base.MarkOpened()
	return nil
}

// sortBuffer orders the buffered rows in place.
func (s *Sort) sortBuffer() error {
	var sortErr error
	stdsort.SliceStable(s.buf, func(i, j int) bool {
		c, err := compareTuples(s.buf[i], s.buf[j], s.keys)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c < 0
	})
	return sortErr
}

// flushRun sorts the buffer and writes it out as one run file.
func (s *Sort) flushRun() error {
	if err := s.sortBuffer(); err != nil {
		return err
	}

	w, err := spill.NewWriter(s.cfg.SpillDir, s.td)
	if err != nil {
		return err
	}
	for _, t := range s.buf {
		if err := w.Write(t); err != nil {
			w.Discard()
			return err
		}
	}
	f, err := w.Finish()
	if err != nil {
		return err
	}

	s.runs = append(s.runs, f)
	s.buf = s.buf[:0]
	return nil
}

// prepareMerge reduces the run count to the fan-in bound with intermediate
// merge passes, then opens the final merge heap.
func (s *Sort) prepareMerge() error {
	for len(s.runs) > s.cfg.MergeFanIn {
		merged, err := s.mergeRuns(s.runs[:s.cfg.MergeFanIn])
		if err != nil {
			return err
		}
		s.runs = append([]*spill.File{merged}, s.runs[s.cfg.MergeFanIn:]...)
	}

	h, err := s.openHeap(s.runs)
	if err != nil {
		return err
	}
	s.merge = h
	return nil
}

// openHeap opens every run and seats its first row on the heap.
func (s *Sort) openHeap(runs []*spill.File) (*mergeHeap, error) {
	h := &mergeHeap{keys: s.keys}
	for _, f := range runs {
		it := f.Iterator()
		if err := it.Open(); err != nil {
			return nil, err
		}
		c := &runCursor{it: it}
		if err := c.advance(); err != nil {
			it.Close()
			return nil, err
		}
		if c.cur == nil {
			it.Close()
			continue
		}
		h.cursors = append(h.cursors, c)
	}
	heap.Init(h)
	if h.err != nil {
		return nil, h.err
	}
	return h, nil
}

// mergeRuns merges the given runs into one new run file, removing the
// inputs afterwards.
func (s *Sort) mergeRuns(runs []*spill.File) (*spill.File, error) {
	h, err := s.openHeap(runs)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, c := range h.cursors {
			c.it.Close()
		}
	}()

	w, err := spill.NewWriter(s.cfg.SpillDir, s.td)
	if err != nil {
		return nil, err
	}

	for h.Len() > 0 {
		t, err := s.popMin(h)
		if err != nil {
			w.Discard()
			return nil, err
		}
		if err := w.Write(t); err != nil {
			w.Discard()
			return nil, err
		}
	}

	merged, err := w.Finish()
	if err != nil {
		return nil, err
	}
	for _, f := range runs {
		f.Remove()
	}
	return merged, nil
}

// popMin takes the smallest current row off the heap and refills its cursor.
func (s *Sort) popMin(h *mergeHeap) (*tuple.Tuple, error) {
	c := h.cursors[0]
	t := c.cur

	if err := c.advance(); err != nil {
		return nil, err
	}
	if c.cur == nil {
		c.it.Close()
		heap.Pop(h)
	} else {
		heap.Fix(h, 0)
	}
	if h.err != nil {
		return nil, h.err
	}
	return t, nil
}

func (s *Sort) readNext() (*tuple.Tuple, error) {
	if s.merge != nil {
		if s.merge.Len() == 0 {
			return nil, nil
		}
		return s.popMin(s.merge)
	}

	if s.bufIdx >= len(s.buf) {
		return nil, nil
	}
	t := s.buf[s.bufIdx]
	s.bufIdx++
	return t, nil
}

func (s *Sort) HasNext() (bool, error) {
	return s.base.HasNext()
}

func (s *Sort) Next() (*tuple.Tuple, error) {
	return s.base.Next()
}

// Rewind restarts output from the first row. A spilled sort reopens its
// remaining run files rather than re-pulling the child.
func (s *Sort) Rewind() error {
	if !s.base.IsOpened() {
		return fmt.Errorf("iterator not opened")
	}

	if s.merge != nil {
		for _, c := range s.merge.cursors {
			c.it.Close()
		}
		h, err := s.openHeap(s.runs)
		if err != nil {
			return err
		}
		s.merge = h
	} else {
		s.bufIdx = 0
	}
	s.base.ClearCache()
	return nil
}

func (s *Sort) Close() error {
	if s.merge != nil {
		for _, c := range s.merge.cursors {
			c.it.Close()
		}
		s.merge = nil
	}
	s.discardRuns()
	s.buf = nil
	s.child.Close()
	return s.base.Close()
}

func (s *Sort) discardRuns() {
	for _, f := range s.runs {
		f.Remove()
	}
	s.runs = nil
}

func (s *Sort) GetTupleDesc() *tuple.TupleDescription {
	return s.td
}
