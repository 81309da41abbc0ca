package iterator

import (
	"fmt"

	"querycore/pkg/tuple"
)

// TupleSource serves a fixed in-memory tuple slice through the operator
// interface. Change sets for view maintenance and tests use it as a leaf.
type TupleSource struct {
	base   *BaseIterator
	td     *tuple.TupleDescription
	tuples []*tuple.Tuple
	pos    int
}

// NewTupleSource wraps tuples of the given schema. The slice is not copied.
func NewTupleSource(td *tuple.TupleDescription, tuples []*tuple.Tuple) *TupleSource {
	s := &TupleSource{td: td, tuples: tuples}
	s.base = NewBaseIterator(s.readNext)
	return s
}

func (s *TupleSource) readNext() (*tuple.Tuple, error) {
	if s.pos >= len(s.tuples) {
		return nil, nil
	}
	t := s.tuples[s.pos]
	s.pos++
	return t, nil
}

func (s *TupleSource) Open() error {
	s.pos = 0
	s.base.MarkOpened()
	return nil
}

func (s *TupleSource) HasNext() (bool, error) {
	return s.base.HasNext()
}

func (s *TupleSource) Next() (*tuple.Tuple, error) {
	return s.base.Next()
}

func (s *TupleSource) Rewind() error {
	if !s.base.IsOpened() {
		return fmt.Errorf("iterator not opened")
	}
	s.pos = 0
	s.base.ClearCache()
	return nil
}

func (s *TupleSource) Close() error {
	return s.base.Close()
}

func (s *TupleSource) GetTupleDesc() *tuple.TupleDescription {
	return s.td
}
