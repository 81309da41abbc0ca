package scan

import (
	"fmt"

	"querycore/pkg/index/btree"
	"querycore/pkg/iterator"
	"querycore/pkg/partition"
	"querycore/pkg/storage/page"
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

// IndexScan drives a B-tree range scan and materializes each matching entry
// through the page reader. Rows come back in key order (descending when
// ascending is false); residual constraints filter columns the index key
// does not cover.
type IndexScan struct {
	base     *iterator.BaseIterator
	tree     *btree.BTree
	reader   page.Reader
	td       *tuple.TupleDescription
	residual []partition.Constraint

	low, high *types.Key
	ascending bool
	entries   *btree.RangeIterator
}

// NewIndexScan builds an index-driven scan. Nil bounds are unbounded; both
// bounds are inclusive.
func NewIndexScan(tree *btree.BTree, reader page.Reader, td *tuple.TupleDescription,
	low, high *types.Key, ascending bool, residual []partition.Constraint) (*IndexScan, error) {
	if tree == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if reader == nil {
		return nil, fmt.Errorf("page reader cannot be nil")
	}
	if td == nil {
		return nil, fmt.Errorf("tuple description cannot be nil")
	}

	s := &IndexScan{
		tree:      tree,
		reader:    reader,
		td:        td,
		residual:  residual,
		low:       low,
		high:      high,
		ascending: ascending,
	}
	s.base = iterator.NewBaseIterator(s.readNext)
	return s, nil
}

func (s *IndexScan) Open() error {
	it, err := s.tree.RangeScan(s.low, s.high, s.ascending)
	if err != nil {
		return err
	}
	s.entries = it
	s.base.MarkOpened()
	return nil
}

func (s *IndexScan) readNext() (*tuple.Tuple, error) {
	for {
		e, ok, err := s.entries.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}

		rid := e.RID
		t, err := s.reader.ReadRow(page.NewID(rid.Segment, rid.Page), rid.Slot)
		if err != nil {
			return nil, fmt.Errorf("failed to read indexed row %s: %w", rid, err)
		}
		if t == nil {
			// the entry outlived its row; treat as a skip, the index owner
			// reconciles on maintenance
			continue
		}

		okRow, err := matchesResidual(t, s.residual)
		if err != nil {
			return nil, err
		}
		if okRow {
			return t, nil
		}
	}
}

func (s *IndexScan) HasNext() (bool, error) {
	return s.base.HasNext()
}

func (s *IndexScan) Next() (*tuple.Tuple, error) {
	return s.base.Next()
}

// Rewind restarts the range scan from its low bound.
func (s *IndexScan) Rewind() error {
	if !s.base.IsOpened() {
		return fmt.Errorf("iterator not opened")
	}
	it, err := s.tree.RangeScan(s.low, s.high, s.ascending)
	if err != nil {
		return err
	}
	s.entries = it
	s.base.ClearCache()
	return nil
}

func (s *IndexScan) Close() error {
	s.entries = nil
	return s.base.Close()
}

func (s *IndexScan) GetTupleDesc() *tuple.TupleDescription {
	return s.td
}
