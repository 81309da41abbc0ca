package scan

import (
	"fmt"

	"querycore/pkg/iterator"
	"querycore/pkg/partition"
	"querycore/pkg/primitives"
	"querycore/pkg/storage/page"
	"querycore/pkg/tuple"
)

// SegmentScan reads every row of the given partitions front to back,
// applying the residual constraints pruning could not absorb. Partitions are
// visited in the order given, pages in segment order, slots in page order.
type SegmentScan struct {
	base     *iterator.BaseIterator
	reader   page.Reader
	td       *tuple.TupleDescription
	parts    []partition.Partition
	residual []partition.Constraint

	partIdx   int
	pageIdx   primitives.PageNumber
	pageCount primitives.PageNumber
	slot      primitives.SlotID
	slotCount primitives.SlotID
	inSegment bool
}

// NewSegmentScan builds a scan over the surviving partitions of one table.
func NewSegmentScan(reader page.Reader, td *tuple.TupleDescription, parts []partition.Partition, residual []partition.Constraint) (*SegmentScan, error) {
	if reader == nil {
		return nil, fmt.Errorf("page reader cannot be nil")
	}
	if td == nil {
		return nil, fmt.Errorf("tuple description cannot be nil")
	}

	s := &SegmentScan{
		reader:   reader,
		td:       td,
		parts:    parts,
		residual: residual,
	}
	s.base = iterator.NewBaseIterator(s.readNext)
	return s, nil
}

func (s *SegmentScan) Open() error {
	s.reset()
	s.base.MarkOpened()
	return nil
}

func (s *SegmentScan) reset() {
	s.partIdx = 0
	s.inSegment = false
	s.base.ClearCache()
}

// readNext walks (partition, page, slot) positions until a qualifying row
// turns up. Empty slots and residual misses are skipped silently.
func (s *SegmentScan) readNext() (*tuple.Tuple, error) {
	for {
		if s.partIdx >= len(s.parts) {
			return nil, nil
		}
		seg := s.parts[s.partIdx].Segment

		if !s.inSegment {
			n, err := s.reader.SegmentPages(seg)
			if err != nil {
				return nil, fmt.Errorf("failed to size segment %d: %w", seg, err)
			}
			s.pageCount = n
			s.pageIdx = 0
			s.slot = 0
			s.slotCount = 0
			s.inSegment = true
		}

		if s.pageIdx >= s.pageCount {
			s.partIdx++
			s.inSegment = false
			continue
		}

		id := page.NewID(seg, s.pageIdx)
		if s.slotCount == 0 {
			p, err := s.reader.FetchPage(id)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch page %s: %w", id, err)
			}
			s.slotCount = p.NumSlots()
			s.slot = 0
			if s.slotCount == 0 {
				s.pageIdx++
				continue
			}
		}

		if s.slot >= s.slotCount {
			s.pageIdx++
			s.slotCount = 0
			continue
		}

		t, err := s.reader.ReadRow(id, s.slot)
		s.slot++
		if err != nil {
			return nil, fmt.Errorf("failed to read row %s slot %d: %w", id, s.slot-1, err)
		}
		if t == nil {
			continue
		}

		ok, err := matchesResidual(t, s.residual)
		if err != nil {
			return nil, err
		}
		if ok {
			return t, nil
		}
	}
}

func (s *SegmentScan) HasNext() (bool, error) {
	return s.base.HasNext()
}

func (s *SegmentScan) Next() (*tuple.Tuple, error) {
	return s.base.Next()
}

func (s *SegmentScan) Rewind() error {
	if !s.base.IsOpened() {
		return fmt.Errorf("iterator not opened")
	}
	s.reset()
	return nil
}

func (s *SegmentScan) Close() error {
	return s.base.Close()
}

func (s *SegmentScan) GetTupleDesc() *tuple.TupleDescription {
	return s.td
}
