package page

import (
	"fmt"
	"querycore/pkg/primitives"
	"querycore/pkg/tuple"
)

// ID identifies one fixed-size page within a segment.
type ID struct {
	Segment primitives.SegmentID
	Number  primitives.PageNumber
}

func NewID(segment primitives.SegmentID, number primitives.PageNumber) ID {
	return ID{Segment: segment, Number: number}
}

func (id ID) String() string {
	return fmt.Sprintf("(seg=%d, page=%d)", id.Segment, id.Number)
}

// Page is an opaque handle to a fetched page. The execution core never
// interprets raw page bytes; it only asks how many row slots the page holds
// and reads rows back through the Reader.
type Page interface {
	ID() ID
	NumSlots() primitives.SlotID
}

// Reader is the page/row access interface the execution core consumes. It is
// supplied externally by the storage layer; the core assumes each query is
// handed a consistent read snapshot behind it.
type Reader interface {
	// FetchPage returns a handle for the given page. May block on I/O.
	FetchPage(id ID) (Page, error)

	// ReadRow materializes the row stored at (page, slot). An empty slot
	// returns nil with no error.
	ReadRow(id ID, slot primitives.SlotID) (*tuple.Tuple, error)

	// SegmentPages reports how many pages the segment currently holds,
	// letting a scan enumerate the segment front to back.
	SegmentPages(segment primitives.SegmentID) (primitives.PageNumber, error)
}
