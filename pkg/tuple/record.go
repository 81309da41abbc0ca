package tuple

import (
	"fmt"
	"querycore/pkg/primitives"
)

// RecordID is the opaque reference to a row's physical location: the page
// holding it and the slot within that page. The index stores RecordIDs, never
// row data, so index and storage share no ownership.
type RecordID struct {
	Segment primitives.SegmentID
	Page    primitives.PageNumber
	Slot    primitives.SlotID
}

func NewRecordID(segment primitives.SegmentID, page primitives.PageNumber, slot primitives.SlotID) RecordID {
	return RecordID{Segment: segment, Page: page, Slot: slot}
}

// Cmp orders record ids by (segment, page, slot). Duplicate index keys are
// disambiguated by this ordering so delete and seek stay deterministic.
func (r RecordID) Cmp(other RecordID) int {
	switch {
	case r.Segment != other.Segment:
		if r.Segment < other.Segment {
			return -1
		}
		return 1
	case r.Page != other.Page:
		if r.Page < other.Page {
			return -1
		}
		return 1
	case r.Slot != other.Slot:
		if r.Slot < other.Slot {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func (r RecordID) Equals(other RecordID) bool {
	return r == other
}

func (r RecordID) String() string {
	return fmt.Sprintf("(seg=%d, page=%d, slot=%d)", r.Segment, r.Page, r.Slot)
}
