package page

import (
	"fmt"
	"sync"

	"querycore/pkg/primitives"
	"querycore/pkg/tuple"
)

// DefaultSlotsPerPage is how many rows a MemStore packs into one page.
const DefaultSlotsPerPage = 64

// MemStore is an in-memory Reader implementation. It backs tests and
// embeddings that have no disk storage layer; rows are appended per segment
// and packed into fixed-capacity pages.
type MemStore struct {
	mu           sync.RWMutex
	segments     map[primitives.SegmentID][][]*tuple.Tuple
	slotsPerPage primitives.SlotID
}

func NewMemStore() *MemStore {
	return &MemStore{
		segments:     make(map[primitives.SegmentID][][]*tuple.Tuple),
		slotsPerPage: DefaultSlotsPerPage,
	}
}

// AppendRow stores a copy-by-reference of t in the segment and returns the
// record id it was placed at. The tuple's RecordID is set accordingly.
func (ms *MemStore) AppendRow(segment primitives.SegmentID, t *tuple.Tuple) (tuple.RecordID, error) {
	if t == nil {
		return tuple.RecordID{}, fmt.Errorf("cannot append nil tuple")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	pages := ms.segments[segment]
	if len(pages) == 0 || len(pages[len(pages)-1]) >= int(ms.slotsPerPage) {
		pages = append(pages, make([]*tuple.Tuple, 0, ms.slotsPerPage))
	}

	pageNo := primitives.PageNumber(len(pages) - 1)
	slot := primitives.SlotID(len(pages[pageNo]))
	pages[pageNo] = append(pages[pageNo], t)
	ms.segments[segment] = pages

	rid := tuple.NewRecordID(segment, pageNo, slot)
	t.RecordID = &rid
	return rid, nil
}

type memPage struct {
	id    ID
	slots primitives.SlotID
}

func (p memPage) ID() ID { return p.id }
func (p memPage) NumSlots() primitives.SlotID { return p.slots }

func (ms *MemStore) FetchPage(id ID) (Page, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	pages, ok := ms.segments[id.Segment]
	if !ok || int(id.Number) >= len(pages) {
		return nil, fmt.Errorf("page %v does not exist", id)
	}
	return memPage{id: id, slots: primitives.SlotID(len(pages[id.Number]))}, nil
}

func (ms *MemStore) ReadRow(id ID, slot primitives.SlotID) (*tuple.Tuple, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	pages, ok := ms.segments[id.Segment]
	if !ok || int(id.Number) >= len(pages) {
		return nil, fmt.Errorf("page %v does not exist", id)
	}
	rows := pages[id.Number]
	if int(slot) >= len(rows) {
		return nil, nil
	}
	return rows[slot], nil
}

func (ms *MemStore) SegmentPages(segment primitives.SegmentID) (primitives.PageNumber, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return primitives.PageNumber(len(ms.segments[segment])), nil
}
