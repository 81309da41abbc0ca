package sort

import (
	"querycore/pkg/iterator"
	"querycore/pkg/tuple"
)

// runCursor is one open run in a merge pass, holding the run's current row.
type runCursor struct {
	it  iterator.DbIterator
	cur *tuple.Tuple
}

// advance loads the cursor's next row, nil at exhaustion.
func (c *runCursor) advance() error {
	hasNext, err := c.it.HasNext()
	if err != nil {
		return err
	}
	if !hasNext {
		c.cur = nil
		return nil
	}
	c.cur, err = c.it.Next()
	return err
}

// mergeHeap is a min-heap of run cursors keyed by their current rows.
// container/heap's Less cannot return an error, so the first comparison
// failure is parked in err and surfaced after the heap operation.
type mergeHeap struct {
	cursors []*runCursor
	keys    []SortKey
	err     error
}

func (h *mergeHeap) Len() int { return len(h.cursors) }

func (h *mergeHeap) Less(i, j int) bool {
	c, err := compareTuples(h.cursors[i].cur, h.cursors[j].cur, h.keys)
	if err != nil && h.err == nil {
		h.err = err
	}
	return c < 0
}

func (h *mergeHeap) Swap(i, j int) {
	h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i]
}

func (h *mergeHeap) Push(x any) {
	h.cursors = append(h.cursors, x.(*runCursor))
}

func (h *mergeHeap) Pop() any {
	old := h.cursors
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	h.cursors = old[:n-1]
	return c
}
