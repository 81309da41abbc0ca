package join

import "querycore/pkg/tuple"

// matchBuffer holds the combined rows produced for one probe row (hash
// join) or one run of equal keys (sort-merge), handed out across Next
// calls.
type matchBuffer struct {
	buffer []*tuple.Tuple
	index  int
}

func (mb *matchBuffer) hasNext() bool {
	return mb.index < len(mb.buffer)
}

func (mb *matchBuffer) next() *tuple.Tuple {
	t := mb.buffer[mb.index]
	mb.index++
	return t
}

func (mb *matchBuffer) set(matches []*tuple.Tuple) {
	mb.buffer = matches
	mb.index = 0
}

func (mb *matchBuffer) reset() {
	mb.buffer = nil
	mb.index = 0
}
