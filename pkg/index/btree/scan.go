package btree

import (
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

// Seek returns every row reference stored under key, ordered by record id.
// A miss or an empty index yields an empty slice, never an error.
func (bt *BTree) Seek(key types.Key) ([]tuple.RecordID, error) {
	if err := bt.checkUsable(); err != nil {
		return nil, err
	}
	if err := bt.checkKey(key); err != nil {
		return nil, err
	}

	it, err := bt.RangeScan(&key, &key, true)
	if err != nil {
		return nil, err
	}

	var rids []tuple.RecordID
	for {
		e, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return rids, nil
		}
		rids = append(rids, e.RID)
	}
}

// RangeIterator is a lazy, finite sequence of (key, row reference) entries
// in key order. It is not restartable; a new scan requires a new reseek.
// Ascending scans hold one leaf read latch at a time and release it before
// touching the next leaf, so they never block writers for long; a scan that
// lands on a node freed by a concurrent merge reseeks from the last
// returned entry. Descending scans materialize the qualifying range up
// front and replay it in reverse.
type RangeIterator struct {
	bt        *BTree
	low, high *entry // inclusive bounds, nil = unbounded
	ascending bool

	buf      []Entry
	bufIdx   int
	nextLeaf nodeID
	last     *entry // last entry handed out, reseek anchor
	started  bool
	done     bool
}

// RangeScan returns a lazy iterator over keys in [low, high], either bound
// optional, ascending or descending. Bound keys must match the index's key
// column types. An empty or absent range yields an empty sequence.
func (bt *BTree) RangeScan(low, high *types.Key, ascending bool) (*RangeIterator, error) {
	if err := bt.checkUsable(); err != nil {
		return nil, err
	}
	if low != nil {
		if err := bt.checkKey(*low); err != nil {
			return nil, err
		}
	}
	if high != nil {
		if err := bt.checkKey(*high); err != nil {
			return nil, err
		}
	}

	it := &RangeIterator{
		bt:        bt,
		ascending: ascending,
		nextLeaf:  nilNode,
	}
	if low != nil {
		e := minKeyEntry(*low)
		it.low = &e
	}
	if high != nil {
		e := maxKeyEntry(*high)
		it.high = &e
	}
	return it, nil
}

// Next yields the next entry in scan order. The second return value is false
// once the sequence is exhausted.
func (it *RangeIterator) Next() (Entry, bool, error) {
	if !it.started {
		it.started = true
		var err error
		if it.ascending {
			err = it.seekFrom(it.low, true)
		} else {
			err = it.materializeDescending()
		}
		if err != nil {
			return Entry{}, false, err
		}
	}

	for {
		if it.bufIdx < len(it.buf) {
			e := it.buf[it.bufIdx]
			it.bufIdx++
			anchor := entry{key: e.Key, rid: e.RID}
			it.last = &anchor
			return e, true, nil
		}
		if it.done {
			return Entry{}, false, nil
		}
		if err := it.advance(); err != nil {
			return Entry{}, false, err
		}
	}
}

// seekFrom descends to the leaf holding the first entry at or after from
// (nil = leftmost leaf) and buffers that leaf's qualifying entries. With
// inclusive false, entries equal to from are skipped.
func (it *RangeIterator) seekFrom(from *entry, inclusive bool) error {
	bt := it.bt
	it.buf = it.buf[:0]
	it.bufIdx = 0
	it.nextLeaf = nilNode

	bt.rootMu.RLock()
	root := bt.root
	if root == nilNode {
		bt.rootMu.RUnlock()
		it.done = true
		return nil
	}

	nd := bt.node(root)
	nd.latch.RLock()
	bt.rootMu.RUnlock()

	for !nd.leaf {
		if err := bt.checkNodeSorted(nd); err != nil {
			nd.latch.RUnlock()
			return err
		}

		idx := 0
		if from != nil {
			var err error
			idx, err = bt.childIndex(nd, *from)
			if err != nil {
				nd.latch.RUnlock()
				return err
			}
		}

		child := bt.node(nd.children[idx])
		child.latch.RLock()
		nd.latch.RUnlock()
		nd = child
	}

	return it.fillFromLeaf(nd, from, inclusive)
}

// fillFromLeaf buffers nd's entries past from and below the high bound,
// then releases the leaf latch. Caller passes nd read-latched.
func (it *RangeIterator) fillFromLeaf(nd *node, from *entry, inclusive bool) error {
	bt := it.bt
	defer nd.latch.RUnlock()

	if err := bt.checkNodeSorted(nd); err != nil {
		return err
	}

	for _, e := range nd.entries {
		if from != nil {
			cmp, err := bt.cmpEntry(e, *from)
			if err != nil {
				return err
			}
			if cmp < 0 || (cmp == 0 && !inclusive) {
				continue
			}
		}
		if it.high != nil {
			cmp, err := bt.cmpEntry(e, *it.high)
			if err != nil {
				return err
			}
			if cmp > 0 {
				it.done = true
				return nil
			}
		}
		it.buf = append(it.buf, Entry{Key: e.key, RID: e.rid})
	}

	it.nextLeaf = nd.next
	if it.nextLeaf == nilNode {
		it.done = true
	}
	return nil
}

// advance moves to the next leaf via the sibling link, falling back to a
// reseek from the last returned entry when the link points at a node a
// concurrent merge has freed.
func (it *RangeIterator) advance() error {
	bt := it.bt
	it.buf = it.buf[:0]
	it.bufIdx = 0

	if it.nextLeaf == nilNode {
		it.done = true
		return nil
	}

	nd := bt.node(it.nextLeaf)
	nd.latch.RLock()
	if nd.freed || !nd.leaf {
		nd.latch.RUnlock()
		return it.seekFrom(it.last, false)
	}

	return it.fillFromLeaf(nd, it.last, false)
}

// materializeDescending collects the whole qualifying range in ascending
// order, then flips it so Next replays it newest-first.
func (it *RangeIterator) materializeDescending() error {
	fwd := &RangeIterator{
		bt:        it.bt,
		low:       it.low,
		high:      it.high,
		ascending: true,
		nextLeaf:  nilNode,
		started:   true,
	}
	if err := fwd.seekFrom(fwd.low, true); err != nil {
		return err
	}

	var all []Entry
	for {
		e, ok, err := fwd.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		all = append(all, e)
	}

	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	it.buf = all
	it.bufIdx = 0
	it.done = true
	return nil
}
