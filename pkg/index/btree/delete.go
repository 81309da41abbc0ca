package btree

import (
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

// deleteSafe reports whether a node can lose one entry without falling below
// minimum occupancy, meaning its parent latch can be released early.
func (bt *BTree) deleteSafe(nd *node) bool {
	if nd.leaf {
		return len(nd.entries) > bt.minOccupancy()
	}
	return len(nd.seps) > bt.minOccupancy()
}

// rootPinned reports whether a delete may change the root pointer itself,
// in which case the root-pointer latch stays held for the whole operation.
func (bt *BTree) rootPinned(root *node) bool {
	if root.leaf {
		return len(root.entries) <= 1
	}
	return len(root.seps) <= 1
}

// Delete removes the (key, row reference) pair from the index. Removing a
// pair that is not present is a no-op, not an error. Underflowing nodes
// borrow from or merge with a sibling, propagating rebalancing upward; the
// root may shrink the tree's height.
func (bt *BTree) Delete(key types.Key, rid tuple.RecordID) error {
	if err := bt.checkUsable(); err != nil {
		return err
	}
	if err := bt.checkKey(key); err != nil {
		return err
	}

	e := entry{key: key, rid: rid}
	wp := &writePath{bt: bt, rootHeld: true}
	bt.rootMu.Lock()

	if bt.root == nilNode {
		bt.rootMu.Unlock()
		wp.rootHeld = false
		return nil
	}

	nd := bt.node(bt.root)
	nd.latch.Lock()
	if !bt.rootPinned(nd) {
		bt.rootMu.Unlock()
		wp.rootHeld = false
	}

	for !nd.leaf {
		if err := bt.checkNodeSorted(nd); err != nil {
			nd.latch.Unlock()
			wp.release()
			return err
		}

		idx, err := bt.childIndex(nd, e)
		if err != nil {
			nd.latch.Unlock()
			wp.release()
			return err
		}

		child := bt.node(nd.children[idx])
		child.latch.Lock()
		if bt.deleteSafe(child) {
			nd.latch.Unlock()
			wp.release()
		} else {
			wp.push(nd, idx)
		}
		nd = child
	}

	pos, err := bt.leafIndex(nd, e)
	if err != nil {
		nd.latch.Unlock()
		wp.release()
		return err
	}

	found := false
	if pos < len(nd.entries) {
		cmp, err := bt.cmpEntry(nd.entries[pos], e)
		if err != nil {
			nd.latch.Unlock()
			wp.release()
			return err
		}
		found = cmp == 0
	}
	if !found {
		// absent pair: normal outcome, no-op
		nd.latch.Unlock()
		wp.release()
		return nil
	}

	nd.entries = append(nd.entries[:pos], nd.entries[pos+1:]...)
	bt.size.Add(-1)

	bt.rebalanceUp(nd, wp)
	return nil
}

// rebalanceUp restores minimum occupancy after a removal, walking up the
// still-latched ancestors. On entry nd is latched; on return every latch has
// been released.
func (bt *BTree) rebalanceUp(nd *node, wp *writePath) {
	for {
		parent, ok := wp.pop()
		if !ok {
			// nd is the topmost latched node. If the root-pointer latch
			// is still held, the whole path down was an unbroken unsafe
			// chain and nd is the root: an empty leaf root empties the
			// tree, and an internal root left with a single child hands
			// the root pointer down, shrinking the height by one.
			if wp.rootHeld {
				if nd.leaf && len(nd.entries) == 0 {
					bt.root = nilNode
					bt.free(nd)
				} else if !nd.leaf && len(nd.seps) == 0 {
					bt.root = nd.children[0]
					bt.free(nd)
				}
				bt.rootMu.Unlock()
				wp.rootHeld = false
			}
			nd.latch.Unlock()
			return
		}

		occupancy := len(nd.entries)
		if !nd.leaf {
			occupancy = len(nd.seps)
		}
		if occupancy >= bt.minOccupancy() {
			nd.latch.Unlock()
			parent.nd.latch.Unlock()
			wp.release()
			return
		}

		merged := bt.fixUnderflow(parent.nd, parent.childIdx, nd)
		nd.latch.Unlock()
		if !merged {
			parent.nd.latch.Unlock()
			wp.release()
			return
		}
		nd = parent.nd
	}
}

// fixUnderflow restores the underflowed child at p.children[idx] by
// borrowing from an adjacent sibling when one can spare an entry, or by
// merging two siblings otherwise. Both p and child are latched by the
// caller; siblings are latched here, which is safe because every node that
// rebalances siblings holds their shared parent exclusively. Returns true
// when a merge removed a separator from p, which may propagate the
// underflow upward.
func (bt *BTree) fixUnderflow(p *node, idx int, child *node) bool {
	if idx+1 < len(p.children) {
		right := bt.node(p.children[idx+1])
		right.latch.Lock()
		defer right.latch.Unlock()

		if bt.deleteSafe(right) {
			bt.borrowFromRight(p, idx, child, right)
			return false
		}
		bt.mergeRight(p, idx, child, right)
		return true
	}

	left := bt.node(p.children[idx-1])
	left.latch.Lock()
	defer left.latch.Unlock()

	if bt.deleteSafe(left) {
		bt.borrowFromLeft(p, idx, child, left)
		return false
	}
	// Merge child into its left sibling; afterwards child is dead and the
	// separator between them leaves p.
	bt.mergeRight(p, idx-1, left, child)
	return true
}

func (bt *BTree) borrowFromRight(p *node, idx int, child, right *node) {
	if child.leaf {
		child.entries = append(child.entries, right.entries[0])
		right.entries = append(right.entries[:0], right.entries[1:]...)
		p.seps[idx] = right.entries[0]
		return
	}

	child.seps = append(child.seps, p.seps[idx])
	child.children = append(child.children, right.children[0])
	p.seps[idx] = right.seps[0]
	right.seps = append(right.seps[:0], right.seps[1:]...)
	right.children = append(right.children[:0], right.children[1:]...)
}

func (bt *BTree) borrowFromLeft(p *node, idx int, child, left *node) {
	if child.leaf {
		last := left.entries[len(left.entries)-1]
		left.entries = left.entries[:len(left.entries)-1]
		child.entries = append([]entry{last}, child.entries...)
		p.seps[idx-1] = last
		return
	}

	lastSep := left.seps[len(left.seps)-1]
	lastChild := left.children[len(left.children)-1]
	left.seps = left.seps[:len(left.seps)-1]
	left.children = left.children[:len(left.children)-1]

	child.seps = append([]entry{p.seps[idx-1]}, child.seps...)
	child.children = append([]nodeID{lastChild}, child.children...)
	p.seps[idx-1] = lastSep
}

// mergeRight folds p.children[idx+1] into p.children[idx] and drops the
// separator between them. The right node is freed with its freed flag set so
// a scanner holding a stale sibling link reseeks instead of reading it.
func (bt *BTree) mergeRight(p *node, idx int, left, right *node) {
	if left.leaf {
		left.entries = append(left.entries, right.entries...)
		left.next = right.next
	} else {
		left.seps = append(left.seps, p.seps[idx])
		left.seps = append(left.seps, right.seps...)
		left.children = append(left.children, right.children...)
	}
	bt.free(right)

	p.seps = append(p.seps[:idx], p.seps[idx+1:]...)
	p.children = append(p.children[:idx+1], p.children[idx+2:]...)
}
