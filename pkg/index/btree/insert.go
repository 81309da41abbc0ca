package btree

import (
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

// writePath tracks the exclusively latched ancestors of a write descent.
// rootHeld covers the root-pointer latch, which acts as the parent of the
// root node.
type writePath struct {
	bt       *BTree
	rootHeld bool
	frames   []writeFrame
}

type writeFrame struct {
	nd       *node
	childIdx int
}

// release unlocks every held ancestor latch, oldest first.
func (wp *writePath) release() {
	for _, f := range wp.frames {
		f.nd.latch.Unlock()
	}
	wp.frames = wp.frames[:0]
	if wp.rootHeld {
		wp.bt.rootMu.Unlock()
		wp.rootHeld = false
	}
}

func (wp *writePath) push(nd *node, childIdx int) {
	wp.frames = append(wp.frames, writeFrame{nd: nd, childIdx: childIdx})
}

func (wp *writePath) pop() (writeFrame, bool) {
	if len(wp.frames) == 0 {
		return writeFrame{}, false
	}
	f := wp.frames[len(wp.frames)-1]
	wp.frames = wp.frames[:len(wp.frames)-1]
	return f, true
}

// insertSafe reports whether a node can absorb one more entry without
// splitting, meaning its parent latch can be released early.
func (bt *BTree) insertSafe(nd *node) bool {
	if nd.leaf {
		return len(nd.entries) < bt.order
	}
	return len(nd.seps) < bt.order
}

// Insert adds a (key, row reference) pair to the index. Inserting a pair
// that is already present is a no-op. The descent write-latches each node
// and releases ancestors as soon as the child cannot split into them, so a
// caller interrupted between operations never observes a half-split tree.
func (bt *BTree) Insert(key types.Key, rid tuple.RecordID) error {
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
		root := bt.alloc(true)
		root.entries = append(root.entries, e)
		bt.root = root.id
		bt.rootMu.Unlock()
		wp.rootHeld = false
		bt.size.Add(1)
		return nil
	}

	nd := bt.node(bt.root)
	nd.latch.Lock()
	if bt.insertSafe(nd) {
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
		if bt.insertSafe(child) {
			nd.latch.Unlock()
			wp.release()
		} else {
			wp.push(nd, idx)
		}
		nd = child
	}

	if err := bt.checkNodeSorted(nd); err != nil {
		nd.latch.Unlock()
		wp.release()
		return err
	}

	pos, err := bt.leafIndex(nd, e)
	if err != nil {
		nd.latch.Unlock()
		wp.release()
		return err
	}

	if pos < len(nd.entries) {
		cmp, err := bt.cmpEntry(nd.entries[pos], e)
		if err != nil {
			nd.latch.Unlock()
			wp.release()
			return err
		}
		if cmp == 0 {
			// duplicate key+rid pair: no-op
			nd.latch.Unlock()
			wp.release()
			return nil
		}
	}

	nd.entries = append(nd.entries, entry{})
	copy(nd.entries[pos+1:], nd.entries[pos:])
	nd.entries[pos] = e
	bt.size.Add(1)

	if len(nd.entries) <= bt.order {
		nd.latch.Unlock()
		wp.release()
		return nil
	}

	bt.splitUp(nd, wp)
	return nil
}

// splitUp splits an overflowing node and propagates the split through the
// still-latched ancestors, growing the tree at the root if the split chain
// reaches it. On entry nd is latched and over capacity; on return every
// latch has been released.
func (bt *BTree) splitUp(nd *node, wp *writePath) {
	for {
		sep, right := bt.splitNode(nd)

		parent, ok := wp.pop()
		if !ok {
			// nd was the root: grow the tree by one level.
			newRoot := bt.alloc(false)
			newRoot.seps = append(newRoot.seps, sep)
			newRoot.children = append(newRoot.children, nd.id, right.id)
			bt.root = newRoot.id

			nd.latch.Unlock()
			bt.rootMu.Unlock()
			wp.rootHeld = false
			return
		}

		nd.latch.Unlock()

		p := parent.nd
		idx := parent.childIdx
		p.seps = append(p.seps, entry{})
		copy(p.seps[idx+1:], p.seps[idx:])
		p.seps[idx] = sep
		p.children = append(p.children, nilNode)
		copy(p.children[idx+2:], p.children[idx+1:])
		p.children[idx+1] = right.id

		if len(p.seps) <= bt.order {
			p.latch.Unlock()
			wp.release()
			return
		}
		nd = p
	}
}

// splitNode splits nd at the median, returning the separator to push into
// the parent and the new right node. Leaf splits copy the separator up and
// link the new leaf into the sibling chain; internal splits move it up.
func (bt *BTree) splitNode(nd *node) (entry, *node) {
	if nd.leaf {
		mid := len(nd.entries) / 2
		right := bt.alloc(true)
		right.entries = append(right.entries, nd.entries[mid:]...)
		nd.entries = nd.entries[:mid:mid]

		right.next = nd.next
		nd.next = right.id
		return right.entries[0], right
	}

	mid := len(nd.seps) / 2
	sep := nd.seps[mid]
	right := bt.alloc(false)
	right.seps = append(right.seps, nd.seps[mid+1:]...)
	right.children = append(right.children, nd.children[mid+1:]...)
	nd.seps = nd.seps[:mid:mid]
	nd.children = nd.children[:mid+1 : mid+1]
	return sep, right
}
