package btree

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"querycore/pkg/errs"
	"querycore/pkg/logging"
	"querycore/pkg/primitives"
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

// nodeID addresses a node inside the tree's arena. Nodes are referenced by
// stable integer ids rather than pointers, which keeps rebalancing and latch
// bookkeeping simple.
type nodeID int32

const nilNode nodeID = -1

// entry is one indexed (key, row reference) pair. Entries are totally
// ordered by (key, record id), so duplicate keys stay deterministic for
// seek and delete. Internal nodes reuse entry as their separator type.
type entry struct {
	key types.Key
	rid tuple.RecordID
}

// Entry is one (key, row reference) pair yielded by a range scan.
type Entry struct {
	Key types.Key
	RID tuple.RecordID
}

type node struct {
	latch sync.RWMutex
	id    nodeID
	leaf  bool
	freed bool

	// leaf state. Leaves are singly linked left to right; descending scans
	// reseek instead of following back links, so no mutation ever needs to
	// latch a node under a different parent.
	entries []entry
	next    nodeID

	// internal state: children[i] holds entries < seps[i],
	// children[i+1] holds entries >= seps[i].
	seps     []entry
	children []nodeID
}

// BTree is an ordered index mapping composite keys to row references. Every
// leaf sits at the same depth; node occupancy stays between order/2 and
// order entries except at the root. The index owns no row data.
//
// Writers descend with latch crabbing: each node on the path is write-locked
// and ancestors are released as soon as the child cannot split or merge into
// them. Range scans read-latch one leaf at a time and release it before
// moving to a sibling, so a long scan never pins writers down.
type BTree struct {
	rootMu   sync.RWMutex // latch for the root pointer, parent of the root node
	root    nodeID
	arenaMu sync.Mutex // guards arena growth
	arena   []*node

	order    int
	keyTypes []types.Type
	nulls    types.NullOrdering
	unusable atomic.Bool
	size     atomic.Int64

	log *slog.Logger
}

// NewBTree creates an empty index. Order is the maximum number of entries
// per node (minimum 3); keyTypes fixes the key column types, and nulls fixes
// the NULL placement policy for the lifetime of the index.
func NewBTree(order int, keyTypes []types.Type, nulls types.NullOrdering) (*BTree, error) {
	if order < 3 {
		return nil, errs.Config("BAD_BTREE_ORDER", "btree order must be at least 3, got %d", order)
	}
	if len(keyTypes) == 0 {
		return nil, errs.Config("EMPTY_KEY", "btree key must have at least one column")
	}

	bt := &BTree{
		root:     nilNode,
		order:    order,
		keyTypes: append([]types.Type(nil), keyTypes...),
		nulls:    nulls,
		log:      logging.ForComponent("BTree"),
	}
	return bt, nil
}

// NullOrdering reports the NULL placement policy fixed at construction.
func (bt *BTree) NullOrdering() types.NullOrdering {
	return bt.nulls
}

// KeyTypes returns the key column types fixed at construction.
func (bt *BTree) KeyTypes() []types.Type {
	return append([]types.Type(nil), bt.keyTypes...)
}

// Len returns the number of live entries.
func (bt *BTree) Len() int64 {
	return bt.size.Load()
}

func (bt *BTree) minOccupancy() int {
	return bt.order / 2
}

// checkKey validates a key against the index's declared column types.
// NULL columns are allowed; the null policy orders them.
func (bt *BTree) checkKey(key types.Key) error {
	if len(key.Fields) != len(bt.keyTypes) {
		return errs.Config("KEY_ARITY_MISMATCH",
			"key has %d columns, index expects %d", len(key.Fields), len(bt.keyTypes))
	}
	for i, f := range key.Fields {
		if f != nil && f.Type() != bt.keyTypes[i] {
			return errs.Config("KEY_TYPE_MISMATCH",
				"key column %d has type %v, index expects %v", i, f.Type(), bt.keyTypes[i])
		}
	}
	return nil
}

// cmpEntry is the total ordering over (key, record id) pairs.
func (bt *BTree) cmpEntry(a, b entry) (int, error) {
	cmp, err := a.key.Compare(b.key, bt.nulls)
	if err != nil {
		return 0, err
	}
	if cmp != 0 {
		return cmp, nil
	}
	return a.rid.Cmp(b.rid), nil
}

func (bt *BTree) alloc(leaf bool) *node {
	bt.arenaMu.Lock()
	defer bt.arenaMu.Unlock()

	nd := &node{id: nodeID(len(bt.arena)), leaf: leaf, next: nilNode}
	bt.arena = append(bt.arena, nd)
	return nd
}

// free marks a node dead. Dead arena slots are never recycled: a scanner
// parked on a freed node's latch must observe the freed flag and reseek,
// which reuse would break. Reclaiming the arena is what a rebuild is for.
func (bt *BTree) free(nd *node) {
	nd.freed = true
	nd.entries = nil
	nd.seps = nil
	nd.children = nil
}

func (bt *BTree) node(id nodeID) *node {
	bt.arenaMu.Lock()
	defer bt.arenaMu.Unlock()
	return bt.arena[id]
}

// corrupt marks the index unusable after a structural invariant violation.
// Further writes never silently repair a corrupted structure.
func (bt *BTree) corrupt(detail string) error {
	bt.unusable.Store(true)
	bt.log.Error("index marked unusable", "detail", detail)
	return errs.Structural("INDEX_CORRUPTED", "structural invariant violated: %s", detail)
}

func (bt *BTree) checkUsable() error {
	if bt.unusable.Load() {
		return errs.Structural("INDEX_UNUSABLE", "index is marked unusable and must be rebuilt")
	}
	return nil
}

// checkNodeSorted verifies a node's entries are strictly ordered; violation
// is fatal corruption, not something a write path may repair.
func (bt *BTree) checkNodeSorted(nd *node) error {
	items := nd.entries
	if !nd.leaf {
		items = nd.seps
	}
	for i := 1; i < len(items); i++ {
		cmp, err := bt.cmpEntry(items[i-1], items[i])
		if err != nil {
			return err
		}
		if cmp >= 0 {
			return bt.corrupt(fmt.Sprintf("node %d entries out of order at position %d", nd.id, i))
		}
	}
	if !nd.leaf && len(nd.children) != len(nd.seps)+1 {
		return bt.corrupt(fmt.Sprintf("node %d has %d separators but %d children",
			nd.id, len(nd.seps), len(nd.children)))
	}
	return nil
}

// Validate walks the whole tree checking the structural invariants: uniform
// leaf depth, ordering inside every node, and occupancy bounds below the
// root. Intended for tests and offline verification; it takes no latches.
func (bt *BTree) Validate() error {
	bt.rootMu.RLock()
	root := bt.root
	bt.rootMu.RUnlock()

	if root == nilNode {
		return nil
	}

	leafDepth := -1
	var walk func(id nodeID, depth int, isRoot bool) error
	walk = func(id nodeID, depth int, isRoot bool) error {
		nd := bt.node(id)
		if err := bt.checkNodeSorted(nd); err != nil {
			return err
		}

		occupancy := len(nd.entries)
		if !nd.leaf {
			occupancy = len(nd.seps)
		}
		if !isRoot && occupancy < bt.minOccupancy() {
			return fmt.Errorf("node %d occupancy %d below minimum %d", id, occupancy, bt.minOccupancy())
		}
		if occupancy > bt.order {
			return fmt.Errorf("node %d occupancy %d above order %d", id, occupancy, bt.order)
		}

		if nd.leaf {
			if leafDepth == -1 {
				leafDepth = depth
			} else if depth != leafDepth {
				return fmt.Errorf("leaf %d at depth %d, expected %d", id, depth, leafDepth)
			}
			return nil
		}

		for _, child := range nd.children {
			if err := walk(child, depth+1, false); err != nil {
				return err
			}
		}
		return nil
	}

	return walk(root, 0, true)
}

// childIndex returns the child slot to descend into for e: the first child
// whose separator is greater than e.
func (bt *BTree) childIndex(nd *node, e entry) (int, error) {
	lo, hi := 0, len(nd.seps)
	for lo < hi {
		mid := (lo + hi) / 2
		cmp, err := bt.cmpEntry(e, nd.seps[mid])
		if err != nil {
			return 0, err
		}
		if cmp < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

// leafIndex returns the position of the first leaf entry >= e.
func (bt *BTree) leafIndex(nd *node, e entry) (int, error) {
	lo, hi := 0, len(nd.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		cmp, err := bt.cmpEntry(nd.entries[mid], e)
		if err != nil {
			return 0, err
		}
		if cmp < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// minKeyEntry builds the smallest possible entry for a key, used to descend
// toward the first occurrence of the key regardless of row reference.
func minKeyEntry(key types.Key) entry {
	return entry{key: key, rid: tuple.RecordID{}}
}

// maxKeyEntry builds the largest possible entry for a key, used to descend
// toward the last occurrence of the key.
func maxKeyEntry(key types.Key) entry {
	return entry{key: key, rid: tuple.RecordID{
		Segment: ^primitives.SegmentID(0),
		Page:    ^primitives.PageNumber(0),
		Slot:    ^primitives.SlotID(0),
	}}
}
