// Package plan turns immutable plan-node trees into executable operator
// pipelines. The node set is closed: a plan is data handed over by an
// external planner, and every structural or typing problem is reported at
// build time, before the first page is fetched.
package plan

import (
	"querycore/pkg/execution/aggregation"
	"querycore/pkg/execution/join"
	"querycore/pkg/execution/sort"
	"querycore/pkg/index/btree"
	"querycore/pkg/partition"
	"querycore/pkg/statistics"
	"querycore/pkg/storage/page"
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

// Kind tags a plan node. The set is closed; the builder rejects anything
// else.
type Kind int

const (
	Scan Kind = iota
	NestedLoopJoin
	HashJoin
	MergeJoin
	Sort
	HashAggregate
	StreamAggregate
	PaginationCursor
)

func (k Kind) String() string {
	switch k {
	case Scan:
		return "Scan"
	case NestedLoopJoin:
		return "NestedLoopJoin"
	case HashJoin:
		return "HashJoin"
	case MergeJoin:
		return "MergeJoin"
	case Sort:
		return "Sort"
	case HashAggregate:
		return "HashAggregate"
	case StreamAggregate:
		return "StreamAggregate"
	case PaginationCursor:
		return "PaginationCursor"
	default:
		return "Unknown"
	}
}

// Table describes one scannable table: its schema, page access, partition
// scheme and optionally a B-tree index over a prefix of its columns.
type Table struct {
	Name   string
	Desc   *tuple.TupleDescription
	Reader page.Reader
	Scheme partition.Scheme

	// Index and IndexCols are set together when an ordered index exists.
	// IndexCols names the table columns forming the index key, in key
	// order.
	Index     *btree.BTree
	IndexCols []int

	// StatsID keys the table's statistics in the runtime provider.
	StatsID string
}

// Stats looks the table up in the provider, nil when unknown.
func (t *Table) Stats(p statistics.Provider) *statistics.TableStats {
	if p == nil {
		return nil
	}
	ts, _ := p.TableStats(t.StatsID)
	return ts
}

// Node is one immutable plan node. Exactly the fields its Kind names are
// read; the builder validates the rest are absent or ignored.
type Node struct {
	Kind Kind

	// Scan
	Table       *Table
	Constraints []partition.Constraint
	Low, High   *types.Key // index scan bounds, both inclusive
	Descending  bool
	Ordered     bool // force an index scan for key order even without bounds

	// joins
	Left, Right *Node
	LeftCols    []int
	RightCols   []int
	JoinType    join.JoinType

	// Sort and PaginationCursor
	SortKeys []sort.SortKey

	// aggregates
	GroupCols  []int
	Aggregates []aggregation.Aggregate

	// PaginationCursor
	Child *Node
}
