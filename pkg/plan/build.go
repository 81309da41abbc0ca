package plan

import (
	"querycore/pkg/errs"
	"querycore/pkg/execution/aggregation"
	"querycore/pkg/execution/cursor"
	"querycore/pkg/execution/join"
	"querycore/pkg/execution/scan"
	"querycore/pkg/execution/sort"
	"querycore/pkg/iterator"
	"querycore/pkg/partition"
	"querycore/pkg/primitives"
	"querycore/pkg/statistics"
	"querycore/pkg/types"
)

// Build compiles a plan tree bottom-up into a lazy pull pipeline. All
// validation errors surface here as configuration errors; once Build
// returns, execution can only fail on resource or structural grounds.
// PaginationCursor roots go through BuildKeyset instead.
func Build(n *Node, rt *Runtime) (iterator.DbIterator, error) {
	if rt == nil {
		return nil, errs.Config("NO_RUNTIME", "plan build requires a runtime")
	}
	if n == nil {
		return nil, errs.Config("EMPTY_PLAN", "plan node cannot be nil")
	}

	var it iterator.DbIterator
	var err error
	switch n.Kind {
	case Scan:
		it, err = buildScan(n, rt)
	case NestedLoopJoin, HashJoin, MergeJoin:
		it, err = buildJoin(n, rt)
	case Sort:
		it, err = buildSort(n, rt)
	case HashAggregate, StreamAggregate:
		it, err = buildAggregate(n, rt)
	case PaginationCursor:
		err = errs.Config("BAD_PLAN_ROOT",
			"a pagination cursor is paged through BuildKeyset, not iterated")
	default:
		err = errs.Config("BAD_PLAN_NODE", "unknown plan node kind %d", n.Kind)
	}
	if err != nil {
		// plain constructor errors become structured configuration errors;
		// already-structured ones only gain the missing context
		return nil, errs.Wrap(err, errs.CategoryConfig, "BAD_PLAN", "Build", n.Kind.String())
	}
	return it, nil
}

// buildScan prunes the table's partitions against the node's constraints
// and picks an index range scan when the node carries bounds. Pruning runs
// here, before any page is fetched.
func buildScan(n *Node, rt *Runtime) (iterator.DbIterator, error) {
	t := n.Table
	if t == nil || t.Desc == nil || t.Reader == nil {
		return nil, errs.Config("BAD_SCAN", "scan node needs a table with schema and page reader")
	}

	if n.Low != nil || n.High != nil || n.Descending || n.Ordered {
		if t.Index == nil {
			return nil, errs.Config("BAD_SCAN",
				"scan of %s needs an index for its bounds or ordering", t.Name)
		}
		s, err := scan.NewIndexScan(t.Index, t.Reader, t.Desc, n.Low, n.High, !n.Descending, n.Constraints)
		if err != nil {
			return nil, err
		}
		rt.logNode(n, "table", t.Name, "access", "index")
		return rt.wrap(s), nil
	}

	parts, err := prunePartitions(t, n, rt)
	if err != nil {
		return nil, err
	}
	s, err := scan.NewSegmentScan(t.Reader, t.Desc, parts, n.Constraints)
	if err != nil {
		return nil, err
	}
	rt.logNode(n, "table", t.Name, "access", "segment", "partitions", len(parts))
	return rt.wrap(s), nil
}

// scanStats resolves statistics for a child subtree when that child is a
// plain table scan; estimates through joins or aggregates are not attempted.
func scanStats(n *Node, rt *Runtime) *statistics.TableStats {
	if n == nil || n.Kind != Scan || n.Table == nil {
		return nil
	}
	return n.Table.Stats(rt.Stats)
}

// estimateGroups multiplies per-column distinct counts for a grouping key,
// capped at the table's row count. Zero means no estimate.
func estimateGroups(ts *statistics.TableStats, cols []int) int64 {
	if ts == nil || len(cols) == 0 {
		return 0
	}
	groups := int64(1)
	for _, c := range cols {
		n := ts.EstimatedGroups(primitives.ColumnID(c))
		if n <= 0 {
			return 0
		}
		groups *= n
	}
	if ts.RowCount > 0 && groups > ts.RowCount {
		return ts.RowCount
	}
	return groups
}

func prunePartitions(t *Table, n *Node, rt *Runtime) ([]partition.Partition, error) {
	if t.Scheme == nil {
		return nil, errs.Config("BAD_SCAN", "scan of %s needs a partition scheme", t.Name)
	}
	kept, err := t.Scheme.Prune(n.Constraints)
	if err != nil {
		return nil, err
	}
	if ts := t.Stats(rt.Stats); ts != nil && rt.Log != nil {
		rt.Log.Debug("pruned scan",
			"table", t.Name,
			"partitions", len(kept),
			"estimated_rows", ts.RowCount)
	}
	return kept, nil
}

func buildJoin(n *Node, rt *Runtime) (iterator.DbIterator, error) {
	if n.Left == nil || n.Right == nil {
		return nil, errs.Config("BAD_JOIN", "%s node needs two children", n.Kind)
	}

	left, err := Build(n.Left, rt)
	if err != nil {
		return nil, err
	}
	right, err := Build(n.Right, rt)
	if err != nil {
		return nil, err
	}

	pred, err := join.NewPredicate(left.GetTupleDesc(), right.GetTupleDesc(), n.LeftCols, n.RightCols)
	if err != nil {
		return nil, err
	}

	var j iterator.DbIterator
	switch n.Kind {
	case NestedLoopJoin:
		j, err = join.NewNestedLoop(left, right, pred, n.JoinType)
	case HashJoin:
		var hj *join.HashJoin
		hj, err = join.NewHashJoin(left, right, pred, n.JoinType, rt.Cfg)
		if err == nil {
			if ts := scanStats(n.Right, rt); ts != nil {
				hj.ExpectBuildBytes(ts.EstimatedBytes(right.GetTupleDesc()))
			}
			j = hj
		}
	case MergeJoin:
		// merge join demands key order; sort both children on the join keys
		left, err = sortedOnKeys(left, n.LeftCols, rt)
		if err != nil {
			return nil, err
		}
		right, err = sortedOnKeys(right, n.RightCols, rt)
		if err != nil {
			return nil, err
		}
		j, err = join.NewSortMerge(left, right, pred, n.JoinType)
	}
	if err != nil {
		return nil, err
	}
	rt.logNode(n, "join_type", n.JoinType.String())
	return rt.wrap(j), nil
}

// sortedOnKeys wraps a child in an ascending sort over the given columns
// unless it already is one, keeping merge-join inputs ordered without
// re-sorting an explicitly sorted subtree.
func sortedOnKeys(child iterator.DbIterator, cols []int, rt *Runtime) (iterator.DbIterator, error) {
	nulls, err := rt.Cfg.Nulls()
	if err != nil {
		return nil, err
	}
	keys := make([]sort.SortKey, len(cols))
	for i, c := range cols {
		keys[i] = sort.SortKey{Column: c, NullOrdering: nulls}
	}
	s, err := sort.NewSort(child, keys, rt.Cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func buildSort(n *Node, rt *Runtime) (iterator.DbIterator, error) {
	if n.Left == nil {
		return nil, errs.Config("BAD_SORT", "sort node needs a child")
	}
	child, err := Build(n.Left, rt)
	if err != nil {
		return nil, err
	}
	s, err := sort.NewSort(child, n.SortKeys, rt.Cfg)
	if err != nil {
		return nil, err
	}
	rt.logNode(n, "keys", len(n.SortKeys))
	return rt.wrap(s), nil
}

func buildAggregate(n *Node, rt *Runtime) (iterator.DbIterator, error) {
	if n.Left == nil {
		return nil, errs.Config("BAD_AGGREGATE", "%s node needs a child", n.Kind)
	}
	child, err := Build(n.Left, rt)
	if err != nil {
		return nil, err
	}

	var a iterator.DbIterator
	if n.Kind == HashAggregate {
		var ha *aggregation.HashAggregate
		ha, err = aggregation.NewHashAggregate(child, n.GroupCols, n.Aggregates, rt.Cfg)
		if err == nil {
			if ts := scanStats(n.Left, rt); ts != nil {
				ha.ExpectGroups(estimateGroups(ts, n.GroupCols))
			}
			a = ha
		}
	} else {
		// stream aggregation demands group order
		if len(n.GroupCols) > 0 {
			child, err = sortedOnKeys(child, n.GroupCols, rt)
			if err != nil {
				return nil, err
			}
		}
		a, err = aggregation.NewStreamAggregate(child, n.GroupCols, n.Aggregates)
	}
	if err != nil {
		return nil, err
	}
	rt.logNode(n, "groups", len(n.GroupCols), "aggregates", len(n.Aggregates))
	return rt.wrap(a), nil
}

// BuildKeyset compiles a PaginationCursor root into a keyset pager. When
// the cursor keys ride the child table's index order, each page seeks the
// index straight to the resume key, so a page fetch costs one page of rows
// regardless of page number. Any other child subtree is rebuilt per page
// under a sort on the cursor keys.
func BuildKeyset(n *Node, rt *Runtime) (*cursor.Keyset, error) {
	if rt == nil {
		return nil, errs.Config("NO_RUNTIME", "plan build requires a runtime")
	}
	if n == nil || n.Kind != PaginationCursor {
		return nil, errs.Config("BAD_PLAN_ROOT", "BuildKeyset requires a PaginationCursor root")
	}
	if n.Child == nil {
		return nil, errs.Config("BAD_CURSOR", "pagination cursor needs a child")
	}

	seekable := keysetSeekable(n.Child, n.SortKeys)
	child := n.Child
	if seekable {
		sub := *n.Child
		sub.Ordered = true
		child = &sub
	}

	// validate the child and keys once, fail-fast, in the same shape each
	// page will build
	checked, err := Build(child, rt)
	if err != nil {
		return nil, err
	}
	td := checked.GetTupleDesc()
	checked.Close()

	source := func(resume []types.Field) (iterator.DbIterator, error) {
		if seekable {
			sub := *child
			if resume != nil {
				// inclusive bound; the cursor's strict after-resume check
				// drops the resume row itself
				low := types.NewKey(resume...)
				sub.Low = &low
			}
			return Build(&sub, rt)
		}
		it, err := Build(child, rt)
		if err != nil {
			return nil, err
		}
		return sort.NewSort(it, n.SortKeys, rt.Cfg)
	}

	k, err := cursor.NewKeyset(source, td, n.SortKeys)
	if err != nil {
		return nil, errs.Wrap(err, errs.CategoryConfig, "BAD_CURSOR", "Build", n.Kind.String())
	}
	rt.logNode(n, "keys", len(n.SortKeys), "seekable", seekable)
	return k, nil
}

// keysetSeekable reports whether the cursor can resume by index seek: the
// child is a single indexed scan and the cursor keys name exactly the index
// key columns, ascending, under the index's null policy. A caller-supplied
// low bound is fine; the resume key replaces it on later pages and can only
// sit at or above it.
func keysetSeekable(c *Node, keys []sort.SortKey) bool {
	if c == nil || c.Kind != Scan || c.Table == nil || c.Table.Index == nil || c.Descending {
		return false
	}
	if len(keys) == 0 || len(keys) != len(c.Table.IndexCols) {
		return false
	}
	nulls := c.Table.Index.NullOrdering()
	for i, k := range keys {
		if k.Descending || k.Column != c.Table.IndexCols[i] || k.NullOrdering != nulls {
			return false
		}
	}
	return true
}
