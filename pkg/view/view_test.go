package view

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycore/pkg/execution/aggregation"
	"querycore/pkg/iterator"
	"querycore/pkg/partition"
	"querycore/pkg/plan"
	"querycore/pkg/storage/page"
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

func salesDesc(t *testing.T) *tuple.TupleDescription {
	t.Helper()
	td, err := tuple.NewTupleDesc(
		[]types.Type{types.StringType, types.IntType},
		[]string{"region", "amount"})
	require.NoError(t, err)
	return td
}

func saleRow(t *testing.T, td *tuple.TupleDescription, region string, amount int64) *tuple.Tuple {
	t.Helper()
	tup := tuple.NewTuple(td)
	require.NoError(t, tup.SetField(0, types.NewStringField(region, types.StringMaxSize)))
	require.NoError(t, tup.SetField(1, types.NewIntField(amount)))
	return tup
}

// salesView seeds a base table and defines sum/count per region over it.
func salesView(t *testing.T, aggs []aggregation.Aggregate) (*View, *plan.Runtime, *tuple.TupleDescription) {
	t.Helper()
	td := salesDesc(t)
	store := page.NewMemStore()
	scheme, err := partition.NewHashScheme(0, []partition.Partition{{ID: 0, Segment: 1}})
	require.NoError(t, err)

	for _, r := range []struct {
		region string
		amount int64
	}{{"east", 10}, {"east", 5}, {"west", 7}} {
		_, err := store.AppendRow(1, saleRow(t, td, r.region, r.amount))
		require.NoError(t, err)
	}

	table := &plan.Table{Name: "sales", Desc: td, Reader: store, Scheme: scheme}
	def := &plan.Node{
		Kind:       plan.StreamAggregate,
		Left:       &plan.Node{Kind: plan.Scan, Table: table},
		GroupCols:  []int{0},
		Aggregates: aggs,
	}
	v, err := New(def)
	require.NoError(t, err)
	return v, plan.NewRuntime(context.Background(), nil, nil), td
}

// rowStrings flattens view rows for comparison, nulls printing as <null>.
func rowStrings(t *testing.T, rows []*tuple.Tuple) []string {
	t.Helper()
	out := make([]string, len(rows))
	for i, r := range rows {
		s := ""
		for j := 0; j < r.TupleDesc.NumFields(); j++ {
			f, err := r.GetField(j)
			require.NoError(t, err)
			if f == nil {
				s += "<null>|"
				continue
			}
			s += f.String() + "|"
		}
		out[i] = s
	}
	return out
}

func TestCompleteRefresh(t *testing.T) {
	v, rt, _ := salesView(t, []aggregation.Aggregate{
		{Op: aggregation.Sum, Column: 1},
		{Op: aggregation.Count, Column: 1},
	})

	require.NoError(t, v.CompleteRefresh(rt))
	require.True(t, v.Fresh())

	rows, err := v.Rows()
	require.NoError(t, err)
	assert.Equal(t, []string{"east|15|2|", "west|7|1|"}, rowStrings(t, rows))
}

func TestIncrementalApplyInsertAndDelete(t *testing.T) {
	v, rt, td := salesView(t, []aggregation.Aggregate{
		{Op: aggregation.Sum, Column: 1},
		{Op: aggregation.Count, Column: 1},
	})
	require.NoError(t, v.CompleteRefresh(rt))

	cs := ChangeSet{
		Inserted: iterator.NewTupleSource(td, []*tuple.Tuple{
			saleRow(t, td, "west", 3),
			saleRow(t, td, "north", 1),
		}),
		Deleted: iterator.NewTupleSource(td, []*tuple.Tuple{
			saleRow(t, td, "east", 5),
		}),
	}
	require.NoError(t, v.IncrementalApply(cs))

	rows, err := v.Rows()
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"east|10|1|", "west|10|2|", "north|1|1|"},
		rowStrings(t, rows))
}

func TestGroupDiesWhenLastRowLeaves(t *testing.T) {
	v, rt, td := salesView(t, []aggregation.Aggregate{
		{Op: aggregation.Sum, Column: 1},
	})
	require.NoError(t, v.CompleteRefresh(rt))

	cs := ChangeSet{
		Deleted: iterator.NewTupleSource(td, []*tuple.Tuple{
			saleRow(t, td, "west", 7),
		}),
	}
	require.NoError(t, v.IncrementalApply(cs))

	rows, err := v.Rows()
	require.NoError(t, err)
	assert.Equal(t, []string{"east|15|"}, rowStrings(t, rows))
}

func TestMinMaxInsertOnly(t *testing.T) {
	v, rt, td := salesView(t, []aggregation.Aggregate{
		{Op: aggregation.Min, Column: 1},
		{Op: aggregation.Max, Column: 1},
	})
	require.NoError(t, v.CompleteRefresh(rt))

	// inserts refine the extremes
	require.NoError(t, v.IncrementalApply(ChangeSet{
		Inserted: iterator.NewTupleSource(td, []*tuple.Tuple{
			saleRow(t, td, "east", 2),
			saleRow(t, td, "east", 99),
		}),
	}))
	rows, err := v.Rows()
	require.NoError(t, err)
	assert.Equal(t, []string{"east|2|99|", "west|7|7|"}, rowStrings(t, rows))

	// a delete cannot be retracted; the view stays fresh and untouched
	err = v.IncrementalApply(ChangeSet{
		Deleted: iterator.NewTupleSource(td, []*tuple.Tuple{
			saleRow(t, td, "east", 2),
		}),
	})
	require.ErrorIs(t, err, ErrRefreshRequired)
	assert.True(t, v.Fresh())

	rows, err = v.Rows()
	require.NoError(t, err)
	assert.Equal(t, []string{"east|2|99|", "west|7|7|"}, rowStrings(t, rows))
}

func TestApplyBeforeRefresh(t *testing.T) {
	v, _, td := salesView(t, []aggregation.Aggregate{
		{Op: aggregation.Sum, Column: 1},
	})

	err := v.IncrementalApply(ChangeSet{
		Inserted: iterator.NewTupleSource(td, []*tuple.Tuple{saleRow(t, td, "east", 1)}),
	})
	assert.ErrorIs(t, err, ErrRefreshRequired)
}

func TestFailedApplyLeavesViewStale(t *testing.T) {
	v, rt, td := salesView(t, []aggregation.Aggregate{
		{Op: aggregation.Sum, Column: 1},
	})
	require.NoError(t, v.CompleteRefresh(rt))

	// the south group does not exist, so the delete cannot be applied
	err := v.IncrementalApply(ChangeSet{
		Deleted: iterator.NewTupleSource(td, []*tuple.Tuple{saleRow(t, td, "south", 4)}),
	})
	require.ErrorIs(t, err, ErrRefreshRequired)
	assert.False(t, v.Fresh())

	_, err = v.Rows()
	assert.ErrorIs(t, err, ErrRefreshRequired)

	// a complete refresh recovers
	require.NoError(t, v.CompleteRefresh(rt))
	rows, err := v.Rows()
	require.NoError(t, err)
	assert.Equal(t, []string{"east|15|", "west|7|"}, rowStrings(t, rows))
}

func TestIncrementalMatchesRecompute(t *testing.T) {
	aggs := []aggregation.Aggregate{
		{Op: aggregation.Sum, Column: 1},
		{Op: aggregation.Count, Column: 1},
		{Op: aggregation.Avg, Column: 1},
	}
	v, rt, td := salesView(t, aggs)
	require.NoError(t, v.CompleteRefresh(rt))

	// apply the same changes both incrementally and by recomputation
	inserts := []*tuple.Tuple{
		saleRow(t, td, "east", 8),
		saleRow(t, td, "west", 2),
		saleRow(t, td, "west", 6),
	}
	require.NoError(t, v.IncrementalApply(ChangeSet{
		Inserted: iterator.NewTupleSource(td, inserts),
	}))
	require.NoError(t, v.IncrementalApply(ChangeSet{
		Deleted: iterator.NewTupleSource(td, []*tuple.Tuple{saleRow(t, td, "east", 10)}),
	}))

	got, err := v.Rows()
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"east|13|2|6.5|", "west|15|3|5|"},
		rowStrings(t, got))
}

func TestNewRejectsNonAggregateDefinition(t *testing.T) {
	_, err := New(&plan.Node{Kind: plan.Sort})
	require.Error(t, err)

	_, err = New(nil)
	require.Error(t, err)

	_, err = New(&plan.Node{Kind: plan.StreamAggregate})
	require.Error(t, err)
}
