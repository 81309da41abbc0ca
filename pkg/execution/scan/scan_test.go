package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycore/pkg/index/btree"
	"querycore/pkg/iterator"
	"querycore/pkg/partition"
	"querycore/pkg/primitives"
	"querycore/pkg/storage/page"
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

func testDesc(t *testing.T) *tuple.TupleDescription {
	t.Helper()
	td, err := tuple.NewTupleDesc(
		[]types.Type{types.IntType, types.StringType},
		[]string{"id", "name"})
	require.NoError(t, err)
	return td
}

func makeTuple(t *testing.T, td *tuple.TupleDescription, id int64, name string) *tuple.Tuple {
	t.Helper()
	tup := tuple.NewTuple(td)
	require.NoError(t, tup.SetField(0, types.NewIntField(id)))
	require.NoError(t, tup.SetField(1, types.NewStringField(name, types.StringMaxSize)))
	return tup
}

func collectIDs(t *testing.T, it iterator.DbIterator) []int64 {
	t.Helper()
	require.NoError(t, it.Open())
	defer it.Close()

	rows, err := iterator.Collect(it)
	require.NoError(t, err)

	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		f, err := r.GetField(0)
		require.NoError(t, err)
		out = append(out, int64(f.(*types.IntField).Value))
	}
	return out
}

func TestSegmentScanAcrossPartitions(t *testing.T) {
	td := testDesc(t)
	store := page.NewMemStore()

	for i := int64(0); i < 5; i++ {
		_, err := store.AppendRow(1, makeTuple(t, td, i, "seg1"))
		require.NoError(t, err)
	}
	for i := int64(5); i < 8; i++ {
		_, err := store.AppendRow(2, makeTuple(t, td, i, "seg2"))
		require.NoError(t, err)
	}

	parts := []partition.Partition{
		{ID: 0, Segment: 1},
		{ID: 1, Segment: 2},
	}

	s, err := NewSegmentScan(store, td, parts, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7}, collectIDs(t, s))
}

func TestSegmentScanResidualFilter(t *testing.T) {
	td := testDesc(t)
	store := page.NewMemStore()
	for i := int64(0); i < 10; i++ {
		_, err := store.AppendRow(1, makeTuple(t, td, i, "x"))
		require.NoError(t, err)
	}
	parts := []partition.Partition{{ID: 0, Segment: 1}}

	s, err := NewSegmentScan(store, td, parts,
		[]partition.Constraint{partition.NewConstraint(0, primitives.GreaterThanOrEqual, types.NewIntField(7))})
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8, 9}, collectIDs(t, s))
}

func TestSegmentScanNullNeverMatches(t *testing.T) {
	td := testDesc(t)
	store := page.NewMemStore()

	withNull := tuple.NewTuple(td)
	require.NoError(t, withNull.SetField(1, types.NewStringField("null-id", types.StringMaxSize)))
	_, err := store.AppendRow(1, withNull)
	require.NoError(t, err)
	_, err = store.AppendRow(1, makeTuple(t, td, 3, "y"))
	require.NoError(t, err)

	s, err := NewSegmentScan(store, td, []partition.Partition{{ID: 0, Segment: 1}},
		[]partition.Constraint{partition.NewConstraint(0, primitives.NotEqual, types.NewIntField(99))})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, collectIDs(t, s))
}

func TestSegmentScanEmptyPartitionList(t *testing.T) {
	td := testDesc(t)
	s, err := NewSegmentScan(page.NewMemStore(), td, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, collectIDs(t, s))
}

func TestSegmentScanRewind(t *testing.T) {
	td := testDesc(t)
	store := page.NewMemStore()
	for i := int64(0); i < 3; i++ {
		_, err := store.AppendRow(1, makeTuple(t, td, i, "x"))
		require.NoError(t, err)
	}

	s, err := NewSegmentScan(store, td, []partition.Partition{{ID: 0, Segment: 1}}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Open())
	defer s.Close()

	first, err := iterator.Collect(s)
	require.NoError(t, err)
	require.NoError(t, s.Rewind())
	second, err := iterator.Collect(s)
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second))
}

func indexedStore(t *testing.T, td *tuple.TupleDescription, ids []int64) (*page.MemStore, *btree.BTree) {
	t.Helper()
	store := page.NewMemStore()
	tree, err := btree.NewBTree(4, []types.Type{types.IntType}, types.NullsFirst)
	require.NoError(t, err)

	for _, id := range ids {
		rid, err := store.AppendRow(1, makeTuple(t, td, id, "row"))
		require.NoError(t, err)
		require.NoError(t, tree.Insert(types.NewKey(types.NewIntField(id)), rid))
	}
	return store, tree
}

func TestIndexScanRange(t *testing.T) {
	td := testDesc(t)
	store, tree := indexedStore(t, td, []int64{5, 1, 9, 3, 7})

	low := types.NewKey(types.NewIntField(3))
	high := types.NewKey(types.NewIntField(7))
	s, err := NewIndexScan(tree, store, td, &low, &high, true, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5, 7}, collectIDs(t, s))
}

func TestIndexScanDescending(t *testing.T) {
	td := testDesc(t)
	store, tree := indexedStore(t, td, []int64{2, 4, 6, 8})

	s, err := NewIndexScan(tree, store, td, nil, nil, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{8, 6, 4, 2}, collectIDs(t, s))
}

func TestIndexScanResidual(t *testing.T) {
	td := testDesc(t)
	store, tree := indexedStore(t, td, []int64{1, 2, 3, 4, 5})

	s, err := NewIndexScan(tree, store, td, nil, nil, true,
		[]partition.Constraint{partition.NewConstraint(0, primitives.NotEqual, types.NewIntField(3))})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 4, 5}, collectIDs(t, s))
}

func TestIndexScanMissIsEmpty(t *testing.T) {
	td := testDesc(t)
	store, tree := indexedStore(t, td, []int64{1, 2, 3})

	low := types.NewKey(types.NewIntField(40))
	high := types.NewKey(types.NewIntField(50))
	s, err := NewIndexScan(tree, store, td, &low, &high, true, nil)
	require.NoError(t, err)
	assert.Empty(t, collectIDs(t, s))
}
