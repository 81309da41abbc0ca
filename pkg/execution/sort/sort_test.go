package sort

import (
	"math/rand"
	stdsort "sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycore/pkg/config"
	"querycore/pkg/iterator"
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

func row(t *testing.T, td *tuple.TupleDescription, id int64, name string) *tuple.Tuple {
	t.Helper()
	tup := tuple.NewTuple(td)
	require.NoError(t, tup.SetField(0, types.NewIntField(id)))
	require.NoError(t, tup.SetField(1, types.NewStringField(name, types.StringMaxSize)))
	return tup
}

func nullIDRow(t *testing.T, td *tuple.TupleDescription, name string) *tuple.Tuple {
	t.Helper()
	tup := tuple.NewTuple(td)
	require.NoError(t, tup.SetField(1, types.NewStringField(name, types.StringMaxSize)))
	return tup
}

func sortedIDs(t *testing.T, s *Sort) []int64 {
	t.Helper()
	require.NoError(t, s.Open())
	defer s.Close()

	rows, err := iterator.Collect(s)
	require.NoError(t, err)

	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		f, err := r.GetField(0)
		require.NoError(t, err)
		if f == nil {
			out = append(out, -1)
			continue
		}
		out = append(out, f.(*types.IntField).Value)
	}
	return out
}

func TestSortAscending(t *testing.T) {
	td := testDesc(t)
	src := iterator.NewTupleSource(td, []*tuple.Tuple{
		row(t, td, 5, "e"), row(t, td, 1, "a"), row(t, td, 9, "i"), row(t, td, 3, "c"),
	})

	s, err := NewSort(src, []SortKey{{Column: 0}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 5, 9}, sortedIDs(t, s))
}

func TestSortDescending(t *testing.T) {
	td := testDesc(t)
	src := iterator.NewTupleSource(td, []*tuple.Tuple{
		row(t, td, 5, "e"), row(t, td, 1, "a"), row(t, td, 9, "i"),
	})

	s, err := NewSort(src, []SortKey{{Column: 0, Descending: true}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{9, 5, 1}, sortedIDs(t, s))
}

func TestSortNullPlacement(t *testing.T) {
	td := testDesc(t)
	rows := func() []*tuple.Tuple {
		return []*tuple.Tuple{
			row(t, td, 2, "b"), nullIDRow(t, td, "n"), row(t, td, 1, "a"),
		}
	}

	s, err := NewSort(iterator.NewTupleSource(td, rows()),
		[]SortKey{{Column: 0, NullOrdering: types.NullsFirst}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 1, 2}, sortedIDs(t, s))

	s, err = NewSort(iterator.NewTupleSource(td, rows()),
		[]SortKey{{Column: 0, NullOrdering: types.NullsLast}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, -1}, sortedIDs(t, s))

	// descending flips values but not null placement
	s, err = NewSort(iterator.NewTupleSource(td, rows()),
		[]SortKey{{Column: 0, Descending: true, NullOrdering: types.NullsFirst}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 2, 1}, sortedIDs(t, s))
}

func TestSortMultiKey(t *testing.T) {
	td := testDesc(t)
	src := iterator.NewTupleSource(td, []*tuple.Tuple{
		row(t, td, 1, "b"), row(t, td, 2, "a"), row(t, td, 1, "a"),
	})

	s, err := NewSort(src, []SortKey{{Column: 1}, {Column: 0, Descending: true}}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Open())
	defer s.Close()

	rows, err := iterator.Collect(s)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "2", fieldString(t, rows[0], 0))
	assert.Equal(t, "1", fieldString(t, rows[1], 0))
	assert.Equal(t, "b", fieldString(t, rows[2], 1))
}

func fieldString(t *testing.T, tup *tuple.Tuple, col int) string {
	t.Helper()
	f, err := tup.GetField(col)
	require.NoError(t, err)
	return f.String()
}

func TestSortKeyValidation(t *testing.T) {
	td := testDesc(t)
	src := iterator.NewTupleSource(td, nil)

	_, err := NewSort(src, nil, nil)
	require.Error(t, err)

	_, err = NewSort(src, []SortKey{{Column: 5}}, nil)
	require.Error(t, err)
}

func TestExternalSortMatchesInMemory(t *testing.T) {
	td := testDesc(t)

	rng := rand.New(rand.NewSource(42))
	var tuples []*tuple.Tuple
	var want []int64
	for i := 0; i < 500; i++ {
		v := rng.Int63n(1000)
		tuples = append(tuples, row(t, td, v, "x"))
		want = append(want, v)
	}
	stdsort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	cfg := config.Default()
	cfg.SpillAfterRows = 64
	cfg.MergeFanIn = 3
	cfg.SpillDir = t.TempDir()

	s, err := NewSort(iterator.NewTupleSource(td, tuples), []SortKey{{Column: 0}}, cfg)
	require.NoError(t, err)
	assert.Equal(t, want, sortedIDs(t, s))
}

func TestExternalSortRewind(t *testing.T) {
	td := testDesc(t)

	var tuples []*tuple.Tuple
	for i := int64(50); i > 0; i-- {
		tuples = append(tuples, row(t, td, i, "x"))
	}

	cfg := config.Default()
	cfg.SpillAfterRows = 10
	cfg.SpillDir = t.TempDir()

	s, err := NewSort(iterator.NewTupleSource(td, tuples), []SortKey{{Column: 0}}, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Open())
	defer s.Close()

	first, err := iterator.Collect(s)
	require.NoError(t, err)
	require.Len(t, first, 50)

	require.NoError(t, s.Rewind())
	second, err := iterator.Collect(s)
	require.NoError(t, err)
	require.Len(t, second, 50)
	assert.Equal(t, first[0].String(), second[0].String())
}

func TestSortEmptyInput(t *testing.T) {
	td := testDesc(t)
	s, err := NewSort(iterator.NewTupleSource(td, nil), []SortKey{{Column: 0}}, nil)
	require.NoError(t, err)
	assert.Empty(t, sortedIDs(t, s))
}
