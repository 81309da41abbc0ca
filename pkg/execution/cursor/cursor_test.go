package cursor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycore/pkg/errs"
	"querycore/pkg/execution/sort"
	"querycore/pkg/iterator"
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

func testDesc(t *testing.T) *tuple.TupleDescription {
	t.Helper()
	td, err := tuple.NewTupleDesc(
		[]types.Type{types.IntType, types.IntType, types.StringType},
		[]string{"score", "id", "name"})
	require.NoError(t, err)
	return td
}

func row(t *testing.T, td *tuple.TupleDescription, score, id int64, name string) *tuple.Tuple {
	t.Helper()
	tup := tuple.NewTuple(td)
	require.NoError(t, tup.SetField(0, types.NewIntField(score)))
	require.NoError(t, tup.SetField(1, types.NewIntField(id)))
	require.NoError(t, tup.SetField(2, types.NewStringField(name, types.StringMaxSize)))
	return tup
}

// sortedSource sorts rows by the given keys fresh on every call, the way a
// plan would re-run its subtree per page.
func sortedSource(t *testing.T, td *tuple.TupleDescription, rows []*tuple.Tuple, keys []sort.SortKey) Source {
	return func(resume []types.Field) (iterator.DbIterator, error) {
		return sort.NewSort(iterator.NewTupleSource(td, rows), keys, nil)
	}
}

func rowID(t *testing.T, tup *tuple.Tuple) int64 {
	t.Helper()
	f, err := tup.GetField(1)
	require.NoError(t, err)
	return f.(*types.IntField).Value
}

func TestKeysetPaginationCoversWholeSet(t *testing.T) {
	td := testDesc(t)
	keys := []sort.SortKey{{Column: 0}, {Column: 1}}

	rng := rand.New(rand.NewSource(3))
	var rows []*tuple.Tuple
	for i := int64(0); i < 57; i++ {
		// duplicate scores force the tie-breaker to carry the ordering
		rows = append(rows, row(t, td, rng.Int63n(10), i, "r"))
	}

	k, err := NewKeyset(sortedSource(t, td, rows, keys), td, keys)
	require.NoError(t, err)

	// unpaginated reference
	ref, err := sort.NewSort(iterator.NewTupleSource(td, rows), keys, nil)
	require.NoError(t, err)
	require.NoError(t, ref.Open())
	want, err := iterator.Collect(ref)
	require.NoError(t, err)
	ref.Close()

	var got []*tuple.Tuple
	token := ""
	pages := 0
	for {
		page, next, err := k.Page(token, 7)
		require.NoError(t, err)
		got = append(got, page...)
		pages++
		require.Less(t, pages, 20, "pagination did not terminate")
		if next == "" {
			break
		}
		token = next
	}

	require.Len(t, got, len(want))
	seen := make(map[int64]bool)
	for i := range want {
		assert.Equal(t, rowID(t, want[i]), rowID(t, got[i]))
		assert.False(t, seen[rowID(t, got[i])], "row %d returned twice", rowID(t, got[i]))
		seen[rowID(t, got[i])] = true
	}
}

func TestKeysetPageBoundaries(t *testing.T) {
	td := testDesc(t)
	keys := []sort.SortKey{{Column: 0}, {Column: 1}}

	var rows []*tuple.Tuple
	for i := int64(0); i < 6; i++ {
		rows = append(rows, row(t, td, i, i, "r"))
	}

	k, err := NewKeyset(sortedSource(t, td, rows, keys), td, keys)
	require.NoError(t, err)

	// page size divides the set exactly: the last full page carries a
	// token and the page after it is empty
	page, token, err := k.Page("", 3)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	require.NotEmpty(t, token)

	page, token, err = k.Page(token, 3)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	require.NotEmpty(t, token)

	page, token, err = k.Page(token, 3)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Empty(t, token)
}

func TestKeysetDescending(t *testing.T) {
	td := testDesc(t)
	keys := []sort.SortKey{{Column: 0, Descending: true}, {Column: 1}}

	var rows []*tuple.Tuple
	for i := int64(1); i <= 5; i++ {
		rows = append(rows, row(t, td, i, i, "r"))
	}

	k, err := NewKeyset(sortedSource(t, td, rows, keys), td, keys)
	require.NoError(t, err)

	page1, token, err := k.Page("", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, int64(5), rowID(t, page1[0]))
	assert.Equal(t, int64(4), rowID(t, page1[1]))

	page2, _, err := k.Page(token, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, int64(3), rowID(t, page2[0]))
}

func TestKeysetBadToken(t *testing.T) {
	td := testDesc(t)
	keys := []sort.SortKey{{Column: 0}, {Column: 1}}

	k, err := NewKeyset(sortedSource(t, td, nil, keys), td, keys)
	require.NoError(t, err)

	_, _, err = k.Page("not base64 !!!", 5)
	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))

	_, _, err = k.Page("AAAA", 5)
	require.Error(t, err)

	_, _, err = k.Page("", 0)
	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))
}

func TestKeysetValidation(t *testing.T) {
	td := testDesc(t)

	// missing tie-breaker
	_, err := NewKeyset(sortedSource(t, td, nil, nil), td, []sort.SortKey{{Column: 0}})
	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))

	_, err = NewKeyset(sortedSource(t, td, nil, nil), td,
		[]sort.SortKey{{Column: 0}, {Column: 9}})
	require.Error(t, err)
}
