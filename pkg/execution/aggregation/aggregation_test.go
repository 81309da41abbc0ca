package aggregation

import (
	"fmt"
	"math/rand"
	stdsort "sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycore/pkg/config"
	"querycore/pkg/errs"
	"querycore/pkg/execution/sort"
	"querycore/pkg/iterator"
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

func testDesc(t *testing.T) *tuple.TupleDescription {
	t.Helper()
	td, err := tuple.NewTupleDesc(
		[]types.Type{types.StringType, types.IntType},
		[]string{"grp", "val"})
	require.NoError(t, err)
	return td
}

func row(t *testing.T, td *tuple.TupleDescription, grp string, val int64) *tuple.Tuple {
	t.Helper()
	tup := tuple.NewTuple(td)
	require.NoError(t, tup.SetField(0, types.NewStringField(grp, types.StringMaxSize)))
	require.NoError(t, tup.SetField(1, types.NewIntField(val)))
	return tup
}

func collectSorted(t *testing.T, it iterator.DbIterator) []string {
	t.Helper()
	require.NoError(t, it.Open())
	defer it.Close()

	rows, err := iterator.Collect(it)
	require.NoError(t, err)

	out := make([]string, 0, len(rows))
	for _, r := range rows {
		s := ""
		for i := 0; i < r.TupleDesc.NumFields(); i++ {
			f, err := r.GetField(i)
			require.NoError(t, err)
			if f == nil {
				s += "<null>|"
				continue
			}
			s += f.String() + "|"
		}
		out = append(out, s)
	}
	stdsort.Strings(out)
	return out
}

func TestStreamAggregateSum(t *testing.T) {
	td := testDesc(t)
	src := iterator.NewTupleSource(td, []*tuple.Tuple{
		row(t, td, "A", 1), row(t, td, "A", 2), row(t, td, "B", 5),
	})

	a, err := NewStreamAggregate(src, []int{0}, []Aggregate{{Op: Sum, Column: 1}})
	require.NoError(t, err)

	require.NoError(t, a.Open())
	defer a.Close()
	rows, err := iterator.Collect(a)
	require.NoError(t, err)

	// sorted input closes groups in order
	require.Len(t, rows, 2)
	g0, _ := rows[0].GetField(0)
	s0, _ := rows[0].GetField(1)
	assert.Equal(t, "A", g0.String())
	assert.Equal(t, int64(3), s0.(*types.IntField).Value)
	g1, _ := rows[1].GetField(0)
	s1, _ := rows[1].GetField(1)
	assert.Equal(t, "B", g1.String())
	assert.Equal(t, int64(5), s1.(*types.IntField).Value)
}

func TestHashAggregateAllOps(t *testing.T) {
	td := testDesc(t)
	src := iterator.NewTupleSource(td, []*tuple.Tuple{
		row(t, td, "A", 4), row(t, td, "A", 2), row(t, td, "B", 5),
	})

	a, err := NewHashAggregate(src, []int{0}, []Aggregate{
		{Op: Sum, Column: 1},
		{Op: Count, Column: 1},
		{Op: Min, Column: 1},
		{Op: Max, Column: 1},
		{Op: Avg, Column: 1},
	}, nil)
	require.NoError(t, err)

	got := collectSorted(t, a)
	assert.Equal(t, []string{
		"A|6|2|2|4|3|",
		"B|5|1|5|5|5|",
	}, got)
}

func TestAggregateNullHandling(t *testing.T) {
	td := testDesc(t)

	nullVal := tuple.NewTuple(td)
	require.NoError(t, nullVal.SetField(0, types.NewStringField("A", types.StringMaxSize)))

	nullGrp := tuple.NewTuple(td)
	require.NoError(t, nullGrp.SetField(1, types.NewIntField(9)))

	src := iterator.NewTupleSource(td, []*tuple.Tuple{
		row(t, td, "A", 1), nullVal, nullGrp,
	})

	a, err := NewHashAggregate(src, []int{0}, []Aggregate{
		{Op: Sum, Column: 1}, {Op: Count, Column: 1},
	}, nil)
	require.NoError(t, err)

	// null values are skipped, null group keys group together
	got := collectSorted(t, a)
	assert.Equal(t, []string{
		"<null>|9|1|",
		"A|1|1|",
	}, got)
}

func TestGlobalAggregateEmptyInput(t *testing.T) {
	td := testDesc(t)

	a, err := NewHashAggregate(iterator.NewTupleSource(td, nil), nil,
		[]Aggregate{{Op: Count, Column: 1}, {Op: Sum, Column: 1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"0|<null>|"}, collectSorted(t, a))

	s, err := NewStreamAggregate(iterator.NewTupleSource(td, nil), nil,
		[]Aggregate{{Op: Count, Column: 1}, {Op: Sum, Column: 1}})
	require.NoError(t, err)
	assert.Equal(t, []string{"0|<null>|"}, collectSorted(t, s))
}

func TestAggregateValidation(t *testing.T) {
	td := testDesc(t)
	src := iterator.NewTupleSource(td, nil)

	_, err := NewHashAggregate(src, []int{0}, nil, nil)
	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))

	// SUM over a string column
	_, err = NewHashAggregate(src, nil, []Aggregate{{Op: Sum, Column: 0}}, nil)
	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))

	_, err = NewStreamAggregate(src, []int{9}, []Aggregate{{Op: Count, Column: 1}})
	require.Error(t, err)
}

func TestHashStreamEquivalence(t *testing.T) {
	td := testDesc(t)

	rng := rand.New(rand.NewSource(11))
	var rows []*tuple.Tuple
	for i := 0; i < 300; i++ {
		rows = append(rows, row(t, td, fmt.Sprintf("g%02d", rng.Intn(20)), rng.Int63n(100)))
	}

	aggs := []Aggregate{{Op: Sum, Column: 1}, {Op: Count, Column: 1}, {Op: Max, Column: 1}}

	hash, err := NewHashAggregate(iterator.NewTupleSource(td, rows), []int{0}, aggs, nil)
	require.NoError(t, err)
	want := collectSorted(t, hash)

	// spilling hash aggregate
	cfg := config.Default()
	cfg.SpillAfterRows = 32
	cfg.HashFanOut = 4
	cfg.SpillDir = t.TempDir()
	spilled, err := NewHashAggregate(iterator.NewTupleSource(td, rows), []int{0}, aggs, cfg)
	require.NoError(t, err)
	assert.Equal(t, want, collectSorted(t, spilled))

	// stream aggregate over sorted input
	sorted, err := sort.NewSort(iterator.NewTupleSource(td, rows), []sort.SortKey{{Column: 0}}, nil)
	require.NoError(t, err)
	stream, err := NewStreamAggregate(sorted, []int{0}, aggs)
	require.NoError(t, err)
	assert.Equal(t, want, collectSorted(t, stream))
}

func TestAvgCarriesSumAndCount(t *testing.T) {
	td := testDesc(t)
	src := iterator.NewTupleSource(td, []*tuple.Tuple{
		row(t, td, "A", 1), row(t, td, "A", 2),
	})

	a, err := NewHashAggregate(src, []int{0}, []Aggregate{{Op: Avg, Column: 1}}, nil)
	require.NoError(t, err)

	require.NoError(t, a.Open())
	defer a.Close()
	rows, err := iterator.Collect(a)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	f, err := rows[0].GetField(1)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, f.(*types.Float64Field).Value, 1e-9)
}

func TestExpectGroupsHint(t *testing.T) {
	td := testDesc(t)
	rows := []*tuple.Tuple{
		row(t, td, "a", 1), row(t, td, "b", 2), row(t, td, "a", 3),
	}

	a, err := NewHashAggregate(iterator.NewTupleSource(td, rows),
		[]int{0}, []Aggregate{{Op: Sum, Column: 1}}, nil)
	require.NoError(t, err)
	a.ExpectGroups(2)
	assert.Equal(t, 2, a.tableHint())
	assert.Equal(t, []string{"a|4|", "b|2|"}, collectSorted(t, a))

	// the hint only sizes the table; wild estimates stay clamped and
	// never change results
	b, err := NewHashAggregate(iterator.NewTupleSource(td, rows),
		[]int{0}, []Aggregate{{Op: Sum, Column: 1}}, nil)
	require.NoError(t, err)
	b.ExpectGroups(1 << 40)
	assert.LessOrEqual(t, b.tableHint(), 1<<20)
	assert.Equal(t, []string{"a|4|", "b|2|"}, collectSorted(t, b))

	c, err := NewHashAggregate(iterator.NewTupleSource(td, rows),
		[]int{0}, []Aggregate{{Op: Sum, Column: 1}}, nil)
	require.NoError(t, err)
	c.ExpectGroups(-1)
	assert.Equal(t, 0, c.tableHint())
}
