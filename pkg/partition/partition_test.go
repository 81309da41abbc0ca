package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycore/pkg/primitives"
	"querycore/pkg/types"
)

func intF(v int64) types.Field { return types.NewIntField(v) }

func strF(v string) types.Field { return types.NewStringField(v, types.StringMaxSize) }

func parts(n int) []Partition {
	out := make([]Partition, n)
	for i := range out {
		out[i] = Partition{ID: primitives.PartitionID(i), Segment: primitives.SegmentID(100 + i)}
	}
	return out
}

func ids(ps []Partition) []primitives.PartitionID {
	out := make([]primitives.PartitionID, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

// Three partitions: (-inf, 10), [10, 20), [20, +inf).
func testRangeScheme(t *testing.T) *RangeScheme {
	t.Helper()
	rs, err := NewRangeScheme(0, []types.Field{intF(10), intF(20)}, parts(3))
	require.NoError(t, err)
	return rs
}

func TestRangeSchemeValidation(t *testing.T) {
	tests := []struct {
		name   string
		bounds []types.Field
		nParts int
	}{
		{"partition count mismatch", []types.Field{intF(10)}, 3},
		{"null bound", []types.Field{nil}, 2},
		{"descending bounds", []types.Field{intF(20), intF(10)}, 3},
		{"equal bounds", []types.Field{intF(10), intF(10)}, 3},
		{"mixed bound types", []types.Field{intF(10), strF("x")}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRangeScheme(0, tt.bounds, parts(tt.nParts))
			require.Error(t, err)
		})
	}
}

func TestRangeSchemePrune(t *testing.T) {
	rs := testRangeScheme(t)

	tests := []struct {
		name       string
		constraint Constraint
		want       []primitives.PartitionID
	}{
		{"equality low", NewConstraint(0, primitives.Equals, intF(5)), []primitives.PartitionID{0}},
		{"equality on bound", NewConstraint(0, primitives.Equals, intF(10)), []primitives.PartitionID{1}},
		{"equality high", NewConstraint(0, primitives.Equals, intF(25)), []primitives.PartitionID{2}},
		{"in list spanning", NewInConstraint(0, intF(5), intF(25)), []primitives.PartitionID{0, 2}},
		{"less than", NewConstraint(0, primitives.LessThan, intF(15)), []primitives.PartitionID{0, 1}},
		{"greater than", NewConstraint(0, primitives.GreaterThan, intF(12)), []primitives.PartitionID{1, 2}},
		{"greater than past last bound", NewConstraint(0, primitives.GreaterThanOrEqual, intF(20)), []primitives.PartitionID{2}},
		{"not equal keeps all", NewConstraint(0, primitives.NotEqual, intF(5)), []primitives.PartitionID{0, 1, 2}},
		{"other column keeps all", NewConstraint(7, primitives.Equals, intF(5)), []primitives.PartitionID{0, 1, 2}},
		{"null value keeps all", NewConstraint(0, primitives.Equals, nil), []primitives.PartitionID{0, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, err := rs.Prune([]Constraint{tt.constraint})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(kept))
		})
	}
}

func TestRangeSchemePruneConjunction(t *testing.T) {
	rs := testRangeScheme(t)

	kept, err := rs.Prune([]Constraint{
		NewConstraint(0, primitives.GreaterThanOrEqual, intF(12)),
		NewConstraint(0, primitives.LessThan, intF(18)),
	})
	require.NoError(t, err)
	assert.Equal(t, []primitives.PartitionID{1}, ids(kept))

	// contradictory constraints prune everything
	kept, err = rs.Prune([]Constraint{
		NewConstraint(0, primitives.GreaterThan, intF(30)),
		NewConstraint(0, primitives.LessThan, intF(5)),
	})
	require.NoError(t, err)
	assert.Empty(t, kept)
}

func TestListScheme(t *testing.T) {
	ps := parts(2)
	ls, err := NewListScheme(3, [][]types.Field{
		{strF("us"), strF("ca")},
		{strF("de"), strF("fr")},
	}, ps)
	require.NoError(t, err)

	kept, err := ls.Prune([]Constraint{NewConstraint(3, primitives.Equals, strF("de"))})
	require.NoError(t, err)
	assert.Equal(t, []primitives.PartitionID{1}, ids(kept))

	// unlisted value with no default partition matches nothing
	kept, err = ls.Prune([]Constraint{NewConstraint(3, primitives.Equals, strF("jp"))})
	require.NoError(t, err)
	assert.Empty(t, kept)

	// ordering predicates keep everything
	kept, err = ls.Prune([]Constraint{NewConstraint(3, primitives.LessThan, strF("m"))})
	require.NoError(t, err)
	assert.Len(t, kept, 2)
}

func TestListSchemeDefaultPartition(t *testing.T) {
	ls, err := NewListScheme(0, [][]types.Field{{intF(1)}}, parts(1))
	require.NoError(t, err)
	ls.WithDefault(Partition{ID: 9, Segment: 200})

	kept, err := ls.Prune([]Constraint{NewConstraint(0, primitives.Equals, intF(42))})
	require.NoError(t, err)
	assert.Equal(t, []primitives.PartitionID{9}, ids(kept))

	assert.Len(t, ls.Partitions(), 2)
}

func TestListSchemeValidation(t *testing.T) {
	tests := []struct {
		name  string
		lists [][]types.Field
	}{
		{"list count mismatch", [][]types.Field{{intF(1)}}},
		{"empty list", [][]types.Field{{intF(1)}, {}}},
		{"null value", [][]types.Field{{intF(1)}, {nil}}},
		{"duplicate across lists", [][]types.Field{{intF(1)}, {intF(1)}}},
		{"mixed types", [][]types.Field{{intF(1)}, {strF("x")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewListScheme(0, tt.lists, parts(2))
			require.Error(t, err)
		})
	}
}

func TestHashScheme(t *testing.T) {
	hs, err := NewHashScheme(2, parts(4))
	require.NoError(t, err)

	v := intF(37)
	kept, err := hs.Prune([]Constraint{NewConstraint(2, primitives.Equals, v)})
	require.NoError(t, err)
	require.Len(t, kept, 1)
	b, err := hs.bucket(v)
	require.NoError(t, err)
	assert.Equal(t, hs.parts[b].ID, kept[0].ID)

	// ranges hash anywhere, so ordering predicates keep every bucket
	kept, err = hs.Prune([]Constraint{NewConstraint(2, primitives.LessThan, v)})
	require.NoError(t, err)
	assert.Len(t, kept, 4)

	_, err = NewHashScheme(2, nil)
	require.Error(t, err)
}

func TestCompositeScheme(t *testing.T) {
	// range on column 0 over two groups, hash on column 1 with two buckets each
	outer, err := NewRangeScheme(0, []types.Field{intF(100)},
		[]Partition{{ID: 1000}, {ID: 2000}})
	require.NoError(t, err)

	lowHash, err := NewHashScheme(1, []Partition{{ID: 0}, {ID: 1}})
	require.NoError(t, err)
	highHash, err := NewHashScheme(1, []Partition{{ID: 2}, {ID: 3}})
	require.NoError(t, err)

	cs, err := NewCompositeScheme(outer, map[primitives.PartitionID]Scheme{
		1000: lowHash,
		2000: highHash,
	})
	require.NoError(t, err)
	assert.Len(t, cs.Partitions(), 4)

	// range constraint alone keeps one group's full bucket set
	kept, err := cs.Prune([]Constraint{NewConstraint(0, primitives.LessThan, intF(50))})
	require.NoError(t, err)
	assert.Equal(t, []primitives.PartitionID{0, 1}, ids(kept))

	// adding the hash column narrows to a single leaf
	kept, err = cs.Prune([]Constraint{
		NewConstraint(0, primitives.LessThan, intF(50)),
		NewConstraint(1, primitives.Equals, intF(7)),
	})
	require.NoError(t, err)
	require.Len(t, kept, 1)

	_, err = NewCompositeScheme(outer, map[primitives.PartitionID]Scheme{1000: lowHash})
	require.Error(t, err)
}

// Pruning must never discard a partition holding a qualifying row. Route
// rows by hand through each scheme and check that every row satisfying a
// constraint lands in a kept partition.
func TestPruneIsConservative(t *testing.T) {
	rs := testRangeScheme(t)
	hs, err := NewHashScheme(0, parts(5))
	require.NoError(t, err)

	route := func(s Scheme, v types.Field) primitives.PartitionID {
		switch sc := s.(type) {
		case *RangeScheme:
			for _, item := range sc.items {
				if item.upper == nil {
					return item.part.ID
				}
				cmp, err := v.Cmp(item.upper)
				require.NoError(t, err)
				if cmp < 0 {
					return item.part.ID
				}
			}
			t.Fatal("unroutable value")
			return 0
		case *HashScheme:
			b, err := sc.bucket(v)
			require.NoError(t, err)
			return sc.parts[b].ID
		default:
			t.Fatal("unknown scheme")
			return 0
		}
	}

	satisfies := func(op primitives.Predicate, v, c int64) bool {
		switch op {
		case primitives.Equals:
			return v == c
		case primitives.LessThan:
			return v < c
		case primitives.LessThanOrEqual:
			return v <= c
		case primitives.GreaterThan:
			return v > c
		case primitives.GreaterThanOrEqual:
			return v >= c
		case primitives.NotEqual:
			return v != c
		}
		return false
	}

	ops := []primitives.Predicate{
		primitives.Equals, primitives.LessThan, primitives.LessThanOrEqual,
		primitives.GreaterThan, primitives.GreaterThanOrEqual, primitives.NotEqual,
	}

	for _, s := range []Scheme{rs, hs} {
		for _, op := range ops {
			for c := int64(-2); c <= 32; c += 3 {
				kept, err := s.Prune([]Constraint{NewConstraint(0, op, intF(c))})
				require.NoError(t, err)

				keptIDs := make(map[primitives.PartitionID]struct{})
				for _, p := range kept {
					keptIDs[p.ID] = struct{}{}
				}

				for v := int64(-5); v <= 35; v++ {
					if !satisfies(op, v, c) {
						continue
					}
					home := route(s, intF(v))
					_, ok := keptIDs[home]
					assert.True(t, ok,
						"row %d satisfies op %v against %d but partition %d was pruned", v, op, c, home)
				}
			}
		}
	}
}
