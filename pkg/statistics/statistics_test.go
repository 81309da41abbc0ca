package statistics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

func TestEstimatedBytes(t *testing.T) {
	td, err := tuple.NewTupleDesc(
		[]types.Type{types.IntType, types.IntType},
		[]string{"a", "b"})
	require.NoError(t, err)

	ts := NewTableStats(100)
	assert.Equal(t, 100*int64(td.GetSize()), ts.EstimatedBytes(td))
	assert.Equal(t, int64(0), ts.EstimatedBytes(nil))

	var none *TableStats
	assert.Equal(t, int64(0), none.EstimatedBytes(td))
}

func TestEstimatedGroups(t *testing.T) {
	ts := NewTableStats(1000).WithDistinct(0, 7)

	assert.Equal(t, int64(7), ts.EstimatedGroups(0))
	// unknown column falls back to the row count
	assert.Equal(t, int64(1000), ts.EstimatedGroups(3))

	var none *TableStats
	assert.Equal(t, int64(0), none.EstimatedGroups(0))
}

func TestStaticProvider(t *testing.T) {
	sp := StaticProvider{"orders": NewTableStats(42)}

	ts, ok := sp.TableStats("orders")
	require.True(t, ok)
	assert.Equal(t, int64(42), ts.RowCount)

	_, ok = sp.TableStats("missing")
	assert.False(t, ok)
}
