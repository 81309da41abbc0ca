package statistics

import (
	"querycore/pkg/primitives"
	"querycore/pkg/tuple"
)

// TableStats carries the precomputed estimates the execution core consumes:
// per-table row counts and per-column distinct-value counts. The core never
// computes statistics itself and uses them only to size memory budgets and
// spill behavior, never to choose join algorithms.
type TableStats struct {
	RowCount       int64
	DistinctValues map[primitives.ColumnID]int64
}

func NewTableStats(rowCount int64) *TableStats {
	return &TableStats{
		RowCount:       rowCount,
		DistinctValues: make(map[primitives.ColumnID]int64),
	}
}

// WithDistinct records the distinct-value count for a column.
func (ts *TableStats) WithDistinct(col primitives.ColumnID, n int64) *TableStats {
	ts.DistinctValues[col] = n
	return ts
}

// EstimatedBytes estimates the materialized size of the table under the
// given schema.
func (ts *TableStats) EstimatedBytes(td *tuple.TupleDescription) int64 {
	if ts == nil || td == nil {
		return 0
	}
	return ts.RowCount * int64(td.GetSize())
}

// EstimatedGroups estimates the number of distinct groups for a grouping
// column, falling back to the row count when no distinct count is known.
func (ts *TableStats) EstimatedGroups(col primitives.ColumnID) int64 {
	if ts == nil {
		return 0
	}
	if n, ok := ts.DistinctValues[col]; ok {
		return n
	}
	return ts.RowCount
}

// Provider resolves statistics for named tables. A nil or missing entry means
// no estimate is available and operators fall back to configured thresholds.
type Provider interface {
	TableStats(table string) (*TableStats, bool)
}

// StaticProvider is a Provider over a fixed map, the form an external
// statistics collector typically hands the core.
type StaticProvider map[string]*TableStats

func (sp StaticProvider) TableStats(table string) (*TableStats, bool) {
	ts, ok := sp[table]
	return ts, ok
}
