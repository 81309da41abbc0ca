package aggregation

import (
	"fmt"

	"querycore/pkg/config"
	"querycore/pkg/execution/spill"
	"querycore/pkg/iterator"
	"querycore/pkg/tuple"
)

// maxSpillDepth caps recursive repartitioning, mirroring the grace hash
// join: a partition this deep is dominated by one group and aggregates in
// memory regardless.
const maxSpillDepth = 6

// HashAggregate groups rows through an in-memory hash table. Input beyond
// the memory budget is partitioned to disk by group-key hash and the
// partitions are aggregated one at a time, so every row of a group lands in
// the same partition. Output order across groups is unspecified.
type HashAggregate struct {
	base   *iterator.BaseIterator
	child  iterator.DbIterator
	layout *layout
	cfg    *config.Config

	out          *iterator.SliceIterator[*tuple.Tuple]
	parts        []aggPart
	expectGroups int64
}

// aggPart is one spilled input partition awaiting aggregation.
type aggPart struct {
	file  *spill.File
	depth int
}

// NewHashAggregate validates the grouping directive and builds the
// operator. An empty groupCols list aggregates the whole input into one
// row, emitted even for empty input.
func NewHashAggregate(child iterator.DbIterator, groupCols []int, aggs []Aggregate, cfg *config.Config) (*HashAggregate, error) {
	if child == nil {
		return nil, fmt.Errorf("child operator cannot be nil")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	l, err := newLayout(child.GetTupleDesc(), groupCols, aggs)
	if err != nil {
		return nil, err
	}

	a := &HashAggregate{child: child, layout: l, cfg: cfg}
	a.base = iterator.NewBaseIterator(a.readNext)
	return a, nil
}

// ExpectGroups primes the operator with the planner's estimate of the
// distinct group count, pre-sizing the group table.
func (a *HashAggregate) ExpectGroups(n int64) {
	a.expectGroups = n
}

// tableHint sizes the group map from the estimate, if one was given.
// Estimates beyond the spill budget are clamped; the table never holds
// more than one partition's groups at a time anyway.
func (a *HashAggregate) tableHint() int {
	if a.expectGroups <= 0 {
		return 0
	}
	if limit := int64(a.cfg.SpillAfterRows); limit > 0 && a.expectGroups > limit {
		return int(limit)
	}
	if a.expectGroups > 1<<20 {
		return 1 << 20
	}
	return int(a.expectGroups)
}

func (a *HashAggregate) Open() error {
	if err := a.child.Open(); err != nil {
		return fmt.Errorf("failed to open child operator: %w", err)
	}
	if err := a.start(); err != nil {
		return err
	}
	a.base.MarkOpened()
	return nil
}

// start consumes the child. Within budget the table is built directly;
// beyond it the buffered rows and the remainder are spread across spill
// partitions processed lazily by readNext.
func (a *HashAggregate) start() error {
	var rows []*tuple.Tuple
	spilled := false

	err := iterator.Iterate(a.child, func(t *tuple.Tuple) (bool, error) {
		rows = append(rows, t)
		if a.cfg.ShouldSpill(len(rows), a.layout.inDesc.GetSize()) {
			spilled = true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	if !spilled {
		out, err := a.aggregateRows(rows, nil)
		if err != nil {
			return err
		}
		a.out = iterator.NewSliceIterator(out)
		return nil
	}

	files, err := a.partitionRows(rows, a.child, 0)
	if err != nil {
		return err
	}
	a.parts = a.parts[:0]
	for _, f := range files {
		a.parts = append(a.parts, aggPart{file: f, depth: 0})
	}
	a.out = nil
	return nil
}

// aggregateRows folds a row slice plus an optional iterator remainder into
// groups and returns the emitted rows.
func (a *HashAggregate) aggregateRows(rows []*tuple.Tuple, rest iterator.DbIterator) ([]*tuple.Tuple, error) {
	table := make(map[string]*groupState, a.tableHint())

	fold := func(t *tuple.Tuple) error {
		key, err := a.layout.keyFieldsOf(t)
		if err != nil {
			return err
		}
		enc, err := encodeGroupKey(key)
		if err != nil {
			return err
		}
		g, ok := table[enc]
		if !ok {
			g = a.layout.newGroup(key)
			table[enc] = g
		}
		return g.absorb(a.layout, t)
	}

	for _, t := range rows {
		if err := fold(t); err != nil {
			return nil, err
		}
	}
	if rest != nil {
		if err := iterator.ForEach(rest, fold); err != nil {
			return nil, err
		}
	}

	// a global aggregate emits its single group even from empty input
	if len(a.layout.groupCols) == 0 && len(table) == 0 {
		table[""] = a.layout.newGroup(nil)
	}

	out := make([]*tuple.Tuple, 0, len(table))
	for _, g := range table {
		t, err := g.emit(a.layout)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// partitionRows spreads buffered rows plus the remainder of src across
// fan-out spill files by group-key hash.
func (a *HashAggregate) partitionRows(rows []*tuple.Tuple, src iterator.DbIterator, depth int) ([]*spill.File, error) {
	writers := make([]*spill.Writer, a.cfg.HashFanOut)
	discard := func() {
		for _, w := range writers {
			if w != nil {
				w.Discard()
			}
		}
	}
	for i := range writers {
		w, err := spill.NewWriter(a.cfg.SpillDir, a.layout.inDesc)
		if err != nil {
			discard()
			return nil, err
		}
		writers[i] = w
	}

	add := func(t *tuple.Tuple) error {
		key, err := a.layout.keyFieldsOf(t)
		if err != nil {
			return err
		}
		h, err := groupHash(key, depth)
		if err != nil {
			return err
		}
		return writers[h%uint64(len(writers))].Write(t)
	}

	for _, t := range rows {
		if err := add(t); err != nil {
			discard()
			return nil, err
		}
	}
	if src != nil {
		if err := iterator.ForEach(src, add); err != nil {
			discard()
			return nil, err
		}
	}

	files := make([]*spill.File, len(writers))
	for i, w := range writers {
		f, err := w.Finish()
		if err != nil {
			for k := i + 1; k < len(writers); k++ {
				writers[k].Discard()
			}
			for k := 0; k < i; k++ {
				files[k].Remove()
			}
			return nil, err
		}
		files[i] = f
	}
	return files, nil
}

// nextPartition aggregates the next spill partition into the output batch.
// Oversized partitions repartition at the next depth first.
func (a *HashAggregate) nextPartition() (bool, error) {
	for len(a.parts) > 0 {
		p := a.parts[0]
		a.parts = a.parts[1:]

		it := p.file.Iterator()
		if err := it.Open(); err != nil {
			p.file.Remove()
			return false, err
		}

		var rows []*tuple.Tuple
		overflow := false
		err := iterator.Iterate(it, func(t *tuple.Tuple) (bool, error) {
			rows = append(rows, t)
			if p.depth < maxSpillDepth && a.cfg.ShouldSpill(len(rows), a.layout.inDesc.GetSize()) {
				overflow = true
				return false, nil
			}
			return true, nil
		})
		if err != nil {
			it.Close()
			p.file.Remove()
			return false, err
		}

		if overflow {
			files, err := a.partitionRows(rows, it, p.depth+1)
			it.Close()
			p.file.Remove()
			if err != nil {
				return false, err
			}
			sub := make([]aggPart, 0, len(files))
			for _, f := range files {
				sub = append(sub, aggPart{file: f, depth: p.depth + 1})
			}
			a.parts = append(sub, a.parts...)
			continue
		}

		it.Close()
		p.file.Remove()
		if len(rows) == 0 {
			continue
		}

		out, err := a.aggregateRows(rows, nil)
		if err != nil {
			return false, err
		}
		a.out = iterator.NewSliceIterator(out)
		return true, nil
	}
	return false, nil
}

func (a *HashAggregate) readNext() (*tuple.Tuple, error) {
	for {
		if a.out != nil && a.out.HasNext() {
			return a.out.Next()
		}
		ok, err := a.nextPartition()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}
}

func (a *HashAggregate) HasNext() (bool, error) {
	return a.base.HasNext()
}

func (a *HashAggregate) Next() (*tuple.Tuple, error) {
	return a.base.Next()
}

// Rewind rebuilds the aggregation from the child.
func (a *HashAggregate) Rewind() error {
	if !a.base.IsOpened() {
		return fmt.Errorf("iterator not opened")
	}
	a.discardParts()
	if err := a.child.Rewind(); err != nil {
		return err
	}
	if err := a.start(); err != nil {
		return err
	}
	a.base.ClearCache()
	return nil
}

func (a *HashAggregate) discardParts() {
	for _, p := range a.parts {
		p.file.Remove()
	}
	a.parts = nil
}

func (a *HashAggregate) Close() error {
	a.discardParts()
	a.out = nil
	a.child.Close()
	return a.base.Close()
}

func (a *HashAggregate) GetTupleDesc() *tuple.TupleDescription {
	return a.layout.outDesc
}
