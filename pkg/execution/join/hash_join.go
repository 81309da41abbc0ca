package join

import (
	"fmt"

	"querycore/pkg/config"
	"querycore/pkg/execution/spill"
	"querycore/pkg/iterator"
	"querycore/pkg/tuple"
)

// maxGraceDepth caps recursive repartitioning. A group that still exceeds
// the budget this deep is dominated by one key value and cannot be split by
// hashing, so it is processed in memory regardless.
const maxGraceDepth = 6

// HashJoin builds a hash table over the right child and probes it with the
// left. When the build side exceeds the memory budget both inputs are
// partitioned into fan-out groups on disk (grace hash join) and the groups
// are joined one at a time. The caller chooses the build side by child
// placement; for a left-outer join the preserved side is always the left,
// probing child.
type HashJoin struct {
	base     *iterator.BaseIterator
	left     iterator.DbIterator
	right    iterator.DbIterator
	pred     *Predicate
	joinType JoinType
	cfg      *config.Config
	td       *tuple.TupleDescription

	table       map[string][]*tuple.Tuple
	buf         matchBuffer
	expectBytes int64

	probe        iterator.DbIterator
	probeIsChild bool
	groups       []gracePair
	current      *gracePair
}

// gracePair is one spill group: the build and probe rows that hash together.
type gracePair struct {
	build *spill.File
	probe *spill.File
	depth int
}

func (g *gracePair) remove() {
	if g.build != nil {
		g.build.Remove()
	}
	if g.probe != nil {
		g.probe.Remove()
	}
}

// NewHashJoin builds a hash join over the given children.
func NewHashJoin(left, right iterator.DbIterator, pred *Predicate, joinType JoinType, cfg *config.Config) (*HashJoin, error) {
	if left == nil || right == nil {
		return nil, fmt.Errorf("join children cannot be nil")
	}
	if pred == nil {
		return nil, fmt.Errorf("join predicate cannot be nil")
	}
	if cfg == nil {
		cfg = config.Default()
	}

	j := &HashJoin{
		left:     left,
		right:    right,
		pred:     pred,
		joinType: joinType,
		cfg:      cfg,
		td:       tuple.Combine(left.GetTupleDesc(), right.GetTupleDesc()),
	}
	j.base = iterator.NewBaseIterator(j.readNext)
	return j, nil
}

// ExpectBuildBytes primes the join with the planner's estimate of the
// build side's materialized size. A build side predicted to exceed the
// memory budget partitions to disk from the first row instead of buffering
// up to the budget first.
func (j *HashJoin) ExpectBuildBytes(n int64) {
	j.expectBytes = n
}

func (j *HashJoin) Open() error {
	if err := j.right.Open(); err != nil {
		return fmt.Errorf("failed to open build child: %w", err)
	}
	if err := j.left.Open(); err != nil {
		return fmt.Errorf("failed to open probe child: %w", err)
	}
	if err := j.start(); err != nil {
		return err
	}
	j.base.MarkOpened()
	return nil
}

// start consumes the build side and decides between the in-memory and grace
// paths. Children must already be open and positioned at the start.
func (j *HashJoin) start() error {
	if j.cfg.PredictSpill(j.expectBytes, j.right.GetTupleDesc().GetSize()) {
		return j.graceStart(nil)
	}

	var buildRows []*tuple.Tuple
	spilled := false

	err := iterator.Iterate(j.right, func(t *tuple.Tuple) (bool, error) {
		buildRows = append(buildRows, t)
		if j.cfg.ShouldSpill(len(buildRows), j.right.GetTupleDesc().GetSize()) {
			spilled = true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	if !spilled {
		if err := j.buildTable(buildRows); err != nil {
			return err
		}
		j.probe = j.left
		j.probeIsChild = true
		return nil
	}
	return j.graceStart(buildRows)
}

// buildTable indexes the build rows by encoded key. Null-key build rows can
// never match and are dropped.
func (j *HashJoin) buildTable(rows []*tuple.Tuple) error {
	j.table = make(map[string][]*tuple.Tuple, len(rows))
	for _, t := range rows {
		key, ok, err := j.pred.rightKey(t)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		j.table[key] = append(j.table[key], t)
	}
	return nil
}

// graceStart partitions both inputs into fan-out spill groups and loads the
// first group. buffered holds the build rows consumed before the budget
// tripped.
func (j *HashJoin) graceStart(buffered []*tuple.Tuple) error {
	buildFiles, err := j.partitionSide(buffered, j.right, j.pred.rightCols, 0, true)
	if err != nil {
		return err
	}
	probeFiles, err := j.partitionSide(nil, j.left, j.pred.leftCols, 0, false)
	if err != nil {
		for _, f := range buildFiles {
			f.Remove()
		}
		return err
	}

	j.groups = j.groups[:0]
	for i := range buildFiles {
		j.groups = append(j.groups, gracePair{build: buildFiles[i], probe: probeFiles[i], depth: 0})
	}

	ok, err := j.loadNextGroup()
	if err != nil {
		return err
	}
	if !ok {
		// no groups at all; the probe loop sees an exhausted iterator
		j.table = map[string][]*tuple.Tuple{}
		j.probe = iterator.NewTupleSource(j.left.GetTupleDesc(), nil)
		j.probe.Open()
	}
	j.probeIsChild = false
	return nil
}

// partitionSide spreads buffered rows plus the remainder of src across
// fan-out spill files by key hash. Null-key rows are dropped on the build
// side and routed to group 0 on the probe side, where they fail to match
// and fall out of a left-outer join null-padded.
func (j *HashJoin) partitionSide(buffered []*tuple.Tuple, src iterator.DbIterator, cols []int, depth int, dropNullKeys bool) ([]*spill.File, error) {
	writers := make([]*spill.Writer, j.cfg.HashFanOut)
	discard := func() {
		for _, w := range writers {
			if w != nil {
				w.Discard()
			}
		}
	}

	for i := range writers {
		w, err := spill.NewWriter(j.cfg.SpillDir, src.GetTupleDesc())
		if err != nil {
			discard()
			return nil, err
		}
		writers[i] = w
	}

	add := func(t *tuple.Tuple) error {
		fields, ok, err := keyFields(t, cols)
		if err != nil {
			return err
		}
		bucket := 0
		if ok {
			h, err := keyHash(fields, depth)
			if err != nil {
				return err
			}
			bucket = int(h % uint64(len(writers)))
		} else if dropNullKeys {
			return nil
		}
		return writers[bucket].Write(t)
	}

	for _, t := range buffered {
		if err := add(t); err != nil {
			discard()
			return nil, err
		}
	}
	if err := iterator.ForEach(src, add); err != nil {
		discard()
		return nil, err
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

// loadNextGroup builds the in-memory table for the next spill group and
// opens its probe file. A build group still over budget is repartitioned at
// the next depth instead of loaded.
func (j *HashJoin) loadNextGroup() (bool, error) {
	for len(j.groups) > 0 {
		g := j.groups[0]
		j.groups = j.groups[1:]

		rows, overflow, err := j.readBuildGroup(&g)
		if err != nil {
			g.remove()
			return false, err
		}

		if overflow && g.depth < maxGraceDepth {
			if err := j.repartitionGroup(&g, rows); err != nil {
				return false, err
			}
			continue
		}

		if err := j.buildTable(rows); err != nil {
			g.remove()
			return false, err
		}

		probe := g.probe.Iterator()
		if err := probe.Open(); err != nil {
			g.remove()
			return false, err
		}
		j.probe = probe
		j.current = &g
		return true, nil
	}
	return false, nil
}

// readBuildGroup loads a group's build rows, stopping early with
// overflow=true when the budget trips.
func (j *HashJoin) readBuildGroup(g *gracePair) ([]*tuple.Tuple, bool, error) {
	it := g.build.Iterator()
	if err := it.Open(); err != nil {
		return nil, false, err
	}
	defer it.Close()

	var rows []*tuple.Tuple
	overflow := false
	err := iterator.Iterate(it, func(t *tuple.Tuple) (bool, error) {
		rows = append(rows, t)
		if g.depth < maxGraceDepth && j.cfg.ShouldSpill(len(rows), g.build.TupleDesc().GetSize()) {
			overflow = true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, false, err
	}
	return rows, overflow, nil
}

// repartitionGroup splits an oversized group into fan-out subgroups at the
// next depth. rows holds the build rows read before the overflow.
func (j *HashJoin) repartitionGroup(g *gracePair, rows []*tuple.Tuple) error {
	buildIt := g.build.Iterator()
	if err := buildIt.Open(); err != nil {
		g.remove()
		return err
	}
	// skip what readBuildGroup already buffered
	for skipped := 0; skipped < len(rows); skipped++ {
		hasNext, err := buildIt.HasNext()
		if err != nil || !hasNext {
			buildIt.Close()
			g.remove()
			if err == nil {
				err = fmt.Errorf("spill group shrank during repartition")
			}
			return err
		}
		if _, err := buildIt.Next(); err != nil {
			buildIt.Close()
			g.remove()
			return err
		}
	}

	depth := g.depth + 1
	buildFiles, err := j.partitionSide(rows, buildIt, j.pred.rightCols, depth, true)
	buildIt.Close()
	if err != nil {
		g.remove()
		return err
	}

	probeIt := g.probe.Iterator()
	if err := probeIt.Open(); err != nil {
		g.remove()
		return err
	}
	probeFiles, err := j.partitionSide(nil, probeIt, j.pred.leftCols, depth, false)
	probeIt.Close()
	if err != nil {
		for _, f := range buildFiles {
			f.Remove()
		}
		g.remove()
		return err
	}

	g.remove()
	sub := make([]gracePair, 0, len(buildFiles))
	for i := range buildFiles {
		sub = append(sub, gracePair{build: buildFiles[i], probe: probeFiles[i], depth: depth})
	}
	j.groups = append(sub, j.groups...)
	return nil
}

func (j *HashJoin) readNext() (*tuple.Tuple, error) {
	for {
		if j.buf.hasNext() {
			return j.buf.next(), nil
		}

		hasNext, err := j.probe.HasNext()
		if err != nil {
			return nil, err
		}
		if !hasNext {
			if j.probeIsChild {
				return nil, nil
			}
			j.retireGroup()
			ok, err := j.loadNextGroup()
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, nil
			}
			continue
		}

		t, err := j.probe.Next()
		if err != nil {
			return nil, err
		}

		key, ok, err := j.pred.leftKey(t)
		if err != nil {
			return nil, err
		}
		if ok {
			if matches := j.table[key]; len(matches) > 0 {
				combined := make([]*tuple.Tuple, len(matches))
				for i, m := range matches {
					combined[i], err = tuple.CombineTuples(t, m)
					if err != nil {
						return nil, err
					}
				}
				j.buf.set(combined)
				continue
			}
		}

		if j.joinType == LeftOuter {
			return tuple.CombineWithNulls(t, j.right.GetTupleDesc())
		}
	}
}

// retireGroup closes and removes the spill files of the group just drained.
func (j *HashJoin) retireGroup() {
	if j.probe != nil && !j.probeIsChild {
		j.probe.Close()
	}
	if j.current != nil {
		j.current.remove()
		j.current = nil
	}
}

func (j *HashJoin) HasNext() (bool, error) {
	return j.base.HasNext()
}

func (j *HashJoin) Next() (*tuple.Tuple, error) {
	return j.base.Next()
}

// Rewind discards all join state and rebuilds from the children.
func (j *HashJoin) Rewind() error {
	if !j.base.IsOpened() {
		return fmt.Errorf("iterator not opened")
	}
	j.cleanup()
	if err := j.right.Rewind(); err != nil {
		return err
	}
	if err := j.left.Rewind(); err != nil {
		return err
	}
	if err := j.start(); err != nil {
		return err
	}
	j.base.ClearCache()
	return nil
}

func (j *HashJoin) cleanup() {
	j.retireGroup()
	for i := range j.groups {
		j.groups[i].remove()
	}
	j.groups = nil
	j.table = nil
	j.probe = nil
	j.buf.reset()
}

func (j *HashJoin) Close() error {
	j.cleanup()
	j.left.Close()
	j.right.Close()
	return j.base.Close()
}

func (j *HashJoin) GetTupleDesc() *tuple.TupleDescription {
	return j.td
}
