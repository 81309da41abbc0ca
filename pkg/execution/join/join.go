// Package join provides the equi-join executors: nested loop, grace hash
// and sort-merge, each supporting inner and left-outer joins. Right and
// full outer joins are composed externally by swapping inputs.
package join

import (
	"bytes"
	"fmt"

	"querycore/pkg/errs"
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

// JoinType selects which unmatched rows survive the join.
type JoinType int

const (
	// Inner emits only matching row pairs.
	Inner JoinType = iota

	// LeftOuter additionally emits each unmatched left row padded with
	// nulls on the right.
	LeftOuter
)

func (jt JoinType) String() string {
	switch jt {
	case Inner:
		return "INNER"
	case LeftOuter:
		return "LEFT OUTER"
	default:
		return "UNKNOWN"
	}
}

// Predicate is an equi-join condition over one or more column pairs. Key
// types are validated at construction so a mismatch surfaces as a
// configuration error before any row moves.
type Predicate struct {
	leftCols  []int
	rightCols []int
}

// NewPredicate validates the column pairs against both schemas.
func NewPredicate(leftDesc, rightDesc *tuple.TupleDescription, leftCols, rightCols []int) (*Predicate, error) {
	if leftDesc == nil || rightDesc == nil {
		return nil, fmt.Errorf("join schemas cannot be nil")
	}
	if len(leftCols) == 0 || len(leftCols) != len(rightCols) {
		return nil, errs.Config("BAD_JOIN_KEYS",
			"join needs matching key column lists, got %d and %d", len(leftCols), len(rightCols))
	}

	for i := range leftCols {
		lt, err := leftDesc.TypeAtIndex(leftCols[i])
		if err != nil {
			return nil, errs.Config("BAD_JOIN_KEYS", "left join column %d: %v", leftCols[i], err)
		}
		rt, err := rightDesc.TypeAtIndex(rightCols[i])
		if err != nil {
			return nil, errs.Config("BAD_JOIN_KEYS", "right join column %d: %v", rightCols[i], err)
		}
		if lt != rt {
			return nil, errs.Config("JOIN_KEY_TYPE_MISMATCH",
				"join key pair %d compares %v with %v", i, lt, rt)
		}
	}

	return &Predicate{leftCols: leftCols, rightCols: rightCols}, nil
}

// keyFields pulls one side's key columns out of a row. ok is false when any
// key field is null; a null key never joins.
func keyFields(t *tuple.Tuple, cols []int) ([]types.Field, bool, error) {
	out := make([]types.Field, len(cols))
	for i, c := range cols {
		f, err := t.GetField(c)
		if err != nil {
			return nil, false, fmt.Errorf("join key column %d: %w", c, err)
		}
		if f == nil {
			return nil, false, nil
		}
		out[i] = f
	}
	return out, true, nil
}

// encodeKey renders key fields as an exact byte string for hash-table
// lookup. Field serialization is length-delimited, so concatenation is
// unambiguous within one schema.
func encodeKey(fields []types.Field) (string, error) {
	var buf bytes.Buffer
	for _, f := range fields {
		if err := f.Serialize(&buf); err != nil {
			return "", fmt.Errorf("failed to encode join key: %w", err)
		}
	}
	return buf.String(), nil
}

func (p *Predicate) leftKey(t *tuple.Tuple) (string, bool, error) {
	return p.encodedKey(t, p.leftCols)
}

func (p *Predicate) rightKey(t *tuple.Tuple) (string, bool, error) {
	return p.encodedKey(t, p.rightCols)
}

func (p *Predicate) encodedKey(t *tuple.Tuple, cols []int) (string, bool, error) {
	fields, ok, err := keyFields(t, cols)
	if err != nil || !ok {
		return "", false, err
	}
	key, err := encodeKey(fields)
	return key, true, err
}

// cmpKeys orders a left row against a right row by their join keys. Null
// key fields sort first, though callers filter null keys before comparing.
func (p *Predicate) cmpKeys(l, r *tuple.Tuple) (int, error) {
	for i := range p.leftCols {
		lf, err := l.GetField(p.leftCols[i])
		if err != nil {
			return 0, err
		}
		rf, err := r.GetField(p.rightCols[i])
		if err != nil {
			return 0, err
		}
		c, err := types.CompareFields(lf, rf, types.NullsFirst)
		if err != nil {
			return 0, fmt.Errorf("join key pair %d: %w", i, err)
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

// keyHash folds the key fields into one value for grace partitioning. depth
// perturbs the fold so recursive partitioning redistributes a group that
// the previous level failed to shrink.
func keyHash(fields []types.Field, depth int) (uint64, error) {
	const prime = 0x100000001b3
	h := uint64(depth)*prime + 0xcbf29ce484222325
	for _, f := range fields {
		fh, err := f.Hash()
		if err != nil {
			return 0, fmt.Errorf("failed to hash join key: %w", err)
		}
		h = (h ^ uint64(fh)) * prime
	}
	return h, nil
}
