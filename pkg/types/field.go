package types

import (
	"io"
	"querycore/pkg/primitives"
)

// Field is a single typed value inside a row or a key.
//
// Comparison comes in two shapes: Compare evaluates a predicate operator
// between two fields (used by filters and partition constraints), and Cmp is
// the total three-way ordering used by the index, the sort operator, and the
// merge join. Both are deterministic; NULL never reaches a Field method
// (a NULL value is a nil Field, ordered by the NullOrdering policy).
type Field interface {
	// Serialize writes the value in its wire form. Strings are
	// length-prefixed; fixed-width values are big-endian.
	Serialize(w io.Writer) error

	// Compare applies the predicate op between this field and other.
	Compare(op primitives.Predicate, other Field) (bool, error)

	// Cmp returns -1, 0 or +1 as this field sorts before, equal to, or
	// after other. Fields of different types do not compare.
	Cmp(other Field) (int, error)

	Type() Type

	String() string

	Equals(other Field) bool

	Hash() (primitives.HashCode, error)

	// Length returns the serialized size of this value in bytes.
	Length() uint32
}

// cmpPredicate translates a three-way comparison result into a predicate
// outcome, shared by every field implementation.
func cmpPredicate(cmp int, op primitives.Predicate) bool {
	switch op {
	case primitives.Equals:
		return cmp == 0
	case primitives.LessThan:
		return cmp < 0
	case primitives.GreaterThan:
		return cmp > 0
	case primitives.LessThanOrEqual:
		return cmp <= 0
	case primitives.GreaterThanOrEqual:
		return cmp >= 0
	case primitives.NotEqual:
		return cmp != 0
	default:
		return false
	}
}
