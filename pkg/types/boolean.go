package types

import (
	"fmt"
	"hash/fnv"
	"io"
	"querycore/pkg/primitives"
	"strconv"
)

// BoolField represents a boolean field. False sorts before true.
type BoolField struct {
	Value bool
}

func NewBoolField(value bool) *BoolField {
	return &BoolField{Value: value}
}

func (f *BoolField) Serialize(w io.Writer) error {
	b := []byte{0}
	if f.Value {
		b[0] = 1
	}
	_, err := w.Write(b)
	return err
}

func (f *BoolField) Compare(op primitives.Predicate, other Field) (bool, error) {
	cmp, err := f.Cmp(other)
	if err != nil {
		return false, err
	}
	return cmpPredicate(cmp, op), nil
}

func (f *BoolField) Cmp(other Field) (int, error) {
	otherField, ok := other.(*BoolField)
	if !ok {
		return 0, fmt.Errorf("cannot compare BoolField with %T", other)
	}

	switch {
	case f.Value == otherField.Value:
		return 0, nil
	case !f.Value:
		return -1, nil
	default:
		return 1, nil
	}
}

func (f *BoolField) Type() Type {
	return BoolType
}

func (f *BoolField) String() string {
	return strconv.FormatBool(f.Value)
}

func (f *BoolField) Equals(other Field) bool {
	otherField, ok := other.(*BoolField)
	if !ok {
		return false
	}
	return f.Value == otherField.Value
}

func (f *BoolField) Hash() (primitives.HashCode, error) {
	h := fnv.New64a()
	b := []byte{0}
	if f.Value {
		b[0] = 1
	}
	_, _ = h.Write(b)
	return primitives.HashCode(h.Sum64()), nil
}

func (f *BoolField) Length() uint32 {
	return 1
}
