package types

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"
	"querycore/pkg/primitives"
	"strconv"
)

// IntField represents a 64-bit signed integer field
type IntField struct {
	Value int64
}

func NewIntField(value int64) *IntField {
	return &IntField{Value: value}
}

func (f *IntField) Serialize(w io.Writer) error {
	bytes := make([]byte, 8)
	binary.BigEndian.PutUint64(bytes, uint64(f.Value)) // #nosec G115
	_, err := w.Write(bytes)
	return err
}

func (f *IntField) Compare(op primitives.Predicate, other Field) (bool, error) {
	cmp, err := f.Cmp(other)
	if err != nil {
		return false, err
	}
	return cmpPredicate(cmp, op), nil
}

func (f *IntField) Cmp(other Field) (int, error) {
	otherField, ok := other.(*IntField)
	if !ok {
		return 0, fmt.Errorf("cannot compare IntField with %T", other)
	}

	switch {
	case f.Value < otherField.Value:
		return -1, nil
	case f.Value > otherField.Value:
		return 1, nil
	default:
		return 0, nil
	}
}

func (f *IntField) Type() Type {
	return IntType
}

func (f *IntField) String() string {
	return strconv.FormatInt(f.Value, 10)
}

func (f *IntField) Equals(other Field) bool {
	otherField, ok := other.(*IntField)
	if !ok {
		return false
	}
	return f.Value == otherField.Value
}

func (f *IntField) Hash() (primitives.HashCode, error) {
	h := fnv.New64a()
	bytes := make([]byte, 8)
	binary.BigEndian.PutUint64(bytes, uint64(f.Value)) // #nosec G115
	_, _ = h.Write(bytes)
	return primitives.HashCode(h.Sum64()), nil
}

func (f *IntField) Length() uint32 {
	return 8
}
