package types

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"querycore/pkg/primitives"
	"strconv"
)

// Float64Field represents a 64-bit floating point field
type Float64Field struct {
	Value float64
}

func NewFloat64Field(value float64) *Float64Field {
	return &Float64Field{Value: value}
}

func (f *Float64Field) Serialize(w io.Writer) error {
	bytes := make([]byte, 8)
	binary.BigEndian.PutUint64(bytes, math.Float64bits(f.Value))
	_, err := w.Write(bytes)
	return err
}

func (f *Float64Field) Compare(op primitives.Predicate, other Field) (bool, error) {
	cmp, err := f.Cmp(other)
	if err != nil {
		return false, err
	}
	return cmpPredicate(cmp, op), nil
}

// Cmp orders floats totally: NaN sorts before every other value so that the
// ordering stays deterministic for index and sort keys.
func (f *Float64Field) Cmp(other Field) (int, error) {
	otherField, ok := other.(*Float64Field)
	if !ok {
		return 0, fmt.Errorf("cannot compare Float64Field with %T", other)
	}

	a, b := f.Value, otherField.Value
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0, nil
	case aNaN:
		return -1, nil
	case bNaN:
		return 1, nil
	case a < b:
		return -1, nil
	case a > b:
		return 1, nil
	default:
		return 0, nil
	}
}

func (f *Float64Field) Type() Type {
	return FloatType
}

func (f *Float64Field) String() string {
	return strconv.FormatFloat(f.Value, 'g', -1, 64)
}

func (f *Float64Field) Equals(other Field) bool {
	otherField, ok := other.(*Float64Field)
	if !ok {
		return false
	}
	return math.Float64bits(f.Value) == math.Float64bits(otherField.Value)
}

func (f *Float64Field) Hash() (primitives.HashCode, error) {
	h := fnv.New64a()
	bytes := make([]byte, 8)
	binary.BigEndian.PutUint64(bytes, math.Float64bits(f.Value))
	_, _ = h.Write(bytes)
	return primitives.HashCode(h.Sum64()), nil
}

func (f *Float64Field) Length() uint32 {
	return 8
}
