package types

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"
	"querycore/pkg/primitives"
	"strings"
)

// StringMaxSize defines the default maximum size for string fields in bytes.
const StringMaxSize = 256

// StringField represents a variable-length string field type.
type StringField struct {
	Value   string
	MaxSize int
}

// NewStringField creates a new StringField with the specified value and
// maximum size. A value longer than maxSize is truncated to fit.
func NewStringField(value string, maxSize int) *StringField {
	if len(value) > maxSize {
		value = value[:maxSize]
	}

	return &StringField{
		Value:   value,
		MaxSize: maxSize,
	}
}

// Serialize writes the string as a 4-byte big-endian length prefix followed
// by the raw bytes.
func (s *StringField) Serialize(w io.Writer) error {
	lenBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBytes, uint32(len(s.Value))) // #nosec G115
	if _, err := w.Write(lenBytes); err != nil {
		return err
	}
	_, err := io.WriteString(w, s.Value)
	return err
}

func (s *StringField) Compare(op primitives.Predicate, other Field) (bool, error) {
	cmp, err := s.Cmp(other)
	if err != nil {
		return false, err
	}
	return cmpPredicate(cmp, op), nil
}

// Cmp orders strings lexicographically by bytes.
func (s *StringField) Cmp(other Field) (int, error) {
	otherField, ok := other.(*StringField)
	if !ok {
		return 0, fmt.Errorf("cannot compare StringField with %T", other)
	}
	return strings.Compare(s.Value, otherField.Value), nil
}

func (s *StringField) Type() Type {
	return StringType
}

func (s *StringField) String() string {
	return s.Value
}

func (s *StringField) Equals(other Field) bool {
	otherField, ok := other.(*StringField)
	if !ok {
		return false
	}
	return s.Value == otherField.Value
}

func (s *StringField) Hash() (primitives.HashCode, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s.Value))
	return primitives.HashCode(h.Sum64()), nil
}

func (s *StringField) Length() uint32 {
	return uint32(4 + len(s.Value)) // #nosec G115
}
