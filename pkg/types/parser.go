package types

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// ReadField decodes one field value of the given type from r, in the format
// produced by Field.Serialize.
func ReadField(r io.Reader, t Type) (Field, error) {
	switch t {
	case IntType:
		buf := make([]byte, 8)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("failed to read int field: %w", err)
		}
		return NewIntField(int64(binary.BigEndian.Uint64(buf))), nil // #nosec G115

	case FloatType:
		buf := make([]byte, 8)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("failed to read float field: %w", err)
		}
		return NewFloat64Field(math.Float64frombits(binary.BigEndian.Uint64(buf))), nil

	case StringType:
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return nil, fmt.Errorf("failed to read string length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf)
		if n > StringMaxSize {
			return nil, fmt.Errorf("string field length %d exceeds maximum %d", n, StringMaxSize)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("failed to read string bytes: %w", err)
		}
		return NewStringField(string(data), StringMaxSize), nil

	case BoolType:
		buf := make([]byte, 1)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("failed to read bool field: %w", err)
		}
		return NewBoolField(buf[0] != 0), nil

	default:
		return nil, fmt.Errorf("unknown field type: %v", t)
	}
}
