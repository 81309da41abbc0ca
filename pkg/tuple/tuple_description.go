package tuple

import (
	"fmt"
	"querycore/pkg/types"
	"strings"
)

// TupleDescription describes the schema of a tuple (like a table schema).
// It contains the types and names of fields in order.
type TupleDescription struct {
	// Types contains the data type of each field in order
	Types []types.Type
	// FieldNames contains the name of each field (optional, may be nil)
	FieldNames []string
}

// NewTupleDesc creates a new TupleDescription given field types and optional
// field names. If fieldNames is nil, fields have no names.
func NewTupleDesc(fieldTypes []types.Type, fieldNames []string) (*TupleDescription, error) {
	if len(fieldTypes) < 1 {
		return nil, fmt.Errorf("must provide at least one field type")
	}

	typesCopy := make([]types.Type, len(fieldTypes))
	copy(typesCopy, fieldTypes)

	var namesCopy []string
	if fieldNames != nil {
		if len(fieldNames) != len(fieldTypes) {
			return nil, fmt.Errorf("field names length (%d) must match field types length (%d)",
				len(fieldNames), len(fieldTypes))
		}
		namesCopy = make([]string, len(fieldNames))
		copy(namesCopy, fieldNames)
	}

	return &TupleDescription{
		Types:      typesCopy,
		FieldNames: namesCopy,
	}, nil
}

// NumFields returns the number of fields in this tuple descriptor.
func (td *TupleDescription) NumFields() int {
	return len(td.Types)
}

// GetFieldName returns the name of the ith field, or an empty string if no
// names were provided.
func (td *TupleDescription) GetFieldName(i int) (string, error) {
	if i < 0 || i >= len(td.Types) {
		return "", fmt.Errorf("field index %d out of bounds [0, %d)", i, len(td.Types))
	}

	if td.FieldNames == nil {
		return "", nil
	}

	return td.FieldNames[i], nil
}

// TypeAtIndex returns the type of the ith field.
func (td *TupleDescription) TypeAtIndex(i int) (types.Type, error) {
	if i < 0 || i >= len(td.Types) {
		return 0, fmt.Errorf("field index %d out of bounds [0, %d)", i, len(td.Types))
	}
	return td.Types[i], nil
}

// GetSize returns the estimated size in bytes of tuples with this schema.
// This is the sum of the fixed per-type size estimates, used for memory
// budgeting, not the exact serialized size.
func (td *TupleDescription) GetSize() uint32 {
	var size uint32
	for _, fieldType := range td.Types {
		size += fieldType.Size()
	}
	return size
}

// Equals checks if two TupleDescriptions are equal. Two descriptors are equal
// if they have the same field types in the same order; names are not compared.
func (td *TupleDescription) Equals(other *TupleDescription) bool {
	if other == nil {
		return false
	}

	if len(td.Types) != len(other.Types) {
		return false
	}

	for i, t := range td.Types {
		if t != other.Types[i] {
			return false
		}
	}

	return true
}

// Combine merges two tuple descriptions into one, with td1's fields first.
// Used by joins to build the output schema.
func Combine(td1, td2 *TupleDescription) *TupleDescription {
	if td1 == nil {
		return td2
	}
	if td2 == nil {
		return td1
	}

	combined := &TupleDescription{
		Types: make([]types.Type, 0, len(td1.Types)+len(td2.Types)),
	}
	combined.Types = append(combined.Types, td1.Types...)
	combined.Types = append(combined.Types, td2.Types...)

	if td1.FieldNames != nil || td2.FieldNames != nil {
		combined.FieldNames = make([]string, 0, len(td1.Types)+len(td2.Types))
		combined.FieldNames = append(combined.FieldNames, namesOrBlank(td1)...)
		combined.FieldNames = append(combined.FieldNames, namesOrBlank(td2)...)
	}

	return combined
}

func namesOrBlank(td *TupleDescription) []string {
	if td.FieldNames != nil {
		return td.FieldNames
	}
	return make([]string, len(td.Types))
}

func (td *TupleDescription) String() string {
	var parts []string
	for i, t := range td.Types {
		name := ""
		if td.FieldNames != nil {
			name = td.FieldNames[i]
		}
		if name == "" {
			parts = append(parts, t.String())
		} else {
			parts = append(parts, fmt.Sprintf("%s(%s)", name, t))
		}
	}
	return strings.Join(parts, ", ")
}
