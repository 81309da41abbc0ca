package tuple

import (
	"fmt"
	"querycore/pkg/types"
	"strings"
)

// Tuple represents a row of data. A nil field value is NULL. Tuples are
// immutable once produced by a scan; operators that need to modify one work
// on a copy.
type Tuple struct {
	TupleDesc *TupleDescription // Schema of this tuple
	fields    []types.Field     // The actual field values, nil = NULL
	RecordID  *RecordID         // Where this tuple is stored (nil for derived tuples)
}

// NewTuple creates a new tuple with the given schema, all fields NULL.
func NewTuple(td *TupleDescription) *Tuple {
	return &Tuple{
		TupleDesc: td,
		fields:    make([]types.Field, td.NumFields()),
	}
}

// SetField assigns the ith field. A nil field sets NULL; a non-nil field must
// match the schema type.
func (t *Tuple) SetField(i int, field types.Field) error {
	if i < 0 || i >= len(t.fields) {
		return fmt.Errorf("field index %d out of bounds [0, %d)", i, len(t.fields))
	}

	if field != nil {
		expectedType, _ := t.TupleDesc.TypeAtIndex(i)
		if field.Type() != expectedType {
			return fmt.Errorf("field type mismatch: expected %v, got %v",
				expectedType, field.Type())
		}
	}

	t.fields[i] = field
	return nil
}

// GetField returns the value of the ith field; nil means NULL.
func (t *Tuple) GetField(i int) (types.Field, error) {
	if i < 0 || i >= len(t.fields) {
		return nil, fmt.Errorf("field index %d out of bounds [0, %d)", i, len(t.fields))
	}
	return t.fields[i], nil
}

// KeyOf extracts the values at the given column positions as a composite key.
func (t *Tuple) KeyOf(columns ...int) (types.Key, error) {
	fields := make([]types.Field, len(columns))
	for i, col := range columns {
		f, err := t.GetField(col)
		if err != nil {
			return types.Key{}, err
		}
		fields[i] = f
	}
	return types.NewKey(fields...), nil
}

// String returns a string representation of this tuple.
func (t *Tuple) String() string {
	var parts []string
	for _, field := range t.fields {
		if field != nil {
			parts = append(parts, field.String())
		} else {
			parts = append(parts, "null")
		}
	}
	return strings.Join(parts, "\t")
}

// CombineTuples concatenates two tuples into a single tuple, t1's fields
// first. Used by joins to emit matched pairs.
func CombineTuples(t1, t2 *Tuple) (*Tuple, error) {
	if t1 == nil || t2 == nil {
		return nil, fmt.Errorf("cannot combine nil tuples")
	}

	newTupleDesc := Combine(t1.TupleDesc, t2.TupleDesc)
	newTuple := NewTuple(newTupleDesc)

	if err := t1.copyFieldsTo(newTuple, 0); err != nil {
		return nil, err
	}

	if err := t2.copyFieldsTo(newTuple, t1.TupleDesc.NumFields()); err != nil {
		return nil, err
	}

	return newTuple, nil
}

// CombineWithNulls concatenates t1 with a NULL row of the given schema.
// Used by the left-outer join to emit unmatched outer rows.
func CombineWithNulls(t1 *Tuple, rightDesc *TupleDescription) (*Tuple, error) {
	if t1 == nil {
		return nil, fmt.Errorf("cannot combine nil tuple")
	}
	if rightDesc == nil {
		return nil, fmt.Errorf("right schema cannot be nil")
	}

	newTuple := NewTuple(Combine(t1.TupleDesc, rightDesc))
	if err := t1.copyFieldsTo(newTuple, 0); err != nil {
		return nil, err
	}
	return newTuple, nil
}

// copyFieldsTo copies all fields from this tuple to target starting at startIndex
func (t *Tuple) copyFieldsTo(target *Tuple, startIndex int) error {
	for i := 0; i < t.TupleDesc.NumFields(); i++ {
		field, err := t.GetField(i)
		if err != nil {
			return err
		}
		if field != nil {
			if err := target.SetField(startIndex+i, field); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clone creates a copy of this tuple with the same field values.
func (t *Tuple) Clone() (*Tuple, error) {
	newTup := NewTuple(t.TupleDesc)
	if err := t.copyFieldsTo(newTup, 0); err != nil {
		return nil, err
	}
	newTup.RecordID = t.RecordID
	return newTup, nil
}
