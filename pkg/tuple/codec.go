package tuple

import (
	"fmt"
	"io"
	"querycore/pkg/types"
)

// Serialize writes the tuple's field values to w. Each field is preceded by a
// one-byte null flag. The schema is not written; the reader must supply it.
func (t *Tuple) Serialize(w io.Writer) error {
	for i := 0; i < t.TupleDesc.NumFields(); i++ {
		field, err := t.GetField(i)
		if err != nil {
			return err
		}

		if field == nil {
			if _, err := w.Write([]byte{0}); err != nil {
				return fmt.Errorf("failed to write null flag: %w", err)
			}
			continue
		}

		if _, err := w.Write([]byte{1}); err != nil {
			return fmt.Errorf("failed to write null flag: %w", err)
		}
		if err := field.Serialize(w); err != nil {
			return fmt.Errorf("failed to serialize field %d: %w", i, err)
		}
	}
	return nil
}

// ReadTuple decodes one tuple with the given schema from r, in the format
// produced by Serialize. Returns io.EOF unwrapped when r is exhausted at a
// tuple boundary.
func ReadTuple(r io.Reader, td *TupleDescription) (*Tuple, error) {
	t := NewTuple(td)

	for i := 0; i < td.NumFields(); i++ {
		flag := make([]byte, 1)
		if _, err := io.ReadFull(r, flag); err != nil {
			if i == 0 && err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read null flag for field %d: %w", i, err)
		}

		if flag[0] == 0 {
			continue
		}

		fieldType, err := td.TypeAtIndex(i)
		if err != nil {
			return nil, err
		}
		field, err := types.ReadField(r, fieldType)
		if err != nil {
			return nil, fmt.Errorf("failed to read field %d: %w", i, err)
		}
		if err := t.SetField(i, field); err != nil {
			return nil, err
		}
	}

	return t, nil
}
