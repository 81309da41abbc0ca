package types

import (
	"fmt"
	"strings"
)

// NullOrdering places NULL values relative to non-NULL values in a total
// ordering. The policy is fixed for the lifetime of an index or sort.
type NullOrdering int

const (
	NullsFirst NullOrdering = iota
	NullsLast
)

func (n NullOrdering) String() string {
	if n == NullsFirst {
		return "NULLS FIRST"
	}
	return "NULLS LAST"
}

// CompareFields is the null-aware three-way comparison. A nil Field is NULL
// and sorts according to the given policy; two NULLs compare equal.
func CompareFields(a, b Field, nulls NullOrdering) (int, error) {
	if a == nil && b == nil {
		return 0, nil
	}
	if a == nil {
		if nulls == NullsFirst {
			return -1, nil
		}
		return 1, nil
	}
	if b == nil {
		if nulls == NullsFirst {
			return 1, nil
		}
		return -1, nil
	}
	return a.Cmp(b)
}

// Key is an ordered tuple of field values used for index lookup, sorting and
// partition evaluation. Comparison is field-by-field from the left; a shorter
// key that is a prefix of a longer one sorts before it.
type Key struct {
	Fields []Field
}

func NewKey(fields ...Field) Key {
	return Key{Fields: fields}
}

// Compare orders two keys under the given null policy.
func (k Key) Compare(other Key, nulls NullOrdering) (int, error) {
	n := len(k.Fields)
	if len(other.Fields) < n {
		n = len(other.Fields)
	}

	for i := 0; i < n; i++ {
		cmp, err := CompareFields(k.Fields[i], other.Fields[i], nulls)
		if err != nil {
			return 0, fmt.Errorf("key column %d: %w", i, err)
		}
		if cmp != 0 {
			return cmp, nil
		}
	}

	switch {
	case len(k.Fields) < len(other.Fields):
		return -1, nil
	case len(k.Fields) > len(other.Fields):
		return 1, nil
	default:
		return 0, nil
	}
}

// Types returns the column types of the key. A NULL column reports a zero
// Type and false.
func (k Key) Types() []Type {
	ts := make([]Type, len(k.Fields))
	for i, f := range k.Fields {
		if f != nil {
			ts[i] = f.Type()
		}
	}
	return ts
}

func (k Key) String() string {
	parts := make([]string, len(k.Fields))
	for i, f := range k.Fields {
		if f == nil {
			parts[i] = "null"
		} else {
			parts[i] = f.String()
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
