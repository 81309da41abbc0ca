// Package cursor provides keyset pagination over a sorted row source. A
// page is resumed by seek key, never by offset, so the cost of page N does
// not grow with N and rows already returned are never returned again.
// Visibility of rows inserted behind an open cursor position follows the
// snapshot the storage layer hands each query.
package cursor

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"querycore/pkg/errs"
	"querycore/pkg/execution/sort"
	"querycore/pkg/iterator"
	"querycore/pkg/tuple"
	"querycore/pkg/types"
)

// Source opens a fresh iterator over the sorted row set. resume holds the
// decoded token fields (nil for the first page); an index-backed source can
// seek past them directly, and may return rows at or before the resume key
// since the cursor re-checks the keyset bound on every row.
type Source func(resume []types.Field) (iterator.DbIterator, error)

// Keyset pages through a sorted source by composite seek key. The key list
// must match the source's sort order and end in a tie-breaker unique within
// the row set, or rows tied on the full key may be skipped.
type Keyset struct {
	source   Source
	td       *tuple.TupleDescription
	keys     []sort.SortKey
	keyTypes []types.Type
}

// NewKeyset validates the key columns against the schema. The final entry
// of keys is the tie-breaker.
func NewKeyset(source Source, td *tuple.TupleDescription, keys []sort.SortKey) (*Keyset, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if td == nil {
		return nil, fmt.Errorf("tuple description cannot be nil")
	}
	if len(keys) < 2 {
		return nil, errs.Config("BAD_CURSOR_KEYS",
			"keyset pagination needs at least one sort key plus a tie-breaker, got %d keys", len(keys))
	}

	keyTypes := make([]types.Type, len(keys))
	for i, k := range keys {
		ft, err := td.TypeAtIndex(k.Column)
		if err != nil {
			return nil, errs.Config("BAD_CURSOR_KEYS", "cursor key %d: %v", i, err)
		}
		keyTypes[i] = ft
	}

	return &Keyset{source: source, td: td, keys: keys, keyTypes: keyTypes}, nil
}

// Page returns up to pageSize rows after the position the token encodes,
// plus the token for the next page. An empty token starts from the top; an
// empty returned token means the row set is exhausted.
func (k *Keyset) Page(token string, pageSize int) ([]*tuple.Tuple, string, error) {
	if pageSize <= 0 {
		return nil, "", errs.Config("BAD_PAGE_SIZE", "page size must be positive: %d", pageSize)
	}

	var resume []types.Field
	if token != "" {
		var err error
		resume, err = k.decodeToken(token)
		if err != nil {
			return nil, "", err
		}
	}

	it, err := k.source(resume)
	if err != nil {
		return nil, "", err
	}
	if err := it.Open(); err != nil {
		return nil, "", err
	}
	defer it.Close()

	var rows []*tuple.Tuple
	err = iterator.Iterate(it, func(t *tuple.Tuple) (bool, error) {
		if resume != nil {
			after, err := k.afterResume(t, resume)
			if err != nil {
				return false, err
			}
			if !after {
				return true, nil
			}
		}
		rows = append(rows, t)
		return len(rows) < pageSize, nil
	})
	if err != nil {
		return nil, "", err
	}

	if len(rows) < pageSize {
		return rows, "", nil
	}
	next, err := k.encodeToken(rows[len(rows)-1])
	if err != nil {
		return nil, "", err
	}
	return rows, next, nil
}

// afterResume reports whether a row sits strictly after the resume key in
// the cursor's sort order.
func (k *Keyset) afterResume(t *tuple.Tuple, resume []types.Field) (bool, error) {
	for i, key := range k.keys {
		f, err := t.GetField(key.Column)
		if err != nil {
			return false, fmt.Errorf("cursor key column %d: %w", key.Column, err)
		}
		c, err := types.CompareFields(f, resume[i], key.NullOrdering)
		if err != nil {
			return false, fmt.Errorf("cursor key %d: %w", i, err)
		}
		if c == 0 {
			continue
		}
		if key.Descending && f != nil && resume[i] != nil {
			c = -c
		}
		return c > 0, nil
	}
	return false, nil
}

// encodeToken serializes the row's key fields, null flags included, into an
// opaque URL-safe token the caller persists verbatim.
func (k *Keyset) encodeToken(t *tuple.Tuple) (string, error) {
	var buf bytes.Buffer
	for _, key := range k.keys {
		f, err := t.GetField(key.Column)
		if err != nil {
			return "", fmt.Errorf("cursor key column %d: %w", key.Column, err)
		}
		if f == nil {
			buf.WriteByte(0)
			continue
		}
		buf.WriteByte(1)
		if err := f.Serialize(&buf); err != nil {
			return "", fmt.Errorf("failed to encode cursor token: %w", err)
		}
	}
	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

// decodeToken reverses encodeToken. A token that does not parse against the
// cursor's key types is a configuration error: it belongs to a different
// cursor shape.
func (k *Keyset) decodeToken(token string) ([]types.Field, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, errs.Config("BAD_CURSOR_TOKEN", "cursor token is not valid base64: %v", err)
	}

	r := bytes.NewReader(raw)
	out := make([]types.Field, len(k.keys))
	for i, ft := range k.keyTypes {
		flag := make([]byte, 1)
		if _, err := io.ReadFull(r, flag); err != nil {
			return nil, errs.Config("BAD_CURSOR_TOKEN", "cursor token truncated at key %d", i)
		}
		if flag[0] == 0 {
			continue
		}
		f, err := types.ReadField(r, ft)
		if err != nil {
			return nil, errs.Config("BAD_CURSOR_TOKEN", "cursor token key %d: %v", i, err)
		}
		out[i] = f
	}
	if r.Len() != 0 {
		return nil, errs.Config("BAD_CURSOR_TOKEN", "cursor token has %d trailing bytes", r.Len())
	}
	return out, nil
}
