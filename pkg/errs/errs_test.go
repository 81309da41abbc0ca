package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryPredicates(t *testing.T) {
	assert.True(t, IsConfig(Config("BAD_PLAN", "no table")))
	assert.True(t, IsResource(Resource("SPILL_FAILED", "disk full")))
	assert.True(t, IsStructural(Structural("INDEX_CORRUPTED", "node out of order")))

	assert.False(t, IsConfig(errors.New("plain")))
	assert.False(t, IsConfig(nil))

	// category survives wrapping through fmt
	wrapped := fmt.Errorf("opening scan: %w", Config("BAD_SCAN", "no reader"))
	assert.True(t, IsConfig(wrapped))
	assert.False(t, IsStructural(wrapped))
}

func TestWrapPlainError(t *testing.T) {
	cause := errors.New("key column 3 out of range")
	e := Wrap(cause, CategoryConfig, "BAD_PLAN", "Build", "Sort")

	require.NotNil(t, e)
	assert.Equal(t, "BAD_PLAN", e.Code)
	assert.Equal(t, CategoryConfig, e.Category)
	assert.Equal(t, "Build", e.Operation)
	assert.Equal(t, "Sort", e.Component)
	assert.True(t, errors.Is(e, cause))
	assert.True(t, IsConfig(e))
}

func TestWrapKeepsStructuredError(t *testing.T) {
	orig := Structural("INDEX_UNUSABLE", "index must be rebuilt")
	e := Wrap(orig, CategoryConfig, "BAD_PLAN", "Build", "Scan")

	// an already structured error keeps its code and category and only
	// gains the missing context
	assert.Same(t, orig, e)
	assert.Equal(t, "INDEX_UNUSABLE", e.Code)
	assert.True(t, IsStructural(e))
	assert.Equal(t, "Build", e.Operation)
	assert.Equal(t, "Scan", e.Component)

	// context already present is never overwritten
	e2 := Wrap(e, CategoryConfig, "BAD_PLAN", "Page", "Cursor")
	assert.Equal(t, "Build", e2.Operation)
	assert.Equal(t, "Scan", e2.Component)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CategoryConfig, "X", "Op", "Comp"))
}

func TestErrorString(t *testing.T) {
	e := Wrap(errors.New("boom"), CategoryResource, "SPILL_FAILED", "Open", "HashJoin")
	s := e.Error()
	assert.Contains(t, s, "SPILL_FAILED")
	assert.Contains(t, s, "operation: Open")
	assert.Contains(t, s, "component: HashJoin")
	assert.Contains(t, s, "caused by: boom")
}
