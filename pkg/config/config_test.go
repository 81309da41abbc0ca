package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querycore/pkg/errs"
	"querycore/pkg/types"
)

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"spill_after_rows: 512\nnull_ordering: last\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.SpillAfterRows)
	assert.Equal(t, Default().MergeFanIn, cfg.MergeFanIn)
	assert.Equal(t, Default().HashFanOut, cfg.HashFanOut)

	nulls, err := cfg.Nulls()
	require.NoError(t, err)
	assert.Equal(t, types.NullsLast, nulls)
}

func TestLoadRejectsBadDirectives(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative spill rows", "spill_after_rows: -1"},
		{"fan-in too small", "merge_fan_in: 1"},
		{"fan-out too small", "hash_fan_out: 1"},
		{"order too small", "btree_order: 2"},
		{"unknown null ordering", "null_ordering: sometimes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))

			_, err := Load(path)
			require.Error(t, err)
			assert.True(t, errs.IsConfig(err))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestShouldSpill(t *testing.T) {
	byRows := &Config{SpillAfterRows: 100}
	assert.False(t, byRows.ShouldSpill(99, 32))
	assert.True(t, byRows.ShouldSpill(100, 32))

	byBytes := &Config{SpillAfterBytes: 1024}
	assert.False(t, byBytes.ShouldSpill(10, 32))
	assert.True(t, byBytes.ShouldSpill(32, 32))

	unbounded := &Config{}
	assert.False(t, unbounded.ShouldSpill(1_000_000, 1024))
}

func TestPredictSpill(t *testing.T) {
	byBytes := &Config{SpillAfterBytes: 1024}
	assert.False(t, byBytes.PredictSpill(1023, 32))
	assert.True(t, byBytes.PredictSpill(1024, 32))

	byRows := &Config{SpillAfterRows: 100}
	assert.False(t, byRows.PredictSpill(99*32, 32))
	assert.True(t, byRows.PredictSpill(100*32, 32))

	unbounded := &Config{}
	assert.False(t, unbounded.PredictSpill(1<<40, 32))

	// no estimate means no prediction, whatever the thresholds
	assert.False(t, byBytes.PredictSpill(0, 32))
	assert.False(t, byBytes.PredictSpill(-5, 32))
}
