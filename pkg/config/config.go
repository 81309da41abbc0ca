package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"querycore/pkg/errs"
	"querycore/pkg/types"
)

// Config carries the execution-wide tuning knobs. The memory budget for
// spilling operators is expressed in rows, bytes, or both; when both are set
// the row threshold is checked first.
type Config struct {
	// SpillAfterRows triggers spilling once an operator buffers this many
	// rows. Zero disables the row threshold.
	SpillAfterRows int `yaml:"spill_after_rows"`

	// SpillAfterBytes triggers spilling once an operator's estimated
	// buffered size exceeds this many bytes. Zero disables the byte
	// threshold.
	SpillAfterBytes int64 `yaml:"spill_after_bytes"`

	// SpillDir is where spill run files are created. Empty means the
	// system temp directory.
	SpillDir string `yaml:"spill_dir"`

	// MergeFanIn bounds how many run files the external sort keeps open
	// during a merge pass.
	MergeFanIn int `yaml:"merge_fan_in"`

	// HashFanOut is the number of grace-hash spill groups.
	HashFanOut int `yaml:"hash_fan_out"`

	// BTreeOrder is the maximum number of entries per B-tree node.
	BTreeOrder int `yaml:"btree_order"`

	// NullOrdering is "first" or "last" and applies to sorts and indexes
	// that do not override it.
	NullOrdering string `yaml:"null_ordering"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		SpillAfterRows:  10000,
		SpillAfterBytes: 0,
		SpillDir:        "",
		MergeFanIn:      8,
		HashFanOut:      8,
		BTreeOrder:      64,
		NullOrdering:    "first",
	}
}

// Load reads a YAML configuration file and merges it over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects directives no operator could honor.
func (c *Config) Validate() error {
	if c.SpillAfterRows < 0 {
		return errs.Config("BAD_SPILL_ROWS", "spill_after_rows cannot be negative: %d", c.SpillAfterRows)
	}
	if c.SpillAfterBytes < 0 {
		return errs.Config("BAD_SPILL_BYTES", "spill_after_bytes cannot be negative: %d", c.SpillAfterBytes)
	}
	if c.MergeFanIn < 2 {
		return errs.Config("BAD_MERGE_FAN_IN", "merge_fan_in must be at least 2: %d", c.MergeFanIn)
	}
	if c.HashFanOut < 2 {
		return errs.Config("BAD_HASH_FAN_OUT", "hash_fan_out must be at least 2: %d", c.HashFanOut)
	}
	if c.BTreeOrder < 3 {
		return errs.Config("BAD_BTREE_ORDER", "btree_order must be at least 3: %d", c.BTreeOrder)
	}
	if _, err := c.Nulls(); err != nil {
		return err
	}
	return nil
}

// Nulls resolves the configured null ordering policy.
func (c *Config) Nulls() (types.NullOrdering, error) {
	switch c.NullOrdering {
	case "", "first":
		return types.NullsFirst, nil
	case "last":
		return types.NullsLast, nil
	default:
		return 0, errs.Config("BAD_NULL_ORDERING",
			"null_ordering must be \"first\" or \"last\", got %q", c.NullOrdering)
	}
}

// PredictSpill reports whether an input whose materialized size is
// estimated at totalBytes would exceed the memory budget. Operators with a
// statistics estimate consult it before buffering anything, so a build
// predicted to overflow goes straight to its spill path. A zero or
// negative estimate predicts nothing.
func (c *Config) PredictSpill(totalBytes int64, rowBytes uint32) bool {
	if totalBytes <= 0 {
		return false
	}
	if c.SpillAfterBytes > 0 && totalBytes >= c.SpillAfterBytes {
		return true
	}
	if c.SpillAfterRows > 0 && rowBytes > 0 && totalBytes >= int64(c.SpillAfterRows)*int64(rowBytes) {
		return true
	}
	return false
}

// ShouldSpill reports whether an operator buffering bufferedRows rows of
// estimated rowBytes each has exceeded the memory budget.
func (c *Config) ShouldSpill(bufferedRows int, rowBytes uint32) bool {
	if c.SpillAfterRows > 0 && bufferedRows >= c.SpillAfterRows {
		return true
	}
	if c.SpillAfterBytes > 0 && int64(bufferedRows)*int64(rowBytes) >= c.SpillAfterBytes {
		return true
	}
	return false
}
