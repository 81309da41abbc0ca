// Package scan provides the leaf operators that pull rows out of storage:
// full segment scans over the partitions surviving pruning, and index scans
// driven by a B-tree range.
package scan

import (
	"fmt"

	"querycore/pkg/partition"
	"querycore/pkg/primitives"
	"querycore/pkg/tuple"
)

// matchesResidual evaluates the constraints pruning could not fully absorb
// against one row. A null field never satisfies a comparison.
func matchesResidual(t *tuple.Tuple, constraints []partition.Constraint) (bool, error) {
	for _, c := range constraints {
		f, err := t.GetField(int(c.Column))
		if err != nil {
			return false, fmt.Errorf("residual filter column %d: %w", c.Column, err)
		}
		if f == nil {
			return false, nil
		}

		if c.Op == primitives.Equals {
			// IN semantics: any listed value matches
			hit := false
			for _, v := range c.Values {
				if v == nil {
					continue
				}
				ok, err := f.Compare(primitives.Equals, v)
				if err != nil {
					return false, fmt.Errorf("residual filter column %d: %w", c.Column, err)
				}
				if ok {
					hit = true
					break
				}
			}
			if !hit {
				return false, nil
			}
			continue
		}

		v := c.Values[0]
		if v == nil {
			return false, nil
		}
		ok, err := f.Compare(c.Op, v)
		if err != nil {
			return false, fmt.Errorf("residual filter column %d: %w", c.Column, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
