// Package aggregation provides the grouping operators: a hash aggregate
// that spills group partitions to disk when the table outgrows the memory
// budget, and a stream aggregate that rides sorted input with constant
// state. Both share one accumulator set: Sum, Count, Min, Max and Avg
// (carried as sum plus count until the group closes).
package aggregation

import (
	"fmt"

	"querycore/pkg/errs"
	"querycore/pkg/types"
)

// Op identifies an aggregate function.
type Op int

const (
	Sum Op = iota
	Count
	Min
	Max
	Avg
)

func (op Op) String() string {
	switch op {
	case Sum:
		return "SUM"
	case Count:
		return "COUNT"
	case Min:
		return "MIN"
	case Max:
		return "MAX"
	case Avg:
		return "AVG"
	default:
		return "UNKNOWN"
	}
}

// resultType maps an aggregate over an input column type to its output
// type. An unsupported pairing is a configuration error.
func resultType(op Op, in types.Type) (types.Type, error) {
	switch op {
	case Count:
		return types.IntType, nil
	case Sum:
		if in != types.IntType && in != types.FloatType {
			return 0, errs.Config("BAD_AGGREGATE", "SUM requires a numeric column, got %v", in)
		}
		return in, nil
	case Avg:
		if in != types.IntType && in != types.FloatType {
			return 0, errs.Config("BAD_AGGREGATE", "AVG requires a numeric column, got %v", in)
		}
		return types.FloatType, nil
	case Min, Max:
		return in, nil
	default:
		return 0, errs.Config("BAD_AGGREGATE", "unknown aggregate op %d", op)
	}
}

// accumulator folds one column of one group. Null inputs are skipped; a
// group whose every input was null yields a null result (except COUNT,
// which yields zero).
type accumulator interface {
	add(f types.Field) error
	result() (types.Field, error)
}

// newAccumulator builds the accumulator for one aggregate over one column
// type. The pairing is assumed already validated by resultType.
func newAccumulator(op Op, in types.Type) accumulator {
	switch op {
	case Count:
		return &countAcc{}
	case Sum:
		if in == types.FloatType {
			return &floatSumAcc{}
		}
		return &intSumAcc{}
	case Avg:
		return &avgAcc{}
	case Min:
		return &extremeAcc{wantLess: true}
	case Max:
		return &extremeAcc{wantLess: false}
	default:
		return nil
	}
}

type countAcc struct {
	n int64
}

func (a *countAcc) add(f types.Field) error {
	if f != nil {
		a.n++
	}
	return nil
}

func (a *countAcc) result() (types.Field, error) {
	return types.NewIntField(a.n), nil
}

type intSumAcc struct {
	sum int64
	any bool
}

func (a *intSumAcc) add(f types.Field) error {
	if f == nil {
		return nil
	}
	v, ok := f.(*types.IntField)
	if !ok {
		return fmt.Errorf("SUM expected int field, got %T", f)
	}
	a.sum += v.Value
	a.any = true
	return nil
}

func (a *intSumAcc) result() (types.Field, error) {
	if !a.any {
		return nil, nil
	}
	return types.NewIntField(a.sum), nil
}

type floatSumAcc struct {
	sum float64
	any bool
}

func (a *floatSumAcc) add(f types.Field) error {
	if f == nil {
		return nil
	}
	v, ok := f.(*types.Float64Field)
	if !ok {
		return fmt.Errorf("SUM expected float field, got %T", f)
	}
	a.sum += v.Value
	a.any = true
	return nil
}

func (a *floatSumAcc) result() (types.Field, error) {
	if !a.any {
		return nil, nil
	}
	return types.NewFloat64Field(a.sum), nil
}

// avgAcc carries sum and count separately and divides only when the group
// closes.
type avgAcc struct {
	sum float64
	n   int64
}

func (a *avgAcc) add(f types.Field) error {
	if f == nil {
		return nil
	}
	switch v := f.(type) {
	case *types.IntField:
		a.sum += float64(v.Value)
	case *types.Float64Field:
		a.sum += v.Value
	default:
		return fmt.Errorf("AVG expected numeric field, got %T", f)
	}
	a.n++
	return nil
}

func (a *avgAcc) result() (types.Field, error) {
	if a.n == 0 {
		return nil, nil
	}
	return types.NewFloat64Field(a.sum / float64(a.n)), nil
}

// extremeAcc tracks the minimum or maximum seen value.
type extremeAcc struct {
	wantLess bool
	best     types.Field
}

func (a *extremeAcc) add(f types.Field) error {
	if f == nil {
		return nil
	}
	if a.best == nil {
		a.best = f
		return nil
	}
	c, err := f.Cmp(a.best)
	if err != nil {
		return err
	}
	if (a.wantLess && c < 0) || (!a.wantLess && c > 0) {
		a.best = f
	}
	return nil
}

func (a *extremeAcc) result() (types.Field, error) {
	return a.best, nil
}
