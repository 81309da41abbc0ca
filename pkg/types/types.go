package types

// Type identifies the data type of a field value.
type Type int

const (
	IntType Type = iota
	FloatType
	StringType
	BoolType
)

// String returns a string representation of the type
func (t Type) String() string {
	switch t {
	case IntType:
		return "INT_TYPE"
	case FloatType:
		return "FLOAT_TYPE"
	case StringType:
		return "STRING_TYPE"
	case BoolType:
		return "BOOL_TYPE"
	default:
		return "UNKNOWN_TYPE"
	}
}

// Size returns the fixed per-value size estimate in bytes, used for memory
// budgeting. Strings are estimated at their declared maximum.
func (t Type) Size() uint32 {
	switch t {
	case IntType:
		return 8
	case FloatType:
		return 8
	case StringType:
		return StringMaxSize
	case BoolType:
		return 1
	default:
		return 0
	}
}
