package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies errors by their nature and appropriate handling.
type Category int

const (
	// CategoryConfig represents plan-build-time errors: type mismatches,
	// invalid sort or partition directives. These surface to the caller
	// before any row is produced and are never discovered mid-scan.
	CategoryConfig Category = iota

	// CategoryResource represents per-query resource failures: memory
	// budget exceeded without spill capacity, spill-file allocation
	// failure. They abort the current query only; indexes and partitions
	// are untouched. Retrying with a larger budget is the caller's call.
	CategoryResource

	// CategoryStructural represents invariant violations inside an index:
	// unsorted nodes, occupancy out of bounds, height mismatch. Fatal for
	// the structure; it is marked unusable until externally rebuilt.
	CategoryStructural
)

func (c Category) String() string {
	switch c {
	case CategoryConfig:
		return "config"
	case CategoryResource:
		return "resource"
	case CategoryStructural:
		return "structural"
	default:
		return "unknown"
	}
}

// Error is a structured execution-core error. Not-found conditions (seek
// miss, empty partition) are normal outcomes represented as empty sequences
// and never pass through this type.
type Error struct {
	// Code is a short identifier for the error kind, e.g. "JOIN_KEY_TYPE_MISMATCH".
	Code string

	// Category determines the handling strategy.
	Category Category

	// Message is a human-readable description of what went wrong.
	Message string

	// Operation names the operation in flight, e.g. "Build", "Insert".
	Operation string

	// Component names the originating component, e.g. "HashJoin", "BTree".
	Component string

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a structured error with the given category, code and message.
func New(category Category, code, format string, args ...any) *Error {
	return &Error{
		Code:     code,
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Config is shorthand for a plan-build configuration error.
func Config(code, format string, args ...any) *Error {
	return New(CategoryConfig, code, format, args...)
}

// Resource is shorthand for a per-query resource error.
func Resource(code, format string, args ...any) *Error {
	return New(CategoryResource, code, format, args...)
}

// Structural is shorthand for a fatal invariant violation.
func Structural(code, format string, args ...any) *Error {
	return New(CategoryStructural, code, format, args...)
}

// Wrap annotates an existing error with operation and component context.
// If err is already a structured Error, the context is filled in where empty.
func Wrap(err error, category Category, code, operation, component string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Operation == "" {
			e.Operation = operation
		}
		if e.Component == "" {
			e.Component = component
		}
		return e
	}

	return &Error{
		Code:      code,
		Category:  category,
		Message:   err.Error(),
		Operation: operation,
		Component: component,
		Cause:     err,
	}
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Operation != "" {
		b.WriteString(fmt.Sprintf(" (operation: %s", e.Operation))
		if e.Component != "" {
			b.WriteString(fmt.Sprintf(", component: %s", e.Component))
		}
		b.WriteString(")")
	}

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(" caused by: %v", e.Cause))
	}

	return b.String()
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// CategoryOf reports the category of err if it is a structured Error.
func CategoryOf(err error) (Category, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Category, true
	}
	return 0, false
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	c, ok := CategoryOf(err)
	return ok && c == CategoryConfig
}

// IsResource reports whether err is a resource error.
func IsResource(err error) bool {
	c, ok := CategoryOf(err)
	return ok && c == CategoryResource
}

// IsStructural reports whether err is a structural invariant violation.
func IsStructural(err error) bool {
	c, ok := CategoryOf(err)
	return ok && c == CategoryStructural
}
