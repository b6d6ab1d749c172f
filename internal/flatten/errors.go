package flatten

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching.
var (
	// ErrShape is returned when a declared relationship field holds a value
	// of the wrong shape (e.g. a scalar where a list of objects was expected).
	ErrShape = errors.New("unexpected value shape")

	// ErrMaxDepth is returned when relationship nesting exceeds Config.MaxDepth.
	ErrMaxDepth = errors.New("maximum nesting depth exceeded")

	// ErrInvalidConfig is returned by New when the relationship or flatten
	// declarations are malformed.
	ErrInvalidConfig = errors.New("invalid flatten config")

	// ErrUnknownTable is returned when a table name is empty or, for
	// callers that look up schemas, not declared by the connector.
	ErrUnknownTable = errors.New("unknown table")
)

// ShapeError describes a data-contract violation on one field.
type ShapeError struct {
	Table string
	Field string
	Key   any // identifying key of the offending record, nil if unknown
	Want  string
	Got   Kind
}

func (e *ShapeError) Error() string {
	where := fmt.Sprintf("field %q", e.Field)
	if e.Table != "" {
		where = fmt.Sprintf("table %q %s", e.Table, where)
	}
	if e.Key != nil {
		where += fmt.Sprintf(" (record %v)", e.Key)
	}
	return fmt.Sprintf("%s: expected %s, got %s", where, e.Want, e.Got)
}

func (e *ShapeError) Is(target error) bool {
	return target == ErrShape
}

// DepthError reports the table at which the depth guard tripped.
type DepthError struct {
	Table string
	Depth int
	Max   int
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("table %q: nesting depth %d exceeds limit %d", e.Table, e.Depth, e.Max)
}

func (e *DepthError) Is(target error) bool {
	return target == ErrMaxDepth
}

// IsShape reports whether err is (or wraps) a shape violation.
func IsShape(err error) bool {
	return errors.Is(err, ErrShape)
}

// IsMaxDepth reports whether err is (or wraps) a depth-guard failure.
func IsMaxDepth(err error) bool {
	return errors.Is(err, ErrMaxDepth)
}
