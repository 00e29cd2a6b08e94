package model

import (
	"errors"
	"fmt"
	"strings"
)

// Caller-visible error kinds. Errors travel as values in replies; nothing
// crosses a coordinator boundary as a panic.
var (
	ErrMetricNotFound = errors.New("metric not found")
	ErrTimeout        = errors.New("timeout")
	ErrUnavailable    = errors.New("shard owner unreachable")

	// ErrUnsupportedDistributedAvg is returned when a grouped avg cannot be
	// merged because a shard reply lacks the count channel.
	ErrUnsupportedDistributedAvg = errors.New("unsupported distributed avg: shard results carry no count")
)

// SchemaViolation reports a record field whose runtime kind mismatches the
// declared index type.
type SchemaViolation struct {
	Field    string
	Expected IndexType
	Found    ScalarKind
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("field %q: expected %s, found %s", e.Field, e.Expected, e.Found)
}

// IncompatibleField is one structured reason inside a SchemaConflictError.
type IncompatibleField struct {
	Field string
	Old   IndexType
	New   IndexType
}

func (r IncompatibleField) String() string {
	return fmt.Sprintf("%s: %s -> %s", r.Field, r.Old, r.New)
}

// SchemaConflictError rejects a schema update whose shared fields changed type.
type SchemaConflictError struct {
	Metric  string
	Reasons []IncompatibleField
}

func (e *SchemaConflictError) Error() string {
	parts := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		parts[i] = r.String()
	}
	return fmt.Sprintf("schema conflict on %s: %s", e.Metric, strings.Join(parts, "; "))
}

// InvalidStatementError reports a statement that fails semantic checks.
type InvalidStatementError struct {
	Detail string
}

func (e *InvalidStatementError) Error() string {
	return "invalid statement: " + e.Detail
}

// IsSchemaConflict reports whether err is a schema compatibility rejection.
func IsSchemaConflict(err error) bool {
	var sc *SchemaConflictError
	return errors.As(err, &sc)
}

// IsInvalidStatement reports whether err is a statement semantic rejection.
func IsInvalidStatement(err error) bool {
	var is *InvalidStatementError
	return errors.As(err, &is)
}
