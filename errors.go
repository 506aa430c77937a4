package bulksql

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for every error kind of the engine.
var (
	// ErrUnsupportedAdapter is returned when a dialect name is unknown.
	ErrUnsupportedAdapter = errors.New("bulksql: unsupported adapter")

	// ErrUpsertUnsupported is returned when the dialect (or its server version)
	// has no native upsert.
	ErrUpsertUnsupported = errors.New("bulksql: upsert not supported")

	// ErrSchemaMismatch is returned when rows of one batch disagree on their columns.
	ErrSchemaMismatch = errors.New("bulksql: schema mismatch")

	// ErrInvalidIdentifier is returned for table or column names outside the safe character set.
	ErrInvalidIdentifier = errors.New("bulksql: invalid identifier")

	// ErrTypeCoercion is returned when a value cannot be represented for the target dialect.
	ErrTypeCoercion = errors.New("bulksql: type coercion failed")

	// ErrUnsupportedOperation is returned when a dialect cannot perform an operation at all.
	ErrUnsupportedOperation = errors.New("bulksql: operation not supported")
)

// UnsupportedAdapterError reports an unknown dialect name.
type UnsupportedAdapterError struct {
	Name string
}

// Error returns the error string.
func (e *UnsupportedAdapterError) Error() string {
	return fmt.Sprintf("bulksql: unsupported adapter %q", e.Name)
}

// Is reports whether the target error matches ErrUnsupportedAdapter.
func (e *UnsupportedAdapterError) Is(err error) bool {
	return err == ErrUnsupportedAdapter
}

// NewUnsupportedAdapterError returns a new UnsupportedAdapterError.
func NewUnsupportedAdapterError(name string) *UnsupportedAdapterError {
	return &UnsupportedAdapterError{Name: name}
}

// IsUnsupportedAdapter returns true if the error is an UnsupportedAdapterError.
func IsUnsupportedAdapter(err error) bool {
	return err != nil && errors.Is(err, ErrUnsupportedAdapter)
}

// UpsertUnsupportedError reports a dialect or server version without native upsert.
type UpsertUnsupportedError struct {
	Dialect string
	Version string // Empty when the version is unknown.
	Floor   string // Minimum version with native upsert, empty if never supported.
}

// Error returns the error string.
func (e *UpsertUnsupportedError) Error() string {
	switch {
	case e.Floor == "":
		return fmt.Sprintf("bulksql: upsert not supported by %s", e.Dialect)
	case e.Version != "":
		return fmt.Sprintf("bulksql: upsert requires %s %s or later (server is %s)", e.Dialect, e.Floor, e.Version)
	default:
		return fmt.Sprintf("bulksql: upsert requires %s %s or later", e.Dialect, e.Floor)
	}
}

// Is reports whether the target error matches ErrUpsertUnsupported.
func (e *UpsertUnsupportedError) Is(err error) bool {
	return err == ErrUpsertUnsupported
}

// IsUpsertUnsupported returns true if the error is an UpsertUnsupportedError.
func IsUpsertUnsupported(err error) bool {
	return err != nil && errors.Is(err, ErrUpsertUnsupported)
}

// SchemaMismatchError reports a row whose column set differs from the batch.
type SchemaMismatchError struct {
	Row     int // Index of the offending row, -1 when not row specific.
	Message string
}

// Error returns the error string.
func (e *SchemaMismatchError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("bulksql: schema mismatch at row %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("bulksql: schema mismatch: %s", e.Message)
}

// Is reports whether the target error matches ErrSchemaMismatch.
func (e *SchemaMismatchError) Is(err error) bool {
	return err == ErrSchemaMismatch
}

// NewSchemaMismatchError returns a new SchemaMismatchError.
func NewSchemaMismatchError(row int, format string, args ...any) *SchemaMismatchError {
	return &SchemaMismatchError{Row: row, Message: fmt.Sprintf(format, args...)}
}

// IsSchemaMismatch returns true if the error is a SchemaMismatchError.
func IsSchemaMismatch(err error) bool {
	return err != nil && errors.Is(err, ErrSchemaMismatch)
}

// InvalidIdentifierError reports an unsafe table or column name.
type InvalidIdentifierError struct {
	Identifier string
}

// Error returns the error string.
func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("bulksql: invalid identifier %q", e.Identifier)
}

// Is reports whether the target error matches ErrInvalidIdentifier.
func (e *InvalidIdentifierError) Is(err error) bool {
	return err == ErrInvalidIdentifier
}

// IsInvalidIdentifier returns true if the error is an InvalidIdentifierError.
func IsInvalidIdentifier(err error) bool {
	return err != nil && errors.Is(err, ErrInvalidIdentifier)
}

// TypeCoercionError reports a value that cannot be represented in the target dialect.
type TypeCoercionError struct {
	Column string
	Value  any
	Reason string
}

// Error returns the error string.
func (e *TypeCoercionError) Error() string {
	return fmt.Sprintf("bulksql: cannot coerce value %v (%T) of column %q: %s", e.Value, e.Value, e.Column, e.Reason)
}

// Is reports whether the target error matches ErrTypeCoercion.
func (e *TypeCoercionError) Is(err error) bool {
	return err == ErrTypeCoercion
}

// IsTypeCoercion returns true if the error is a TypeCoercionError.
func IsTypeCoercion(err error) bool {
	return err != nil && errors.Is(err, ErrTypeCoercion)
}

// UnsupportedOperationError reports an operation the dialect cannot run.
type UnsupportedOperationError struct {
	Dialect string
	Op      string
}

// Error returns the error string.
func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("bulksql: %s not supported by %s", e.Op, e.Dialect)
}

// Is reports whether the target error matches ErrUnsupportedOperation.
func (e *UnsupportedOperationError) Is(err error) bool {
	return err == ErrUnsupportedOperation
}

// IsUnsupportedOperation returns true if the error is an UnsupportedOperationError.
func IsUnsupportedOperation(err error) bool {
	return err != nil && errors.Is(err, ErrUnsupportedOperation)
}

// ConstraintError represents a database constraint violation error.
// It wraps the driver error unchanged.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e *ConstraintError) Error() string {
	return fmt.Sprintf("bulksql: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e *ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) *ConstraintError {
	return &ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConstraintError
	return errors.As(err, &e)
}

// DriverError wraps any other error returned by the database driver.
type DriverError struct {
	Op  string // exec, query, begin, commit.
	Err error
}

// Error returns the error string.
func (e *DriverError) Error() string {
	return fmt.Sprintf("bulksql: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DriverError) Unwrap() error {
	return e.Err
}

// IsDriverError returns true if the error is a DriverError.
func IsDriverError(err error) bool {
	if err == nil {
		return false
	}
	var e *DriverError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback,
// together with the error that triggered it.
type RollbackError struct {
	Err      error // Original error that triggered rollback.
	Rollback error
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("bulksql: rollback failed: %v: %v", e.Rollback, e.Err)
}

// Unwrap returns the original and the rollback error.
func (e *RollbackError) Unwrap() []error {
	return []error{e.Err, e.Rollback}
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "bulksql: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("bulksql: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}
