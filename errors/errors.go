// Package errors provides error handling for pact.
//
// It re-exports github.com/cockroachdb/errors (stack traces, wrapping,
// hints, details) and defines the sentinel taxonomy every pact package
// classifies its failures against:
//
//	ErrMalformedInput   span data or documents that cannot be interpreted
//	ErrNotFound         unknown scenario, contract, requirement or span id
//	ErrSchemaViolation  judge responses that never satisfied their shape
//	ErrTransport        completion, queue or HTTP failures after retries
//	ErrConfiguration    missing or invalid settings, fatal at startup
//
// Constructors mark the new error with its sentinel, so callers test the
// class with errors.Is while the message stays specific:
//
//	if errors.Is(err, errors.ErrSchemaViolation) {
//	    // the judge never produced a usable state schema
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
	CombineErrors      = crdb.CombineErrors
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// Sentinel classes. Use with errors.Is; wrap to add context.
var (
	// ErrMalformedInput indicates span data, a hierarchy, or a document
	// that cannot be interpreted (duplicate span ids, missing root, bad tags).
	ErrMalformedInput = New("malformed input")

	// ErrNotFound indicates an unknown scenario, contract, requirement or span.
	ErrNotFound = New("not found")

	// ErrSchemaViolation indicates a judge response failed shape validation
	// on every allowed attempt.
	ErrSchemaViolation = New("schema violation")

	// ErrTransport indicates a completion, queue, or HTTP failure that
	// survived its retry budget.
	ErrTransport = New("transport failure")

	// ErrConfiguration indicates missing or invalid settings.
	ErrConfiguration = New("configuration error")

	// ErrConflict indicates a conditional write lost against a concurrent writer.
	ErrConflict = New("resource conflict")

	// ErrTimeout indicates an operation ran past its deadline.
	ErrTimeout = New("operation timed out")
)

// NewMalformedInputError creates a malformed-input error with a formatted message.
func NewMalformedInputError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrMalformedInput)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewSchemaViolationError creates a schema-violation error with a formatted message.
func NewSchemaViolationError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrSchemaViolation)
}

// NewConfigurationError creates a configuration error with a formatted message.
func NewConfigurationError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrConfiguration)
}

// WrapTransport wraps err as a transport failure with context.
func WrapTransport(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrTransport)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsMalformedInputError checks if an error is or wraps ErrMalformedInput.
func IsMalformedInputError(err error) bool {
	return err != nil && Is(err, ErrMalformedInput)
}

// IsSchemaViolationError checks if an error is or wraps ErrSchemaViolation.
func IsSchemaViolationError(err error) bool {
	return err != nil && Is(err, ErrSchemaViolation)
}

// IsTransportError checks if an error is or wraps ErrTransport.
func IsTransportError(err error) bool {
	return err != nil && Is(err, ErrTransport)
}
