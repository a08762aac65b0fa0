// Package apperr implements the error taxonomy of spec.md §7: a closed set
// of machine-readable Kinds that HTTP handlers translate to status codes,
// and that the job engine uses to decide retry-vs-finalize.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error taxonomy kinds named in spec.md §7.
type Kind string

const (
	KindInvalidRequest     Kind = "invalid_request"
	KindValidationError    Kind = "validation_error"
	KindUnsupportedFormat  Kind = "unsupported_format"
	KindToolFailure        Kind = "tool_failure"
	KindProviderFailure    Kind = "provider_failure"
	KindCircuitOpen        Kind = "circuit_open"
	KindRateLimited        Kind = "rate_limited"
	KindTimeout            Kind = "timeout"
	KindWorkerLost         Kind = "worker_lost"
	KindCancelled          Kind = "cancelled"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindPayloadTooLarge    Kind = "payload_too_large"
	KindUnsupportedMedia   Kind = "unsupported_media_type"
	KindInternal           Kind = "internal_error"
)

// Error is the concrete error type carrying a Kind, a short machine
// reason, the correlation id it occurred under, and the wrapped cause.
// Logging and HTTP translation both operate off this type rather than
// string-matching error messages.
type Error struct {
	Kind          Kind
	Reason        string
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with no wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap constructs an Error wrapping cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// WithCorrelation returns a copy of e with CorrelationID set.
func (e *Error) WithCorrelation(id string) *Error {
	cp := *e
	cp.CorrelationID = id
	return &cp
}

// As extracts the Kind of err if it is (or wraps) an *Error, defaulting to
// KindInternal otherwise.
func As(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
