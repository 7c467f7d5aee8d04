package entity

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for domain layer operations.
var (
	ErrNotFound         = errors.New("entity not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrValidationFailed = errors.New("validation failed")
)

// ValidationError represents a validation error with detailed field information.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ErrorKind is the error taxonomy from the pipeline's error handling
// design: callers branch on kind, not on a concrete type, so any wrapped
// error built from these constructors satisfies errors.Is against the
// matching sentinel below.
type ErrorKind string

const (
	KindConfigError         ErrorKind = "ConfigError"
	KindUpstreamUnavailable ErrorKind = "UpstreamUnavailable"
	KindUpstreamRejected    ErrorKind = "UpstreamRejected"
	KindRateLimited         ErrorKind = "RateLimited"
	KindInvalidData         ErrorKind = "InvalidData"
	KindCircuitOpen         ErrorKind = "CircuitOpen"
	KindResourceExhausted   ErrorKind = "ResourceExhausted"
	KindCancelled           ErrorKind = "Cancelled"
	KindInternalError       ErrorKind = "InternalError"
)

// sentinel is the comparable value errors.Is matches against for a given
// kind; PipelineError wraps an underlying cause but still compares equal
// to its kind's sentinel.
var sentinels = map[ErrorKind]error{
	KindConfigError:         errors.New("config error"),
	KindUpstreamUnavailable: errors.New("upstream unavailable"),
	KindUpstreamRejected:    errors.New("upstream rejected request"),
	KindRateLimited:         errors.New("rate limited"),
	KindInvalidData:         errors.New("invalid data"),
	KindCircuitOpen:         errors.New("circuit open"),
	KindResourceExhausted:   errors.New("resource exhausted"),
	KindCancelled:           errors.New("cancelled"),
	KindInternalError:       errors.New("internal error"),
}

// PipelineError carries a taxonomy kind plus the underlying cause.
type PipelineError struct {
	Kind  ErrorKind
	Cause error
}

func (e *PipelineError) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, KindX's sentinel) true for any PipelineError
// of that kind, regardless of the wrapped cause.
func (e *PipelineError) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// NewError wraps cause with kind, producing an error classifiable by
// errors.Is(err, SentinelFor(kind)) and introspectable via errors.As.
func NewError(kind ErrorKind, cause error) error {
	return &PipelineError{Kind: kind, Cause: cause}
}

// SentinelFor returns the comparable sentinel for a kind, for use with
// errors.Is at call sites that only care about the taxonomy.
func SentinelFor(kind ErrorKind) error {
	return sentinels[kind]
}

// IsContextError reports whether err is (or wraps) a context
// cancellation or deadline expiry. Classifiers use this to map
// cooperative-shutdown errors to KindCancelled instead of an upstream
// kind, so stages know to skip collaborator writes and the runtime
// knows to release the job back to WAITING rather than fail it.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// KindOf extracts the ErrorKind from err if it (or something it wraps)
// is a *PipelineError, defaulting to KindInternalError otherwise.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternalError
}
