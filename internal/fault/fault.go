// Package fault defines the error taxonomy for agentd request processing.
//
// Every error that crosses a component boundary is classified into one of
// five kinds. The kind determines propagation behavior: validation and
// internal faults always surface to the caller, timeouts are retried or
// treated best-effort depending on the call site, dependency faults trigger
// graceful degradation where one is defined, and resource exhaustion is a
// backpressure signal the client may retry later.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

const (
	// KindValidation marks malformed or unsafe input. Never retried.
	KindValidation Kind = "validation"

	// KindResourceExhausted marks pool or system health limits being hit.
	// The client should back off and retry later.
	KindResourceExhausted Kind = "resource_exhausted"

	// KindTimeout marks a deadline exceeded on a suspension point.
	KindTimeout Kind = "timeout"

	// KindDependency marks a collaborator failure or an open circuit
	// breaker in front of one.
	KindDependency Kind = "dependency"

	// KindInternal marks an invariant violation. Always fatal to the
	// request, never silently swallowed.
	KindInternal Kind = "internal"
)

// Error carries a kind, a stable machine-readable code, and the operation
// that produced it. It wraps the underlying cause.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "assemble.fanout"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the stable error code exposed to clients.
func (e *Error) Code() string { return string(e.Kind) }

// New wraps err with the given kind and operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf builds a validation fault from a format string.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Exhausted builds a resource-exhaustion fault.
func Exhausted(op string, err error) *Error {
	return &Error{Kind: KindResourceExhausted, Op: op, Err: err}
}

// Timeout builds a timeout fault.
func Timeout(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Err: err}
}

// Dependency builds a dependency fault.
func Dependency(op string, err error) *Error {
	return &Error{Kind: KindDependency, Op: op, Err: err}
}

// Internal builds an internal fault.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf extracts the kind from an error chain. Plain context deadline and
// cancellation errors classify as timeouts; anything unclassified is an
// internal fault, which keeps unknown errors loud rather than silently
// degraded.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindInternal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether err is a transient failure that a RetryPolicy
// may retry. Validation and internal faults are never retryable.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindDependency, KindResourceExhausted:
		return true
	default:
		return false
	}
}
