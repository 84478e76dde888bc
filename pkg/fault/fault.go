// Package fault defines the error taxonomy shared across runtime components.
// Components recover what they can locally and surface the residual as a
// *fault.Error; the orchestrator facade translates these into response
// envelopes for the gateway.
package fault

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for propagation and retry decisions.
type Kind int8

const (
	// KindUsage is malformed input; never retried, surfaced to the caller.
	KindUsage Kind = iota
	// KindRateLimited is a per-user bucket exhaustion or endpoint cooldown.
	KindRateLimited
	// KindCancelled is cooperative cancellation from context; not logged as an error.
	KindCancelled
	// KindTimeout is an operation that exceeded its deadline.
	KindTimeout
	// KindTransient is a network blip, 5xx, or transient storage failure.
	KindTransient
	// KindNotFound is an unknown agent, tool, or skill.
	KindNotFound
	// KindStateOverflow is a latest-wins collection rejecting an entry.
	KindStateOverflow
	// KindFatal is an invariant violation; triggers orderly shutdown.
	KindFatal
	// KindInternal is everything unclassified.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage_error"
	case KindRateLimited:
		return "rate_limited"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindStateOverflow:
		return "state_overflow"
	case KindFatal:
		return "fatal"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Retryable reports whether callers may retry an error of this kind.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindTimeout
}

// Error is a classified runtime error carrying the raising component.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Err       error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error without a cause.
func New(kind Kind, component, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Component: component,
		Message:   fmt.Sprintf(format, args...),
	}
}

// Wrap classifies an existing error. Context cancellation and deadline errors
// keep their distinguished kinds regardless of the requested one.
func Wrap(err error, kind Kind, component, message string) *Error {
	if errors.Is(err, context.Canceled) {
		kind = KindCancelled
	} else if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{
		Kind:      kind,
		Component: component,
		Message:   message,
		Err:       err,
	}
}

// KindOf extracts the Kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// ComponentOf extracts the raising component, or "" if unclassified.
func ComponentOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Component
	}
	return ""
}

// IsCancelled reports whether the error chain is a cooperative cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// RetryConfig defines exponential backoff for transient retries.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetry is the standard budget for transient failures inside a component.
var DefaultRetry = RetryConfig{ //nolint:gochecknoglobals
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
	Multiplier:  2.0,
}

// Delay returns the backoff delay before the given 1-based attempt.
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}
