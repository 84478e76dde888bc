// Package llmerr classifies provider SDK errors into the runtime's fault
// taxonomy so retry and cooldown policies work the same across providers.
package llmerr

import (
	"context"
	"errors"
	"strings"

	"starkagent/pkg/fault"
)

// Classify maps a provider error onto a fault kind. Providers bury status
// codes in error strings, so classification is partly textual.
func Classify(component string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fault.Wrap(err, fault.KindCancelled, component, "request canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(err, fault.KindTimeout, component, "request timeout")
	}

	lowered := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowered, "429") || strings.Contains(lowered, "rate limit") ||
		strings.Contains(lowered, "quota"):
		return fault.Wrap(err, fault.KindRateLimited, component, "rate limit exceeded")
	case strings.Contains(lowered, "401") || strings.Contains(lowered, "403") ||
		strings.Contains(lowered, "unauthorized") || strings.Contains(lowered, "api key"):
		return fault.Wrap(err, fault.KindFatal, component, "authentication failed")
	case strings.Contains(lowered, "400") || strings.Contains(lowered, "invalid") ||
		strings.Contains(lowered, "malformed") || strings.Contains(lowered, "too large"):
		return fault.Wrap(err, fault.KindUsage, component, "bad request")
	case strings.Contains(lowered, "500") || strings.Contains(lowered, "502") ||
		strings.Contains(lowered, "503") || strings.Contains(lowered, "504") ||
		strings.Contains(lowered, "connection") || strings.Contains(lowered, "timeout") ||
		strings.Contains(lowered, "eof") || strings.Contains(lowered, "reset"):
		return fault.Wrap(err, fault.KindTransient, component, "transient upstream error")
	default:
		return fault.Wrap(err, fault.KindInternal, component, "unclassified provider error")
	}
}

// BadPrompt flags a request the provider cannot accept.
func BadPrompt(component, msg string) error {
	return fault.New(fault.KindUsage, component, "%s", msg)
}

// Empty flags an empty provider response; callers may retry.
func Empty(component string) error {
	return fault.New(fault.KindTransient, component, "empty response from provider")
}
