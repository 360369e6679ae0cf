package eventmodels

import (
	"fmt"
	"strings"
	"time"
)

// AuthError means the connection's credentials are expired or invalid. The
// connection is deactivated and the user must re-authorize.
type AuthError struct {
	BrokerType BrokerType
	Reason     string
	Cause      error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s auth failed: %s: %v", e.BrokerType, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s auth failed: %s", e.BrokerType, e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// UnsupportedBrokerError is returned by the adapter factory for an unknown
// or unconfigured broker type. Fatal to that call, never retried.
type UnsupportedBrokerError struct {
	BrokerType BrokerType
}

func (e *UnsupportedBrokerError) Error() string {
	return fmt.Sprintf("unsupported broker type: %s", e.BrokerType)
}

// RouteCheckFailure names the routing check a broker type did not satisfy.
type RouteCheckFailure struct {
	BrokerType BrokerType
	Check      string
}

// NoRouteError reports every candidate broker type that was considered and
// the specific check it failed, for user-facing diagnostics.
type NoRouteError struct {
	AssetClass AssetClass
	Failures   []RouteCheckFailure
}

func (e *NoRouteError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("no broker routes asset class %s", e.AssetClass)
	}

	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.BrokerType, f.Check))
	}

	return fmt.Sprintf("no route for asset class %s: %s", e.AssetClass, strings.Join(parts, "; "))
}

// RateLimitedError is surfaced by adapters when the broker throttles a call.
// Callers retry with backoff; it is never silently dropped.
type RateLimitedError struct {
	BrokerType BrokerType
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %v", e.BrokerType, e.RetryAfter)
}

// NetworkError wraps a transient transport failure. Retried only for
// idempotent reads, never for order submission.
type NetworkError struct {
	Op    string
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Cause)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// ValidationErrors collects every defect found in a submitted batch so a
// caller sees them all in one pass.
type ValidationErrors struct {
	Errors []string
}

func (e *ValidationErrors) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

func (e *ValidationErrors) Add(msg string) {
	e.Errors = append(e.Errors, msg)
}

func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}
