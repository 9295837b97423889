package domain

import (
	"errors"
	"fmt"
)

// Startup errors. Both are fatal: they abort boot and are never recovered
// silently.
var (
	ErrDuplicateCapability = errors.New("capability already registered")
	ErrUnknownCapability   = errors.New("unknown capability")
)

// ErrApprovalTimeout is returned by the approval gate when no reviewer
// decision arrives before the caller-supplied timeout elapses.
var ErrApprovalTimeout = errors.New("approval timed out")

// RoutingDepthExceededError indicates a single request attempted more
// delegation hops than allowed.
type RoutingDepthExceededError struct {
	Depth int
	Max   int
}

func (e *RoutingDepthExceededError) Error() string {
	return fmt.Sprintf("routing depth %d exceeds maximum %d", e.Depth, e.Max)
}

// GuardrailViolationError indicates the safety filter rejected the request
// before any handler or model call was made.
type GuardrailViolationError struct {
	Rule   string
	Reason string
}

func (e *GuardrailViolationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("guardrail violation (%s): %s", e.Rule, e.Reason)
	}
	return fmt.Sprintf("guardrail violation (%s)", e.Rule)
}

// HandlerExecutionError wraps a failure inside a domain handler, a tool or
// the language-model capability. The coordinator does not retry a
// different route on this error.
type HandlerExecutionError struct {
	Handler string
	Err     error
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("handler %s failed: %v", e.Handler, e.Err)
}

func (e *HandlerExecutionError) Unwrap() error { return e.Err }
