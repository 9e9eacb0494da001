// Package errs defines the typed error kinds shared across the worker
// (spec §7 Error Handling Design), following the teacher's
// internal/agent/errors.go style of exported sentinel/typed errors checked
// with errors.Is/errors.As rather than ad-hoc string matching.
package errs

import (
	"errors"
	"fmt"
)

// ConfigError indicates missing settings, zero LLM configs, or a missing
// required prompt file. Surfaced to the operator; the process exits
// non-zero.
type ConfigError struct {
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// NewConfigError builds a ConfigError.
func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}

// WorkspaceError indicates a workspace bootstrap failure (clone, configure,
// or branch checkout). Logged as ticket activity; the orchestrator fails
// the ticket.
type WorkspaceError struct {
	Message string
	Cause   error
}

func (e *WorkspaceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("workspace error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("workspace error: %s", e.Message)
}

func (e *WorkspaceError) Unwrap() error { return e.Cause }

// NewWorkspaceError builds a WorkspaceError.
func NewWorkspaceError(message string, cause error) *WorkspaceError {
	return &WorkspaceError{Message: message, Cause: cause}
}

// ProviderError is raised only after the Conversation Engine has exhausted
// retry and provider-fallback recovery for an LLM call.
type ProviderError struct {
	Provider string
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %q error: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %q error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// RateLimited signals a recoverable 429-class condition. It is recovered
// internally via backoff; it is only ever surfaced wrapped inside a
// ProviderError once all configured providers have been exhausted.
type RateLimited struct {
	Provider   string
	RetryAfter float64 // seconds
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("provider %q rate limited (retry after %.1fs)", e.Provider, e.RetryAfter)
}

// BudgetExceeded is surfaced as LlmResult.cost_exceeded; the orchestrator
// marks the ticket failed in response.
type BudgetExceeded struct {
	Spend   float64
	MaxCost float64
}

func (e *BudgetExceeded) Error() string {
	return fmt.Sprintf("cost budget exceeded: spend %.4f > max %.4f", e.Spend, e.MaxCost)
}

// ProtocolError indicates a malformed LLM response. It is treated as a
// ProviderError after one retry (spec §7).
type ProtocolError struct {
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// FatalError indicates the Hub Client could not be established for the
// worker's initial connect; the supervisor exits without entering its
// reactive loop.
type FatalError struct {
	Message string
	Cause   error
}

func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fatal error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("fatal error: %s", e.Message)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// As is a thin convenience wrapper around errors.As for the common
// "is this error of kind T" check used at propagation boundaries.
func As[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}
