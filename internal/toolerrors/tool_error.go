// Package toolerrors provides structured error types for tool invocation
// failures. ToolError preserves error chains and supports errors.Is/As while
// staying serialization-friendly for streaming tool results and subagent
// hops.
package toolerrors

import (
	"errors"
	"fmt"
)

// ToolError represents a structured tool failure that preserves message and
// causal context while still implementing the standard error interface.
// Tool errors may nest via Cause to retain diagnostics across retries and
// subagent hops.
type ToolError struct {
	// Message is the human-readable summary of the failure.
	Message string
	// Code is a short machine-readable failure classification (e.g.
	// "unknown_tool", "invalid_input", "denied", "execution_failed").
	Code string
	// Retryable indicates whether a retry of the same call might succeed.
	Retryable bool
	// Cause links to the underlying tool error, enabling error chains with
	// errors.Is/As.
	Cause *ToolError
}

// New constructs a ToolError with the given code and message.
func New(code, message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Code: code, Message: message}
}

// NewWithCause constructs a ToolError that wraps an underlying error. The
// cause is converted into a ToolError chain so metadata survives
// serialization while still supporting errors.Is/As through Unwrap.
func NewWithCause(code, message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Code: code, Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a ToolError chain.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Errorf formats according to a format specifier and returns a ToolError.
func Errorf(code, format string, args ...any) *ToolError {
	return New(code, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying tool error to support errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Common classification codes used by the tool runner.
const (
	CodeUnknownTool    = "unknown_tool"
	CodeInvalidInput   = "invalid_input"
	CodeDenied         = "denied"
	CodeExecutionError = "execution_failed"
)
