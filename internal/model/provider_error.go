package model

import (
	"errors"
	"fmt"
)

// ProviderErrorKind classifies provider failures. Transient kinds
// (rate-limited, unavailable) are retried with backoff by the actor
// loop; fatal kinds (auth, invalid-request) stop the turn immediately.
type ProviderErrorKind string

const (
	// ErrKindAuth indicates authentication/authorization failure. Fatal.
	ErrKindAuth ProviderErrorKind = "auth"
	// ErrKindInvalidRequest indicates the request itself is malformed;
	// retrying without changing it will not help. Fatal.
	ErrKindInvalidRequest ProviderErrorKind = "invalid_request"
	// ErrKindRateLimited indicates the provider is throttling. Transient.
	ErrKindRateLimited ProviderErrorKind = "rate_limited"
	// ErrKindUnavailable indicates a transient provider failure (5xx,
	// network). Transient.
	ErrKindUnavailable ProviderErrorKind = "unavailable"
	// ErrKindUnknown indicates an unclassified failure; treated as fatal
	// to avoid retrying indefinitely on failures we don't understand.
	ErrKindUnknown ProviderErrorKind = "unknown"
)

// ProviderError describes a failure returned by a model provider. It
// crosses package boundaries so the actor loop can make retry/fatal
// decisions without depending on any specific vendor SDK's error types.
type ProviderError struct {
	provider   string
	operation  string
	httpStatus int
	kind       ProviderErrorKind
	code       string
	message    string
	requestID  string
	retryable  bool
	cause      error
}

// NewProviderError constructs a ProviderError. provider and kind are required.
func NewProviderError(provider, operation string, httpStatus int, kind ProviderErrorKind, code, message, requestID string, retryable bool, cause error) *ProviderError {
	if provider == "" {
		panic("model: provider is required")
	}
	if kind == "" {
		panic("model: provider error kind is required")
	}
	return &ProviderError{
		provider:   provider,
		operation:  operation,
		httpStatus: httpStatus,
		kind:       kind,
		code:       code,
		message:    message,
		requestID:  requestID,
		retryable:  retryable,
		cause:      cause,
	}
}

func (e *ProviderError) Provider() string          { return e.provider }
func (e *ProviderError) Operation() string         { return e.operation }
func (e *ProviderError) HTTPStatus() int           { return e.httpStatus }
func (e *ProviderError) Kind() ProviderErrorKind    { return e.kind }
func (e *ProviderError) Code() string              { return e.code }
func (e *ProviderError) Message() string           { return e.message }
func (e *ProviderError) RequestID() string         { return e.requestID }
func (e *ProviderError) Retryable() bool           { return e.retryable }

func (e *ProviderError) Error() string {
	op := e.operation
	if op == "" {
		op = "request"
	}
	status := ""
	if e.httpStatus > 0 {
		status = fmt.Sprintf("%d ", e.httpStatus)
	}
	code := ""
	if e.code != "" {
		code = e.code + ": "
	}
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	return fmt.Sprintf("%s %s %s(%s): %s", e.provider, e.kind, status, op, code+msg)
}

// Unwrap returns the underlying error to preserve the original chain.
func (e *ProviderError) Unwrap() error { return e.cause }

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
