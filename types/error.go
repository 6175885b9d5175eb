package types

import "fmt"

// ErrorKind represents a stable error kind surfaced to callers.
type ErrorKind string

// Terminal error kinds. Requests carrying these return no completion text.
const (
	ErrRejectedInput       ErrorKind = "REJECTED_INPUT"
	ErrProviderUnavailable ErrorKind = "PROVIDER_UNAVAILABLE"
	ErrDeadlineExceeded    ErrorKind = "DEADLINE_EXCEEDED"
)

// Recoverable error kinds. These degrade the request and are surfaced only
// as warning annotations on the response.
const (
	ErrMemoryUnavailable ErrorKind = "MEMORY_UNAVAILABLE"
	ErrEmbeddingError    ErrorKind = "EMBEDDING_ERROR"
	ErrValidationFailed  ErrorKind = "VALIDATION_FAILED"
)

// Provider-level error kinds used between the router and backends.
const (
	ErrInvalidRequest  ErrorKind = "INVALID_REQUEST"
	ErrUnauthorized    ErrorKind = "UNAUTHORIZED"
	ErrRateLimited     ErrorKind = "RATE_LIMITED"
	ErrQuotaExceeded   ErrorKind = "QUOTA_EXCEEDED"
	ErrUpstreamTimeout ErrorKind = "UPSTREAM_TIMEOUT"
	ErrUpstreamError   ErrorKind = "UPSTREAM_ERROR"
	ErrInternalError   ErrorKind = "INTERNAL_ERROR"
)

// Error represents a structured error with kind, message, and metadata.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given kind and message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider id.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorKind extracts the error kind from an error.
func GetErrorKind(err error) ErrorKind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}

// IsTerminal reports whether the kind aborts the request with no content.
func IsTerminal(kind ErrorKind) bool {
	switch kind {
	case ErrRejectedInput, ErrProviderUnavailable, ErrDeadlineExceeded:
		return true
	default:
		return false
	}
}
