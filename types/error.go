package types

import "fmt"

// ErrorCode represents a unified error code across the core.
type ErrorCode string

// Archive error codes
const (
	ErrNoActiveVersion ErrorCode = "NO_ACTIVE_VERSION"
	ErrVersionNotFound ErrorCode = "VERSION_NOT_FOUND"
	ErrTestNotFound    ErrorCode = "TEST_NOT_FOUND"
	ErrCandidateExists ErrorCode = "CANDIDATE_EXISTS"
)

// Episode store error codes
const (
	ErrEmbeddingFailed ErrorCode = "EMBEDDING_FAILED"
	ErrStoreNotReady   ErrorCode = "STORE_NOT_READY"
	ErrEpisodeNotFound ErrorCode = "EPISODE_NOT_FOUND"
)

// General error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrUpstreamError  ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable or not.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if se, ok := err.(*Error); ok && se.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
