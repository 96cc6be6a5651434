package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures so callers can decide whether to retry,
// escalate to the gate, or give up on a link or dataset.
type ErrorType string

const (
	ErrorTypeGateFailed            ErrorType = "gate_failed"
	ErrorTypeUnauthorized          ErrorType = "unauthorized"
	ErrorTypeUnexpectedContentType ErrorType = "unexpected_content_type"
	ErrorTypeTransient             ErrorType = "transient"
	ErrorTypePaginationRunaway     ErrorType = "pagination_runaway"
	ErrorTypeHTTPStatus            ErrorType = "http_status"
	ErrorTypeConfig                ErrorType = "config"
	ErrorTypeFileSystem            ErrorType = "filesystem"
	ErrorTypeUnknown               ErrorType = "unknown"
)

// Error is a classified failure
type Error struct {
	Type     ErrorType
	Message  string
	Code     int
	URL      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Type) + ": " + e.Message
	if e.Code != 0 {
		msg = fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// Wrap classifies an underlying error.
func Wrap(t ErrorType, msg string, err error) *Error {
	return &Error{Type: t, Message: msg, Err: err}
}

// TypeOf returns the type of the first *Error in err's chain, or
// ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries the given type.
func Is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	return errorType == ErrorTypeTransient
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // no response
		return true
	case 408, 425, 429:
		return true
	case 401, 403, 404, 410:
		return false
	default:
		return statusCode >= 500
	}
}

// FromStatus maps a non-success HTTP status to a classified error. It
// returns nil for 1xx-3xx statuses other than 0.
func FromStatus(code int, url string) *Error {
	switch {
	case code == 401 || code == 403:
		return &Error{Type: ErrorTypeUnauthorized, Message: "access denied", Code: code, URL: url}
	case IsRetryableStatusCode(code):
		return &Error{Type: ErrorTypeTransient, Message: "retryable status", Code: code, URL: url}
	case code >= 400:
		return &Error{Type: ErrorTypeHTTPStatus, Message: "request failed", Code: code, URL: url}
	}
	return nil
}
