package backend

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error that occurred while talking to the backend
type ErrorType string

const (
	// ErrorTypeNetwork indicates a network-level error (connection refused, DNS, etc.)
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeRateLimit indicates the request was rejected due to rate limiting (HTTP 429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeServer indicates a server error (HTTP 5xx)
	ErrorTypeServer ErrorType = "server"
	// ErrorTypeClient indicates a client error (HTTP 4xx except 429)
	ErrorTypeClient ErrorType = "client"
	// ErrorTypeValidation indicates the response was received but could not be decoded
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeTimeout indicates the request or the task wait timed out
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeTaskFailed indicates the backend reported the task as failed
	ErrorTypeTaskFailed ErrorType = "task_failed"
	// ErrorTypeTaskNotFound indicates the backend does not know the task
	ErrorTypeTaskNotFound ErrorType = "task_not_found"
	// ErrorTypeUnknown indicates an error of unknown type
	ErrorTypeUnknown ErrorType = "unknown"
)

// Error represents a structured error from a backend call
type Error struct {
	Type       ErrorType
	Retryable  bool
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewNetworkError creates a network error
func NewNetworkError(cause error) *Error {
	return &Error{
		Type:      ErrorTypeNetwork,
		Retryable: true,
		Message:   "backend request failed",
		Cause:     cause,
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(statusCode int) *Error {
	return &Error{
		Type:       ErrorTypeRateLimit,
		Retryable:  true,
		StatusCode: statusCode,
		Message:    "rate limit exceeded",
	}
}

// NewServerError creates a server error
func NewServerError(statusCode int, message string) *Error {
	if message == "" {
		message = "server returned an error"
	}
	return &Error{
		Type:       ErrorTypeServer,
		Retryable:  true,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewClientError creates a client error
func NewClientError(statusCode int, message string) *Error {
	return &Error{
		Type:       ErrorTypeClient,
		Retryable:  false,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *Error {
	return &Error{
		Type:      ErrorTypeValidation,
		Retryable: false,
		Message:   message,
		Cause:     cause,
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(cause error) *Error {
	return &Error{
		Type:      ErrorTypeTimeout,
		Retryable: true,
		Message:   "timed out waiting for the backend",
		Cause:     cause,
	}
}

// NewTaskFailedError creates an error for a task the backend reported as failed.
// The message is the backend's own description of the failure.
func NewTaskFailedError(id TaskID, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("task %d failed", id)
	}
	return &Error{
		Type:      ErrorTypeTaskFailed,
		Retryable: false,
		Message:   message,
	}
}

// NewTaskNotFoundError creates an error for a task the backend cannot locate
func NewTaskNotFoundError(id TaskID) *Error {
	return &Error{
		Type:      ErrorTypeTaskNotFound,
		Retryable: false,
		Message:   fmt.Sprintf("task %d not found", id),
	}
}

// ClassifyHTTPError classifies an HTTP status code into an appropriate Error.
// message is the backend's error description, if any.
func ClassifyHTTPError(statusCode int, message string) *Error {
	switch {
	case statusCode == 429:
		return NewRateLimitError(statusCode)
	case statusCode >= 500:
		return NewServerError(statusCode, message)
	case statusCode >= 400:
		if message == "" {
			message = fmt.Sprintf("client error: HTTP %d", statusCode)
		}
		return NewClientError(statusCode, message)
	default:
		return &Error{
			Type:       ErrorTypeUnknown,
			Retryable:  false,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("unexpected status code: %d", statusCode),
		}
	}
}

// Message returns the human readable part of an error, preferring the
// backend's own description over the classification prefix.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return err.Error()
}
