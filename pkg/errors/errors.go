// Package errors provides structured error handling for Grove.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeConfiguration represents configuration document errors
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeSecret represents secret resolution errors
	ErrorTypeSecret ErrorType = "secret"
	// ErrorTypeNotFound represents resource not found errors
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict represents optimistic concurrency conflicts
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeRateLimit represents upstream rate limit errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTransient represents retryable upstream errors
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypePermanent represents non-retryable upstream errors
	ErrorTypePermanent ErrorType = "permanent"
	// ErrorTypeBackend represents cache, output, config, or secret backend failures
	ErrorTypeBackend ErrorType = "backend"
	// ErrorTypeProcessor represents processor chain failures
	ErrorTypeProcessor ErrorType = "processor"
	// ErrorTypeData represents serialization and data shape errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeTimeout represents deadline expiry
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeFatal represents errors the process cannot recover from
	ErrorTypeFatal ErrorType = "fatal"
)

// Error represents a structured error with context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// IsRetryable returns true if the error is worth retrying on a later run.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeTimeout, ErrorTypeBackend:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the error type, or an empty string for foreign errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Type
}
