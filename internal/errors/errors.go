// Package errors provides the structured application error type shared across
// the imagemill pipeline.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeValidation indicates invalid input data, rejected before any queueing.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeConflict indicates a conflict with existing data (e.g., duplicate id).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeStore indicates the record store was unavailable or a write failed.
	ErrCodeStore ErrorCode = "store"
	// ErrCodeConsistency indicates a conflicting terminal transition was rejected.
	ErrCodeConsistency ErrorCode = "consistency"
	// ErrCodeOrphanResult indicates a result message referenced an unknown job.
	ErrCodeOrphanResult ErrorCode = "orphan_result"
	// ErrCodeTransformation indicates worker-side processing failed.
	ErrCodeTransformation ErrorCode = "transformation"
	// ErrCodeNotification indicates an outbound notification attempt failed.
	ErrCodeNotification ErrorCode = "notification"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
)

// AppError represents a structured application error with a code, message, and
// optional cause. It supports errors.Is and errors.As through Unwrap.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// Consistency creates a new Consistency error.
func Consistency(message string) *AppError {
	return &AppError{Code: ErrCodeConsistency, Message: message}
}

// Consistencyf creates a new Consistency error with formatted message.
func Consistencyf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeConsistency, Message: fmt.Sprintf(format, args...)}
}

// OrphanResult creates a new OrphanResult error.
func OrphanResult(message string) *AppError {
	return &AppError{Code: ErrCodeOrphanResult, Message: message}
}

// OrphanResultf creates a new OrphanResult error with formatted message.
func OrphanResultf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeOrphanResult, Message: fmt.Sprintf(format, args...)}
}

// Transformation creates a new Transformation error.
func Transformation(message string) *AppError {
	return &AppError{Code: ErrCodeTransformation, Message: message}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsStore checks if an error is a Store error.
func IsStore(err error) bool {
	return isCode(err, ErrCodeStore)
}

// IsConsistency checks if an error is a Consistency error.
func IsConsistency(err error) bool {
	return isCode(err, ErrCodeConsistency)
}

// IsOrphanResult checks if an error is an OrphanResult error.
func IsOrphanResult(err error) bool {
	return isCode(err, ErrCodeOrphanResult)
}

// IsTransformation checks if an error is a Transformation error.
func IsTransformation(err error) bool {
	return isCode(err, ErrCodeTransformation)
}

// IsNotification checks if an error is a Notification error.
func IsNotification(err error) bool {
	return isCode(err, ErrCodeNotification)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
