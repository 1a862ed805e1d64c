// Package errors provides the coded application error used across the
// approvals service. Every failure a caller can see carries a Code so the
// transport layer can render it without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an application error.
type Code string

const (
	ErrCodeInvalidInput      Code = "INVALID_INPUT"
	ErrCodeNotFound          Code = "NOT_FOUND"
	ErrCodeForbidden         Code = "FORBIDDEN"
	ErrCodeConflict          Code = "CONFLICT"
	ErrCodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	ErrCodeInternal          Code = "INTERNAL"
)

// Reason refines a Code. Conflicts in particular have several distinct causes
// a client renders differently.
type Reason string

const (
	ReasonAlreadyProcessed  Reason = "ALREADY_PROCESSED"
	ReasonSequenceViolation Reason = "SEQUENCE_VIOLATION"
	ReasonAlreadyApproved   Reason = "ALREADY_APPROVED"
	ReasonAlreadyRejected   Reason = "ALREADY_REJECTED"
	ReasonAlreadyCancelled  Reason = "ALREADY_CANCELLED"
	ReasonLockTimeout       Reason = "LOCK_TIMEOUT"
)

// AppError is an error with a machine readable code.
type AppError struct {
	Code    Code
	Reason  Reason
	Field   string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches another *AppError by code and, when set on the target, reason.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// New creates an AppError.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// InvalidInput reports a malformed field.
func InvalidInput(field, message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Field: field, Message: message}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

// Forbidden reports an actor acting outside its permissions.
func Forbidden(message string) *AppError {
	return &AppError{Code: ErrCodeForbidden, Message: message}
}

// Conflict reports a request that is valid but contradicts current state.
func Conflict(reason Reason, message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Reason: reason, Message: message}
}

// InsufficientFunds reports a budget spend that would exceed the total.
func InsufficientFunds(message string) *AppError {
	return &AppError{Code: ErrCodeInsufficientFunds, Message: message}
}

// As is errors.As, re-exported so callers need a single import.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Is is errors.Is, re-exported so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// From extracts the *AppError in err's chain, if any.
func From(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf classifies err. Anything that is not an AppError is internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if appErr, ok := From(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// ReasonOf returns the reason of err, or "" when it has none.
func ReasonOf(err error) Reason {
	if appErr, ok := From(err); ok {
		return appErr.Reason
	}
	return ""
}
