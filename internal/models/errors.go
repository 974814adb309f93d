package models

import (
	"errors"
	"fmt"
)

// Error codes
const (
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeSelfDependency  = "SELF_DEPENDENCY"
	CodeDependencyCycle = "DEPENDENCY_CYCLE"
	CodeStoreFailure    = "STORE_FAILURE"
)

// Sentinels for errors.Is; any *Error with the same code matches.
var (
	ErrNotFound        = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrSelfDependency  = &Error{Code: CodeSelfDependency, Message: "formula references its own series"}
	ErrDependencyCycle = &Error{Code: CodeDependencyCycle, Message: "formula introduces a dependency cycle"}
	ErrStoreFailure    = &Error{Code: CodeStoreFailure, Message: "store failure"}
)

// Error is a domain error with a stable code
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether the operation may succeed when retried
func (e *Error) Retryable() bool {
	return e.Code == CodeStoreFailure
}

// NewError creates a new Error
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorWithDetails creates a new Error with details
func NewErrorWithDetails(code, message string, details map[string]interface{}) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// NotFoundf creates a NOT_FOUND error
func NotFoundf(format string, args ...interface{}) *Error {
	return NewError(CodeNotFound, fmt.Sprintf(format, args...))
}

// InvalidArgumentf creates an INVALID_ARGUMENT error
func InvalidArgumentf(format string, args ...interface{}) *Error {
	return NewError(CodeInvalidArgument, fmt.Sprintf(format, args...))
}

// StoreFailure wraps a backend error. Domain errors pass through unchanged.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Code: CodeStoreFailure, Message: op + " failed", Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" when there is none
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
