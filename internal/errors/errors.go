// Package errors provides coded errors shared by the adapter packages
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an adapter error
type ErrorCode int

// Error codes
const (
	// Generic errors
	Unknown ErrorCode = -1
	None    ErrorCode = 0

	// Negotiation errors (1-999): missing or malformed capabilities
	NegotiationError ErrorCode = 1
	InvalidOptions   ErrorCode = 2

	// Dispatch errors (1000-1999)
	DispatchError ErrorCode = 1000
	Cancelled     ErrorCode = 1001

	// Synchronization errors (2000-2999)
	ProtocolShapeError ErrorCode = 2000
	OrderingViolation  ErrorCode = 2001

	// Lifecycle errors (3000-3999)
	RegistrationConflict   ErrorCode = 3000
	RegistrationDisposed   ErrorCode = 3001
	RegistrationNotFound   ErrorCode = 3002
	CapabilityNotSupported ErrorCode = 3003
	SessionNotActive       ErrorCode = 3004
)

var codeNames = map[ErrorCode]string{
	Unknown:                "unknown",
	None:                   "none",
	NegotiationError:       "negotiation",
	InvalidOptions:         "invalid-options",
	DispatchError:          "dispatch",
	Cancelled:              "cancelled",
	ProtocolShapeError:     "protocol-shape",
	OrderingViolation:      "ordering-violation",
	RegistrationConflict:   "registration-conflict",
	RegistrationDisposed:   "registration-disposed",
	RegistrationNotFound:   "registration-not-found",
	CapabilityNotSupported: "capability-not-supported",
	SessionNotActive:       "session-not-active",
}

// String returns the short name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Sentinels usable with errors.Is
var (
	ErrCancelled    = NewError(Cancelled, "request cancelled")
	ErrNotSupported = NewError(CapabilityNotSupported, "capability not supported")
	ErrDisposed     = NewError(RegistrationDisposed, "registration disposed")
)

// Error is an adapter error with code and message
type Error struct {
	Code    ErrorCode
	Message string
	Details interface{}
	cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Details)
	}
	if e.cause != nil {
		msg = msg + ": " + e.cause.Error()
	}
	return msg
}

// Unwrap implements the unwrapping interface
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code.
// Two coded errors match on code alone so that sentinels work through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new error
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorf creates a new error with format
func NewErrorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// WithCause adds a causal error
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// Is checks if an error is of a certain type
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As checks if an error is of a certain type and converts it
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap extracts the causal error
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// HasCode checks if err is a coded error with the given code
func HasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the error code, or Unknown when err carries none
func CodeOf(err error) ErrorCode {
	if err == nil {
		return None
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
