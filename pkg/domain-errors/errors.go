// Package domainerrors provides coded errors shared by services and transports.
//
// Services return these errors; transports translate the code into a status
// (see pkg/platform/httputil). Wrapped infrastructure errors stay reachable
// through errors.Is / errors.As.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error independently of transport.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeUnauthorized       Code = "unauthorized"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInvalidState       Code = "invalid_state"
	CodeInternal           Code = "internal_error"

	// CodeValidation marks a submission validation failure: a wizard step
	// predicate is false or an uploaded file breaks size/type constraints.
	CodeValidation Code = "validation_error"
	// CodeServiceUnavailable marks the automated provider as unreachable.
	CodeServiceUnavailable Code = "service_unavailable"
	// CodeNetwork marks a failed backend call (non-2xx or transport failure).
	CodeNetwork Code = "network_error"
	// CodeMaxRetriesExceeded marks the automated channel as exhausted.
	CodeMaxRetriesExceeded Code = "max_retries_exceeded"
)

// Error is a coded domain error. Fields holds per-field messages for
// validation errors and is nil otherwise.
type Error struct {
	Code    Code
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NewValidation builds a validation error carrying per-field messages.
func NewValidation(message string, fields map[string]string) *Error {
	return &Error{Code: CodeValidation, Message: message, Fields: fields}
}

// HasCode reports whether err (or anything it wraps) carries code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code of err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// FieldsOf returns per-field messages of a validation error, if any.
func FieldsOf(err error) map[string]string {
	var de *Error
	if errors.As(err, &de) {
		return de.Fields
	}
	return nil
}
