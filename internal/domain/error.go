package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is the closed set of error classes surfaced to callers.
type ErrorCode string

const (
	ErrValidation      ErrorCode = "VALIDATION_ERROR"
	ErrDataUnavailable ErrorCode = "DATA_UNAVAILABLE"
	ErrInternal        ErrorCode = "INTERNAL"
)

// Error is a coded error with structured details.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

// E constructs a coded error. Details may be nil.
func E(code ErrorCode, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.Details)
}

// IsCode reports whether err (or anything it wraps) is a domain Error with
// the given code.
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}

// ValidationError constructs a VALIDATION_ERROR carrying every violation
// found, never just the first.
func ValidationError(violations []string) *Error {
	return &Error{
		Code:    ErrValidation,
		Message: fmt.Sprintf("strategy spec invalid: %s", strings.Join(violations, "; ")),
		Details: map[string]any{"violations": violations},
	}
}

// Violations returns the violation list of a VALIDATION_ERROR, or nil.
func Violations(err error) []string {
	var de *Error
	if !errors.As(err, &de) || de.Code != ErrValidation {
		return nil
	}
	v, _ := de.Details["violations"].([]string)
	return v
}
