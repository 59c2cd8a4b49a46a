package errors

import (
	"encoding/json"
	"fmt"
)

// Code classifies an engine error
type Code int

const (
	// Internal is an unexpected engine failure
	Internal Code = 500
	// Validation indicates a malformed document, filter, update, or pipeline
	Validation Code = 400
	// UnsupportedOperator indicates an operator name outside the engine's vocabulary
	UnsupportedOperator Code = 422
	// DuplicateKey indicates an insert or upsert collided with an existing _id
	DuplicateKey Code = 409
	// CursorNotFound indicates a stale or unknown cursor token
	CursorNotFound Code = 404
)

// Error is a typed engine error
type Error struct {
	Code     Code     `json:"code"`
	Messages []string `json:"messages"`
	Err      error    `json:"err,omitempty"`
}

// Error returns the Error as a json string
func (e *Error) Error() string {
	bits, _ := json.Marshal(e)
	return string(bits)
}

// Unwrap returns the wrapped error if one exists
func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a new error with the given code and formatted message
func New(code Code, msg string, args ...any) error {
	return &Error{
		Code:     code,
		Messages: []string{fmt.Sprintf(msg, args...)},
	}
}

// Extract extracts the custom Error from the given error
func Extract(err error) *Error {
	e, ok := err.(*Error)
	if !ok {
		return &Error{
			Code: Internal,
			Err:  err,
		}
	}
	return e
}

// Wrap wraps the given error and returns a new one. A nil input error returns nil.
func Wrap(err error, code Code, msg string, args ...any) error {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if ok {
		if msg != "" {
			e.Messages = append(e.Messages, fmt.Sprintf(msg, args...))
		}
		if code > 0 {
			e.Code = code
		}
		return e
	}
	e = &Error{
		Code: code,
		Err:  err,
	}
	if msg != "" {
		e.Messages = append(e.Messages, fmt.Sprintf(msg, args...))
	}
	return e
}

// IsCode returns true if the error carries the given code
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Code == code
}

// IsDuplicateKey returns true if the error is a duplicate key error
func IsDuplicateKey(err error) bool {
	return IsCode(err, DuplicateKey)
}

// IsCursorNotFound returns true if the error is a stale cursor error
func IsCursorNotFound(err error) bool {
	return IsCode(err, CursorNotFound)
}

// IsUnsupportedOperator returns true if the error is an unrecognized operator error
func IsUnsupportedOperator(err error) bool {
	return IsCode(err, UnsupportedOperator)
}

// IsValidation returns true if the error is a validation error
func IsValidation(err error) bool {
	return IsCode(err, Validation)
}
