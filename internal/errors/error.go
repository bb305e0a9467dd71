package errors

import (
	"errors"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryEngine  Category = "engine"
	CategoryAsync   Category = "async"
	CategoryStorage Category = "storage"
	CategoryConfig  Category = "config"
	CategoryHTTP    Category = "http"
	CategoryCLI     Category = "cli"
)

// StateError is a structured error with a registered code, category and an
// optional wrapped cause.
type StateError struct {
	// Code is a unique error identifier (e.g., "S001").
	Code string

	// Category is the error type (engine, storage, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Subject names the cell, key or setting the error is about.
	Subject string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *StateError) Error() string {
	msg := e.Message
	if e.Subject != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Subject)
	}
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *StateError) Unwrap() error {
	return e.Wrapped
}

// WithSubject records what the error is about.
func (e *StateError) WithSubject(s string) *StateError {
	e.Subject = s
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *StateError) WithSuggestion(s string) *StateError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *StateError) WithDetail(d string) *StateError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *StateError) Wrap(err error) *StateError {
	e.Wrapped = err
	return e
}

// New creates a StateError from a registered error code.
func New(code string) *StateError {
	template, ok := registry[code]
	if !ok {
		return &StateError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &StateError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
	}
}

// Newf creates a new StateError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *StateError {
	return &StateError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a StateError.
// Errors that already are (or wrap) a StateError are returned as-is.
func FromError(err error, code string) *StateError {
	if err == nil {
		return nil
	}
	var se *StateError
	if errors.As(err, &se) {
		return se
	}
	return New(code).Wrap(err)
}

// HasCode reports whether err is, or wraps, a StateError with the given code.
func HasCode(err error, code string) bool {
	var se *StateError
	for err != nil {
		if !errors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Wrapped
	}
	return false
}
