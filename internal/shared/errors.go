package shared

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates a referenced entity does not exist or is soft-deleted.
var ErrNotFound = errors.New("not found")

// FieldError pairs a field path with a human-readable message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries field-scoped validation failures. The caller can
// correct input and retry; it is never retried automatically.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a field error and returns the receiver for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
	return e
}

// HasErrors reports whether any field error was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// Validation builds a single-field validation error.
func Validation(field, message string) *ValidationError {
	return (&ValidationError{}).Add(field, message)
}

// ConflictError indicates an operation blocked by the current state of
// another entity, with enough context to identify the blocker.
type ConflictError struct {
	Entity string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Entity, e.Reason)
}

// Conflict builds a ConflictError.
func Conflict(entity, reason string) *ConflictError {
	return &ConflictError{Entity: entity, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// UserSafeMessage returns an error message suitable for API consumers.
// Storage errors are collapsed to a generic message.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err), IsConflict(err), errors.Is(err, ErrNotFound):
		return err.Error()
	default:
		return "internal error"
	}
}
