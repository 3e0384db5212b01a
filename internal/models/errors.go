package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("student not found")
	ErrConflict = errors.New("student with this email or Codeforces handle already exists")
)

// FieldError is used to indicate an error with a specific request field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is returned when a request is rejected before any side effect.
type ValidationError struct {
	Fields []FieldError
}

func NewValidationError(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	f := e.Fields[0]
	if len(e.Fields) == 1 {
		return fmt.Sprintf("validation failed: %s: %s", f.Field, f.Error)
	}
	return fmt.Sprintf("validation failed: %s: %s (and %d more)", f.Field, f.Error, len(e.Fields)-1)
}

// LookupError means the rating source could not resolve a handle.
type LookupError struct {
	Handle  string
	Comment string
	Err     error
}

func (e *LookupError) Error() string {
	switch {
	case e.Comment != "":
		return fmt.Sprintf("codeforces lookup for %q failed: %s", e.Handle, e.Comment)
	case e.Err != nil:
		return fmt.Sprintf("codeforces lookup for %q failed: %v", e.Handle, e.Err)
	default:
		return fmt.Sprintf("codeforces lookup for %q failed", e.Handle)
	}
}

func (e *LookupError) Unwrap() error { return e.Err }

// NotificationError wraps a failed reminder delivery.
type NotificationError struct {
	Email string
	Err   error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Email, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// IsLookup reports whether err is (or wraps) a LookupError.
func IsLookup(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}
