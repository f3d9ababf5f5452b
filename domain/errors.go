package domain

import (
	"errors"
	"fmt"
)

// ErrNotArray is returned when an import payload is not a JSON array.
var ErrNotArray = errors.New("invalid format: expected an array of tasks")

// ValidationError describes input rejected at the boundary. Index is the
// position of the offending record in a batch, or -1 when not applicable.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Index >= 0 && e.Field != "":
		return fmt.Sprintf("record %d: %s: %s", e.Index, e.Field, msg)
	case e.Index >= 0:
		return fmt.Sprintf("record %d: %s", e.Index, msg)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, msg)
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid builds a ValidationError for a single field.
func Invalid(index int, field, reason string) *ValidationError {
	return &ValidationError{Index: index, Field: field, Reason: reason}
}

// PersistenceError wraps a storage failure. It is logged, never surfaced to
// the caller of a mutation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
