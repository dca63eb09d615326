package database

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection indicates the store could not be reached. Fatal at startup.
	ErrConnection = errors.New("database connection failed")

	// ErrNoActiveSession indicates a persistence call outside a unit of work.
	ErrNoActiveSession = errors.New("no active session")
)

// UniqueViolation is a translated uniqueness-constraint failure.
type UniqueViolation struct {
	Table  string
	Column string
	Value  string
}

func (e *UniqueViolation) Error() string {
	return fmt.Sprintf("%s with %s '%s' already exists", e.Table, e.Column, e.Value)
}

// TransientError is returned when a statement failed on a connectivity error
// and its single retry failed as well. It unwraps to the driver error.
type TransientError struct {
	Statement string
	Err       error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("statement failed after retry: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsUniqueViolation reports whether err carries a *UniqueViolation.
func IsUniqueViolation(err error) bool {
	var uv *UniqueViolation
	return errors.As(err, &uv)
}
