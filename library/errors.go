package library

import (
	"errors"
	"fmt"
)

// Error taxonomy. Stores and the engine return these (possibly wrapped); the
// HTTP layer maps them to status codes with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid state")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrUnavailable  = errors.New("backing store unavailable")
)

// Specific failures, each wrapping one of the sentinels above.
var (
	ErrBookBorrowed   = fmt.Errorf("%w: book is already borrowed", ErrConflict)
	ErrBookOnLoan     = fmt.Errorf("%w: book has an active loan", ErrConflict)
	ErrLoanReturned   = fmt.Errorf("%w: loan already returned", ErrInvalidState)
	ErrDuplicateEmail = fmt.Errorf("%w: email already registered", ErrConflict)
)

// ValidationError lists field-level input problems.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %d field(s) failed validation", len(e.Fields))
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}
