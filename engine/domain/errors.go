package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors the engine matches on with errors.Is.
var (
	ErrInvalidOBDCode   = errors.New("invalid obd code")
	ErrDuplicateOBDCode = errors.New("duplicate obd code")
	ErrEmptyMessage     = errors.New("empty message")
	ErrEmptySymptom     = errors.New("empty symptom")
	ErrYearOutOfRange   = errors.New("year out of range")
	ErrTurnInFlight     = errors.New("previous turn still in flight")
	ErrEmptySession     = errors.New("session has no messages")
)

// ValidationError carries the offending field and value alongside the
// sentinel, which stays reachable through errors.Is.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

// NewValidationError wraps a sentinel with the field and value that
// failed.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }
