package core

import (
	"errors"
	"fmt"
)

var (
	// ErrWALClosed is reported through a flush listener when an entry reaches a
	// WAL node that has already been closed.
	ErrWALClosed = errors.New("wal node is closed")
	// ErrReadOnly is returned by the engine once a persistence failure has
	// switched the process into read-only mode.
	ErrReadOnly = errors.New("system is in read-only mode")
	// ErrInsufficientMemory is returned when the WAL buffers cannot be allocated.
	ErrInsufficientMemory = errors.New("insufficient memory for wal buffers")
)

// ValidationError is a custom error type for validation failures.
type ValidationError struct {
	Message string
	Field   string // e.g., "device", "measurement", "timestamp"
	Value   string // The invalid value
}

type UnsupportedTypeError struct {
	Message string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported type value: %s", e.Message)
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s '%s': %s", e.Field, e.Value, e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var validationError *ValidationError
	return errors.As(err, &validationError)
}

func IsUnsupportedError(err error) bool {
	var unsupportedError *UnsupportedTypeError
	return errors.As(err, &unsupportedError)
}
