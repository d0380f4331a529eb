package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown scenarios and runs.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrUnavailable is returned when a required collaborator cannot be reached.
	ErrUnavailable = errors.New("unavailable")
	// ErrInternal marks unexpected failures.
	ErrInternal = errors.New("internal failure")

	// ErrTerminal is returned when mutating a run that already finished.
	ErrTerminal = errors.New("run is in a terminal state")
	// ErrRunBusy is returned when a second mutation handle is requested for a run.
	ErrRunBusy = errors.New("run already has an active handle")
)

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// Unavailablef wraps ErrUnavailable with a formatted message.
func Unavailablef(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrUnavailable)
}
