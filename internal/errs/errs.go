// Package errs classifies errors into the three classes from SPEC_FULL.md §7:
// invalid input, transient backend failure, and invariant violation.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel classes. Wrap these with fmt.Errorf("...: %w", ErrX) so callers can
// still errors.Is against the class while keeping a descriptive message.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrTransient    = errors.New("transient backend failure")
	ErrInvariant    = errors.New("invariant violation")
)

// InvalidInput wraps err (or a plain message) as an invalid-input error.
func InvalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidInput)
}

// Transient wraps err as a retryable backend failure.
func Transient(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrTransient)
}

// Invariant wraps err as an invariant violation.
func Invariant(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvariant)
}

// IsInvalidInput reports whether err is (or wraps) an invalid-input error.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsTransient reports whether err is (or wraps) a transient backend failure.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsInvariant reports whether err is (or wraps) an invariant violation.
func IsInvariant(err error) bool { return errors.Is(err, ErrInvariant) }
