package apperr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers classify with errors.Is and wrap with the
// helpers below so the HTTP layer can map each kind to a status code.
var (
	// ErrNotFound marks a reference to an entity that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a uniqueness or consistency violation (duplicate slug,
	// cross-company transfer).
	ErrConflict = errors.New("conflict")

	// ErrValidation marks invalid caller input (missing field, bad date).
	ErrValidation = errors.New("validation failed")
)

func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
