package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies malformed input and violated business rules.
	ErrValidation = errors.New("validation error")

	// ErrNotFound classifies unresolved identifiers.
	ErrNotFound = errors.New("not found")

	// ErrConflict classifies operations blocked by existing state.
	ErrConflict = errors.New("conflict")
)

// NewValidationError wraps ErrValidation with a formatted reason.
func NewValidationError(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, a...))
}

// NewNotFoundError wraps ErrNotFound naming the kind of resource and its id.
func NewNotFoundError(kind, id string) error {
	return fmt.Errorf("%w: %s: %s", ErrNotFound, kind, id)
}

// NewConflictError wraps ErrConflict with a formatted reason.
func NewConflictError(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, a...))
}
