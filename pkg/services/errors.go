// Package services contains the application services behind the HTTP
// handlers: request submission and generation queries.
package services

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an entity is not found, or when an
// owner-scoped lookup does not match the caller.
var ErrNotFound = errors.New("entity not found")

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
