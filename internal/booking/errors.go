package booking

import (
	"errors"
	"fmt"

	"salonbook/internal/models"
)

var (
	// ErrNotFound is returned by stores for a missing workspace, appointment
	// or service.
	ErrNotFound = models.ErrNotFound

	ErrInvalidStatus = errors.New("invalid appointment status")
)

// ValidationError rejects a booking form before any storage access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
