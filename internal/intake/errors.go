package intake

import (
	"errors"
	"fmt"
)

var (
	// ErrIntakeNotFound is returned when an intake id does not exist
	ErrIntakeNotFound = errors.New("intake not found")

	// ErrMessageNotFound is returned when a chat message is missing or belongs to another intake
	ErrMessageNotFound = errors.New("chat message not found")

	// ErrAppointmentNotFound is returned when no appointment matches the lookup
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrInvalidIntake is the parent of every request validation error
	ErrInvalidIntake = errors.New("invalid intake")

	ErrDescriptionRequired = fmt.Errorf("%w: description is required", ErrInvalidIntake)
	ErrDescriptionTooLong  = fmt.Errorf("%w: description is too long", ErrInvalidIntake)
	ErrInvalidPhotoURL     = fmt.Errorf("%w: photo_url must be an absolute http(s) URL", ErrInvalidIntake)
)

// IsValidationError reports whether err came from request validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidIntake)
}
