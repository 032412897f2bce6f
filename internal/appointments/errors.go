package appointments

import (
	"errors"
	"fmt"
)

// CallErrorKind distinguishes unreachable Twilio from Twilio refusing the call.
type CallErrorKind string

const (
	KindTwilioConnection CallErrorKind = "twilio_connection"
	KindTwilioAPI        CallErrorKind = "twilio_api"
)

// ErrAppointmentNotFound is returned when no webhook matching rule finds an appointment.
var ErrAppointmentNotFound = errors.New("appointments: no matching appointment")

// CallError reports a failed outbound vet call. The appointment has already
// been marked cancelled when it is returned.
type CallError struct {
	Kind       CallErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("appointments: %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("appointments: %s: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }
