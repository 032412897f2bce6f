package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/rescue-triage/pkg/logging"
)

// AppointmentSummary is what the rescue team needs to know about a confirmed vet call.
type AppointmentSummary struct {
	AppointmentID string
	IntakeID      string
	Species       string
	Description   string
	Notes         string
	CallSID       string
}

// AppointmentNotifier e-mails the rescue team when a vet confirms.
type AppointmentNotifier struct {
	email  EmailSender
	to     string
	logger *logging.Logger
}

// NewAppointmentNotifier returns nil when no recipient or sender is configured.
func NewAppointmentNotifier(email EmailSender, to string, logger *logging.Logger) *AppointmentNotifier {
	to = strings.TrimSpace(to)
	if email == nil || to == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentNotifier{email: email, to: to, logger: logger}
}

// NotifyAppointmentConfirmed sends the confirmation summary.
func (n *AppointmentNotifier) NotifyAppointmentConfirmed(ctx context.Context, s AppointmentSummary) error {
	if n == nil {
		return nil
	}
	species := s.Species
	if species == "" {
		species = "unknown species"
	}

	var text strings.Builder
	fmt.Fprintf(&text, "A veterinarian confirmed the appointment for a %s.\n\n", species)
	fmt.Fprintf(&text, "Intake: %s\nAppointment: %s\n", s.IntakeID, s.AppointmentID)
	if s.Description != "" {
		fmt.Fprintf(&text, "Emergency: %s\n", s.Description)
	}
	fmt.Fprintf(&text, "Vet notes: %s\n", s.Notes)
	if s.CallSID != "" {
		fmt.Fprintf(&text, "Call: %s\n", s.CallSID)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "<p>A veterinarian confirmed the appointment for a <strong>%s</strong>.</p><ul>", html.EscapeString(species))
	fmt.Fprintf(&body, "<li>Intake: %s</li><li>Appointment: %s</li>", html.EscapeString(s.IntakeID), html.EscapeString(s.AppointmentID))
	if s.Description != "" {
		fmt.Fprintf(&body, "<li>Emergency: %s</li>", html.EscapeString(s.Description))
	}
	fmt.Fprintf(&body, "<li>Vet notes: %s</li></ul>", html.EscapeString(s.Notes))

	msg := EmailMessage{
		To:      n.to,
		Subject: fmt.Sprintf("Vet appointment confirmed: %s", species),
		Body:    text.String(),
		HTML:    body.String(),
	}
	if err := n.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: appointment confirmation: %w", err)
	}
	n.logger.Info("appointment confirmation sent", "appointment_id", s.AppointmentID, "intake_id", s.IntakeID)
	return nil
}
