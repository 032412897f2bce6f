package intake

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxDescriptionLength bounds the free-text injury description.
const MaxDescriptionLength = 2000

// IntakeStatus tracks where an intake is in the AI triage lifecycle.
type IntakeStatus string

const (
	IntakeStatusPending   IntakeStatus = "pending"
	IntakeStatusResponded IntakeStatus = "responded"
	IntakeStatusError     IntakeStatus = "error"
	IntakeStatusTimeout   IntakeStatus = "timeout"
)

// Role identifies the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AppointmentStatus is the business state of a vet appointment.
type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// Intake is a single reported animal emergency.
type Intake struct {
	ID          string         `json:"id"`
	Species     string         `json:"species"`
	Description string         `json:"description"`
	PhotoURL    string         `json:"photo_url,omitempty"`
	Status      IntakeStatus   `json:"status"`
	RawPayload  map[string]any `json:"raw_payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// HasPhoto reports whether a photo URL was supplied with the intake.
func (i *Intake) HasPhoto() bool {
	return i != nil && strings.TrimSpace(i.PhotoURL) != ""
}

// ChatMessage is one turn of the conversation attached to an intake.
type ChatMessage struct {
	ID        string    `json:"id"`
	IntakeID  string    `json:"intake_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Pending   bool      `json:"pending"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Appointment is the outbound vet call and its reconciled outcome.
type Appointment struct {
	ID        string            `json:"id"`
	IntakeID  string            `json:"intake_id"`
	Status    AppointmentStatus `json:"status"`
	CallSID   string            `json:"call_sid,omitempty"`
	Notes     string            `json:"notes,omitempty"`
	Payload   map[string]any    `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// CreateIntakeRequest is the collaborator input for a new intake.
type CreateIntakeRequest struct {
	Species     string `json:"species"`
	Description string `json:"description"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// Normalize trims input and applies the species default.
func (r *CreateIntakeRequest) Normalize() {
	r.Species = strings.TrimSpace(r.Species)
	r.Description = strings.TrimSpace(r.Description)
	r.PhotoURL = strings.TrimSpace(r.PhotoURL)
	if r.Species == "" {
		r.Species = "unknown"
	}
}

// Validate checks the request after normalization.
func (r *CreateIntakeRequest) Validate() error {
	if r.Description == "" {
		return ErrDescriptionRequired
	}
	if utf8.RuneCountInString(r.Description) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if r.PhotoURL != "" {
		u, err := url.Parse(r.PhotoURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidPhotoURL
		}
	}
	return nil
}

// MergePayload shallow-merges patch into base and returns the result.
// Keys in patch win; base is never mutated.
func MergePayload(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
