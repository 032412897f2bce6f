package appointments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/rescue-triage/internal/intake"
	"github.com/wolfman30/rescue-triage/internal/messaging"
	"github.com/wolfman30/rescue-triage/internal/notify"
	"github.com/wolfman30/rescue-triage/internal/observability/metrics"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

var tracer = otel.Tracer("rescue.internal.appointments")

const (
	defaultConfirmationNotes = "Appointment confirmed via automated call"
	testCallPrefix           = "TEST-"
)

// Caller places the outbound vet call.
type Caller interface {
	CreateExecution(ctx context.Context, to string, parameters map[string]any) (*messaging.Execution, error)
}

// ConfirmationNotifier is told when a vet confirms an appointment.
type ConfirmationNotifier interface {
	NotifyAppointmentConfirmed(ctx context.Context, summary notify.AppointmentSummary) error
}

// Options carries the call behaviour flags.
type Options struct {
	// VetNumber is dialled by the voice flow.
	VetNumber string
	// TestMode stamps a synthetic call id instead of calling Twilio.
	TestMode bool
}

// Service creates vet appointments and reconciles Twilio webhooks against them.
type Service struct {
	store    intake.Store
	caller   Caller
	opts     Options
	notifier ConfirmationNotifier
	metrics  *metrics.AppointmentMetrics
	logger   *logging.Logger
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithNotifier sends an e-mail on confirmation.
func WithNotifier(n ConfirmationNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithMetrics records call and webhook outcomes.
func WithMetrics(m *metrics.AppointmentMetrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService builds the appointment service. caller may be nil only in test mode.
func NewService(store intake.Store, caller Caller, opts Options, logger *logging.Logger, options ...ServiceOption) *Service {
	if store == nil {
		panic("appointments: store cannot be nil")
	}
	if caller == nil && !opts.TestMode {
		panic("appointments: caller cannot be nil outside test mode")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:  store,
		caller: caller,
		opts:   opts,
		logger: logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// CreateAndCall replaces the intake's appointment with a pending one and calls the vet.
func (s *Service) CreateAndCall(ctx context.Context, intakeID string) (*intake.Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.create_and_call")
	defer span.End()
	span.SetAttributes(attribute.String("rescue.intake_id", intakeID))

	in, err := s.store.GetIntake(ctx, intakeID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, intakeID)
	if err != nil {
		return nil, fmt.Errorf("appointments: list messages: %w", err)
	}
	description := BuildDescription(in, messages)

	appt, err := s.store.ReplaceAppointment(ctx, intakeID)
	if err != nil {
		return nil, fmt.Errorf("appointments: replace appointment: %w", err)
	}

	if s.opts.TestMode {
		callSID := testCallPrefix + uuid.NewString()
		if err := s.store.AssignCall(ctx, appt.ID, callSID, map[string]any{"test_mode": true, "description": description}); err != nil {
			return nil, fmt.Errorf("appointments: assign test call: %w", err)
		}
		s.metrics.ObserveCall("test")
		s.logger.Info("appointment created in test mode", "appointment_id", appt.ID, "intake_id", intakeID, "call_sid", callSID)
		return s.store.GetAppointment(ctx, appt.ID)
	}

	exec, err := s.caller.CreateExecution(ctx, s.opts.VetNumber, map[string]any{
		"intake_id":   intakeID,
		"description": description,
		"species":     in.Species,
	})
	if err != nil {
		callErr := classifyCallError(err)
		span.RecordError(callErr)
		patch := map[string]any{"error_kind": string(callErr.Kind), "error": err.Error()}
		if cerr := s.store.CancelAppointment(ctx, appt.ID, patch); cerr != nil {
			s.logger.Error("failed to cancel appointment after call failure", "error", cerr, "appointment_id", appt.ID)
		}
		s.metrics.ObserveCall(string(callErr.Kind))
		s.logger.Error("vet call failed", "error", err, "error_kind", string(callErr.Kind), "appointment_id", appt.ID, "intake_id", intakeID)
		return nil, callErr
	}

	if err := s.store.AssignCall(ctx, appt.ID, exec.SID, map[string]any{"execution": exec.Raw, "description": description}); err != nil {
		return nil, fmt.Errorf("appointments: store call sid: %w", err)
	}
	s.metrics.ObserveCall("placed")
	s.logger.Info("vet call placed", "appointment_id", appt.ID, "intake_id", intakeID, "call_sid", exec.SID)
	return s.store.GetAppointment(ctx, appt.ID)
}

// ProcessCallback confirms the matched appointment with the vet's spoken reply.
func (s *Service) ProcessCallback(ctx context.Context, params messaging.WebhookParams) (*intake.Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.process_callback")
	defer span.End()

	appt, err := s.match(ctx, params)
	if err != nil {
		s.metrics.ObserveWebhook("callback", "unmatched")
		return nil, err
	}
	span.SetAttributes(attribute.String("rescue.appointment_id", appt.ID))

	notes := params.Get("speech_result", "SpeechResult")
	if notes == "" {
		notes = defaultConfirmationNotes
	}
	if err := s.store.ConfirmAppointment(ctx, appt.ID, notes, map[string]any{"callback": params.Map()}); err != nil {
		s.metrics.ObserveWebhook("callback", "error")
		return nil, fmt.Errorf("appointments: confirm: %w", err)
	}
	s.metrics.ObserveWebhook("callback", "confirmed")
	s.logger.Info("appointment confirmed", "appointment_id", appt.ID, "intake_id", appt.IntakeID, "call_sid", appt.CallSID)

	updated, err := s.store.GetAppointment(ctx, appt.ID)
	if err != nil {
		return nil, err
	}
	s.notifyConfirmed(ctx, updated)
	return updated, nil
}

// ProcessStatusUpdate merges call-progress data into the matched appointment.
// It never changes the appointment status.
func (s *Service) ProcessStatusUpdate(ctx context.Context, params messaging.WebhookParams) (*intake.Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.process_status_update")
	defer span.End()

	appt, err := s.match(ctx, params)
	if err != nil {
		s.metrics.ObserveWebhook("status", "unmatched")
		return nil, err
	}
	span.SetAttributes(attribute.String("rescue.appointment_id", appt.ID))

	update := map[string]any{
		"call_sid":      params.Get("CallSid"),
		"call_status":   params.Get("CallStatus"),
		"call_duration": params.Get("CallDuration"),
		"recording_url": params.Get("RecordingUrl"),
		"recording_sid": params.Get("RecordingSid"),
	}
	if err := s.store.MergePayload(ctx, appt.ID, map[string]any{"status_update": update}); err != nil {
		s.metrics.ObserveWebhook("status", "error")
		return nil, fmt.Errorf("appointments: merge status: %w", err)
	}
	s.metrics.ObserveWebhook("status", "merged")
	s.logger.Info("appointment call status recorded", "appointment_id", appt.ID, "call_status", update["call_status"])
	return s.store.GetAppointment(ctx, appt.ID)
}

// match finds the webhook's appointment by call sid, then intake id, then the
// newest pending appointment of any intake.
func (s *Service) match(ctx context.Context, params messaging.WebhookParams) (*intake.Appointment, error) {
	if callSID := params.Get("call_sid"); callSID != "" {
		appt, err := s.store.FindByCallSID(ctx, callSID)
		if err == nil {
			return appt, nil
		}
		if !errors.Is(err, intake.ErrAppointmentNotFound) {
			return nil, fmt.Errorf("appointments: find by call sid: %w", err)
		}
	}
	if intakeID := params.Get("intake_id"); intakeID != "" {
		appt, err := s.store.FindByIntake(ctx, intakeID)
		if err == nil {
			return appt, nil
		}
		if !errors.Is(err, intake.ErrAppointmentNotFound) {
			return nil, fmt.Errorf("appointments: find by intake: %w", err)
		}
	}
	appt, err := s.store.LatestPending(ctx)
	if err != nil {
		if errors.Is(err, intake.ErrAppointmentNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("appointments: latest pending: %w", err)
	}
	s.logger.Warn("webhook matched latest pending appointment without correlation id",
		"appointment_id", appt.ID,
		"intake_id", appt.IntakeID,
	)
	return appt, nil
}

func (s *Service) notifyConfirmed(ctx context.Context, appt *intake.Appointment) {
	if s.notifier == nil {
		return
	}
	summary := notify.AppointmentSummary{
		AppointmentID: appt.ID,
		IntakeID:      appt.IntakeID,
		Notes:         appt.Notes,
		CallSID:       appt.CallSID,
	}
	if desc, ok := appt.Payload["description"].(string); ok {
		summary.Description = desc
	}
	if in, err := s.store.GetIntake(ctx, appt.IntakeID); err == nil {
		summary.Species = in.Species
	}
	if err := s.notifier.NotifyAppointmentConfirmed(ctx, summary); err != nil {
		s.logger.Warn("appointment confirmation e-mail failed", "error", err, "appointment_id", appt.ID)
	}
}

func classifyCallError(err error) *CallError {
	var apiErr *messaging.StudioAPIError
	if errors.As(err, &apiErr) {
		return &CallError{Kind: KindTwilioAPI, StatusCode: apiErr.StatusCode, Body: apiErr.Body, Err: err}
	}
	var transportErr *messaging.StudioTransportError
	if errors.As(err, &transportErr) || errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Kind: KindTwilioConnection, Err: err}
	}
	return &CallError{Kind: KindTwilioAPI, Err: err}
}
