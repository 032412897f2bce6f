package appointments

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/rescue-triage/internal/intake"
	"github.com/wolfman30/rescue-triage/internal/messaging"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

// Handler exposes appointment creation and the Twilio webhooks.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

// NewHandler creates an appointment handler.
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("appointments: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

type webhookResponse struct {
	Success       bool   `json:"success"`
	AppointmentID string `json:"appointment_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// CreateAppointment handles POST /api/intakes/{intakeID}/appointment.
func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	intakeID := chi.URLParam(r, "intakeID")
	appt, err := h.service.CreateAndCall(r.Context(), intakeID)
	if err != nil {
		var callErr *CallError
		switch {
		case errors.Is(err, intake.ErrIntakeNotFound):
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "intake not found"})
		case errors.As(err, &callErr) && callErr.Kind == KindTwilioConnection:
			h.writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "could not reach the call provider", "error_kind": string(callErr.Kind)})
		case errors.As(err, &callErr):
			h.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "the call provider rejected the call", "error_kind": string(callErr.Kind)})
		default:
			h.logger.Error("failed to create appointment", "error", err, "intake_id", intakeID)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create appointment"})
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, appt)
}

// Callback handles the vet confirmation webhook.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	params, err := messaging.ParseWebhookParams(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "malformed form body"})
		return
	}
	appt, err := h.service.ProcessCallback(r.Context(), params)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			h.logger.Warn("appointment callback did not match", "call_sid", params.Get("call_sid"), "intake_id", params.Get("intake_id"))
			h.writeJSON(w, http.StatusNotFound, webhookResponse{Error: "appointment not found"})
			return
		}
		h.logger.Error("appointment callback failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, webhookResponse{Error: "callback failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, webhookResponse{Success: true, AppointmentID: appt.ID})
}

// StatusUpdate handles the call-progress webhook. It always answers 200 so
// Twilio never retries it.
func (h *Handler) StatusUpdate(w http.ResponseWriter, r *http.Request) {
	params, err := messaging.ParseWebhookParams(r)
	if err != nil {
		h.logger.Warn("malformed status webhook", "error", err)
		h.writeJSON(w, http.StatusOK, webhookResponse{Error: "malformed form body"})
		return
	}
	appt, err := h.service.ProcessStatusUpdate(r.Context(), params)
	if err != nil {
		h.logger.Warn("status webhook not applied", "error", err, "call_sid", params.Get("CallSid"))
		h.writeJSON(w, http.StatusOK, webhookResponse{Error: "not applied"})
		return
	}
	h.writeJSON(w, http.StatusOK, webhookResponse{Success: true, AppointmentID: appt.ID})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
