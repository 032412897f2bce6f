package triage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/rescue-triage/internal/intake"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

const maxRequestBytes = 64 << 10

// Enqueuer schedules triage work for a pending message.
type Enqueuer interface {
	EnqueueTriage(ctx context.Context, intakeID, messageID string) (string, error)
}

// Handler exposes the intake API used by the web collaborator.
type Handler struct {
	store    Store
	enqueuer Enqueuer
	jobs     JobRecorder
	logger   *logging.Logger
}

// NewHandler creates an intake handler. jobs may be nil when job tracking is disabled.
func NewHandler(store Store, enqueuer Enqueuer, jobs JobRecorder, logger *logging.Logger) *Handler {
	if store == nil {
		panic("triage: store cannot be nil")
	}
	if enqueuer == nil {
		panic("triage: enqueuer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:    store,
		enqueuer: enqueuer,
		jobs:     jobs,
		logger:   logger,
	}
}

type enqueueResponse struct {
	IntakeID  string `json:"intake_id"`
	MessageID string `json:"message_id"`
	JobID     string `json:"job_id"`
}

type messageRequest struct {
	Content string `json:"content"`
}

type intakeResponse struct {
	*intake.Intake
	Messages []intake.ChatMessage `json:"messages"`
}

type messageStatusResponse struct {
	ID      string      `json:"id"`
	Role    intake.Role `json:"role"`
	Content string      `json:"content"`
	Pending bool        `json:"pending"`
}

// CreateIntake handles POST /api/intakes.
func (h *Handler) CreateIntake(w http.ResponseWriter, r *http.Request) {
	var req intake.CreateIntakeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in, err := h.store.CreateIntake(r.Context(), &req)
	if err != nil {
		if intake.IsValidationError(err) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create intake", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create intake")
		return
	}

	resp, err := h.startTurn(r.Context(), in.ID, in.Description)
	if err != nil {
		h.logger.Error("failed to start triage", "error", err, "intake_id", in.ID)
		h.writeError(w, http.StatusServiceUnavailable, "failed to schedule analysis")
		return
	}
	h.logger.Info("intake created", "intake_id", in.ID, "species", in.Species, "job_id", resp.JobID)
	h.writeJSON(w, http.StatusAccepted, resp)
}

// AddMessage handles POST /api/intakes/{intakeID}/messages.
func (h *Handler) AddMessage(w http.ResponseWriter, r *http.Request) {
	intakeID := chi.URLParam(r, "intakeID")

	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		h.writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	if _, err := h.store.GetIntake(r.Context(), intakeID); err != nil {
		h.writeLookupError(w, err, intakeID)
		return
	}

	resp, err := h.startTurn(r.Context(), intakeID, req.Content)
	if err != nil {
		h.logger.Error("failed to start triage", "error", err, "intake_id", intakeID)
		h.writeError(w, http.StatusServiceUnavailable, "failed to schedule analysis")
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

// GetIntake handles GET /api/intakes/{intakeID}.
func (h *Handler) GetIntake(w http.ResponseWriter, r *http.Request) {
	intakeID := chi.URLParam(r, "intakeID")
	in, err := h.store.GetIntake(r.Context(), intakeID)
	if err != nil {
		h.writeLookupError(w, err, intakeID)
		return
	}
	messages, err := h.store.ListMessages(r.Context(), intakeID)
	if err != nil {
		h.logger.Error("failed to list messages", "error", err, "intake_id", intakeID)
		h.writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	h.writeJSON(w, http.StatusOK, intakeResponse{Intake: in, Messages: messages})
}

// GetMessage handles GET /api/intakes/{intakeID}/messages/{messageID}.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	intakeID := chi.URLParam(r, "intakeID")
	msg, err := h.store.GetMessage(r.Context(), intakeID, chi.URLParam(r, "messageID"))
	if err != nil {
		h.writeLookupError(w, err, intakeID)
		return
	}
	h.writeJSON(w, http.StatusOK, messageStatusResponse{
		ID:      msg.ID,
		Role:    msg.Role,
		Content: msg.Content,
		Pending: msg.Pending,
	})
}

// GetJob handles GET /api/jobs/{jobID}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.writeError(w, http.StatusNotFound, "job tracking is not enabled")
		return
	}
	jobID := chi.URLParam(r, "jobID")
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("failed to load job", "error", err, "job_id", jobID)
		h.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// startTurn records the user turn plus a pending assistant placeholder and enqueues the job.
// A placeholder whose job never runs is resolved later by the Sweeper.
func (h *Handler) startTurn(ctx context.Context, intakeID, content string) (enqueueResponse, error) {
	if _, err := h.store.CreateMessage(ctx, intakeID, intake.RoleUser, content, false); err != nil {
		return enqueueResponse{}, err
	}
	placeholder, err := h.store.CreateMessage(ctx, intakeID, intake.RoleAssistant, "", true)
	if err != nil {
		return enqueueResponse{}, err
	}
	jobID, err := h.enqueuer.EnqueueTriage(ctx, intakeID, placeholder.ID)
	if err != nil {
		return enqueueResponse{}, err
	}
	return enqueueResponse{IntakeID: intakeID, MessageID: placeholder.ID, JobID: jobID}, nil
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error, intakeID string) {
	switch {
	case errors.Is(err, intake.ErrIntakeNotFound):
		h.writeError(w, http.StatusNotFound, "intake not found")
	case errors.Is(err, intake.ErrMessageNotFound):
		h.writeError(w, http.StatusNotFound, "message not found")
	default:
		h.logger.Error("intake lookup failed", "error", err, "intake_id", intakeID)
		h.writeError(w, http.StatusInternalServerError, "lookup failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
