package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/rescue-triage/internal/intake"
	"github.com/wolfman30/rescue-triage/internal/observability/metrics"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

var orchestratorTracer = otel.Tracer("rescue.internal.triage.orchestrator")

// Store is the persistence the orchestrator needs.
type Store interface {
	intake.IntakeRepository
	intake.MessageRepository
}

// ResponseArchive keeps a copy of raw AI envelopes for audit.
type ResponseArchive interface {
	Put(ctx context.Context, intakeID, messageID string, envelope []byte) error
}

// Orchestrator runs one triage turn: prompt, AI call, parse, format, persist.
type Orchestrator struct {
	store     Store
	prompts   *PromptBuilder
	client    AIClient
	parser    ResponseParser
	formatter *ResponseFormatter
	archive   ResponseArchive
	logger    *logging.Logger
	metrics   *metrics.TriageMetrics
}

// OrchestratorOption customizes optional collaborators.
type OrchestratorOption func(*Orchestrator)

// WithResponseArchive stores every raw envelope through archive.
func WithResponseArchive(archive ResponseArchive) OrchestratorOption {
	return func(o *Orchestrator) {
		o.archive = archive
	}
}

// WithOrchestratorMetrics wires Prometheus collectors.
func WithOrchestratorMetrics(m *metrics.TriageMetrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func NewOrchestrator(store Store, prompts *PromptBuilder, client AIClient, logger *logging.Logger, opts ...OrchestratorOption) *Orchestrator {
	if store == nil {
		panic("triage: store cannot be nil")
	}
	if prompts == nil {
		panic("triage: prompt builder cannot be nil")
	}
	if client == nil {
		panic("triage: ai client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	o := &Orchestrator{
		store:     store,
		prompts:   prompts,
		client:    client,
		formatter: NewResponseFormatter(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process completes the pending assistant message for the intake. Every
// failure is persisted as a user-safe fallback before being returned, so the
// message never stays pending; the returned error drives the retry policy.
func (o *Orchestrator) Process(ctx context.Context, intakeID, messageID string) error {
	ctx, span := orchestratorTracer.Start(ctx, "triage.process")
	defer span.End()
	span.SetAttributes(attribute.String("rescue.intake_id", intakeID), attribute.String("rescue.message_id", messageID))

	in, err := o.store.GetIntake(ctx, intakeID)
	if err != nil {
		if errors.Is(err, intake.ErrIntakeNotFound) {
			o.logger.Error("triage job references missing intake", "intake_id", intakeID, "message_id", messageID)
			return ValidationError("intake " + intakeID + " not found")
		}
		return fmt.Errorf("triage: load intake: %w", err)
	}

	target, err := o.locateMessage(ctx, intakeID, messageID)
	if err != nil {
		return fmt.Errorf("triage: locate message: %w", err)
	}

	if err := o.run(ctx, in, target.ID); err != nil {
		span.RecordError(err)
		o.fail(ctx, in, target.ID, err)
		return err
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, in *intake.Intake, messageID string) error {
	history, err := o.store.ListMessages(ctx, in.ID)
	if err != nil {
		return fmt.Errorf("triage: list messages: %w", err)
	}
	// The target message is excluded so a retry after a persisted fallback
	// renders the same prompt as the first attempt.
	turns := make([]intake.ChatMessage, 0, len(history))
	for _, msg := range history {
		if msg.ID != messageID {
			turns = append(turns, msg)
		}
	}

	prompt, err := o.prompts.Build(in, turns)
	if err != nil {
		return err
	}

	envelope, err := o.client.Generate(ctx, prompt.Text, prompt.ImageURL)
	if err != nil {
		return classifyClientError(err)
	}
	o.archiveEnvelope(ctx, in.ID, messageID, envelope)

	assessment, err := o.parser.Parse(envelope)
	if err != nil {
		return err
	}
	if assessment.Fallback {
		o.metrics.ObserveParseFallback()
		o.logger.Warn("ai response unparsable, using fallback", "intake_id", in.ID, "message_id", messageID)
	}

	content, err := o.formatter.Format(assessment)
	if err != nil {
		return err
	}

	if err := o.store.ResolveMessage(ctx, messageID, content); err != nil {
		return fmt.Errorf("triage: resolve message: %w", err)
	}
	if err := o.store.UpdateIntakeResult(ctx, in.ID, intake.IntakeStatusResponded, assessment.Payload()); err != nil {
		return fmt.Errorf("triage: update intake: %w", err)
	}
	o.correctSpecies(ctx, in, assessment.Species)

	o.logger.Info("triage response stored",
		"intake_id", in.ID,
		"message_id", messageID,
		"template", prompt.Template,
		"danger", assessment.Danger,
		"fallback", assessment.Fallback,
	)
	return nil
}

func (o *Orchestrator) locateMessage(ctx context.Context, intakeID, messageID string) (*intake.ChatMessage, error) {
	if strings.TrimSpace(messageID) != "" {
		msg, err := o.store.GetMessage(ctx, intakeID, messageID)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, intake.ErrMessageNotFound) {
			return nil, err
		}
	}
	o.logger.Warn("pending message missing, creating placeholder", "intake_id", intakeID, "message_id", messageID)
	return o.store.CreateMessage(ctx, intakeID, intake.RoleAssistant, "", true)
}

// fail writes the kind-specific fallback to the message and marks the intake errored.
func (o *Orchestrator) fail(ctx context.Context, in *intake.Intake, messageID string, cause error) {
	kind := KindOf(cause)
	logArgs := []any{"error", cause, "error_kind", string(kind), "intake_id", in.ID, "message_id", messageID}
	if kind.Retriable() {
		o.logger.Warn("triage attempt failed", logArgs...)
	} else {
		o.logger.Error("triage attempt failed", logArgs...)
	}

	if err := o.store.ResolveMessage(ctx, messageID, fallbackMessage(kind)); err != nil {
		if !errors.Is(err, intake.ErrMessageNotFound) {
			o.logger.Error("failed to persist fallback message", "error", err, "message_id", messageID)
		} else if msg, cerr := o.store.CreateMessage(ctx, in.ID, intake.RoleAssistant, fallbackMessage(kind), false); cerr != nil {
			o.logger.Error("failed to create fallback message", "error", cerr, "intake_id", in.ID)
		} else {
			o.logger.Warn("fallback written to new message", "intake_id", in.ID, "message_id", msg.ID)
		}
	}

	payload := map[string]any{
		"error_kind":    string(kind),
		"error_message": cause.Error(),
	}
	var te *Error
	if errors.As(cause, &te) {
		if te.StatusCode != 0 {
			payload["status_code"] = te.StatusCode
		}
		if te.RawText != "" {
			payload["raw_text"] = te.RawText
		}
	}
	if err := o.store.UpdateIntakeResult(ctx, in.ID, intake.IntakeStatusError, payload); err != nil {
		o.logger.Error("failed to persist intake error state", "error", err, "intake_id", in.ID)
	}
}

func (o *Orchestrator) correctSpecies(ctx context.Context, in *intake.Intake, species string) {
	species = strings.TrimSpace(species)
	if species == "" || strings.EqualFold(species, "unknown") || strings.EqualFold(species, in.Species) {
		return
	}
	if err := o.store.UpdateSpecies(ctx, in.ID, species); err != nil {
		o.logger.Warn("failed to apply species correction", "error", err, "intake_id", in.ID)
		return
	}
	o.logger.Info("species corrected by ai", "intake_id", in.ID, "from", in.Species, "to", species)
}

func (o *Orchestrator) archiveEnvelope(ctx context.Context, intakeID, messageID string, envelope []byte) {
	if o.archive == nil {
		return
	}
	if err := o.archive.Put(ctx, intakeID, messageID, envelope); err != nil {
		o.logger.Warn("failed to archive ai response", "error", err, "intake_id", intakeID, "message_id", messageID)
	}
}

// classifyClientError maps AI client failures to pipeline kinds. Anything
// unrecognised propagates unchanged and is treated as unknown.
func classifyClientError(err error) error {
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if classified := classifyStatus(statusErr); classified != nil {
			classified.Err = statusErr
			return classified
		}
		return err
	}
	if isTransportError(err) {
		return ConnectionError("could not reach ai service", err)
	}
	return err
}
