package triage

import (
	"context"
	"fmt"

	"github.com/wolfman30/rescue-triage/pkg/logging"
)

// Publisher enqueues triage jobs for asynchronous processing.
type Publisher struct {
	queue  Queue
	jobs   JobRecorder
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher. jobs may be nil when job
// status tracking is not configured.
func NewPublisher(queue Queue, jobs JobRecorder, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("triage: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		jobs:   jobs,
		logger: logger,
	}
}

// EnqueueTriage publishes a job completing messageID for intakeID and returns the job ID.
func (p *Publisher) EnqueueTriage(ctx context.Context, intakeID, messageID string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if intakeID == "" || messageID == "" {
		return "", fmt.Errorf("triage: intake and message ids are required")
	}

	payload, body, err := encodePayload(queuePayload{IntakeID: intakeID, MessageID: messageID})
	if err != nil {
		return "", err
	}

	if p.jobs != nil {
		record := &JobRecord{
			JobID:     payload.ID,
			IntakeID:  intakeID,
			MessageID: messageID,
			Attempt:   payload.Attempt,
		}
		if err := p.jobs.PutPending(ctx, record); err != nil {
			return "", fmt.Errorf("triage: failed to record job: %w", err)
		}
	}

	if err := p.queue.Send(ctx, body, 0); err != nil {
		return "", fmt.Errorf("triage: failed to enqueue job: %w", err)
	}

	p.logger.Debug("triage job enqueued", "job_id", payload.ID, "intake_id", intakeID, "message_id", messageID)
	return payload.ID, nil
}
