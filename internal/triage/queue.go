package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue is the job transport shared by Publisher and Worker. Send with a
// positive delay hides the body until the delay elapses.
type Queue interface {
	Send(ctx context.Context, body string, delay time.Duration) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

var errQueueClosed = errors.New("triage: queue closed")

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
	// Receives counts deliveries of this message; above one means redelivery.
	Receives int
}

// queuePayload is the job body: which pending message of which intake to complete.
type queuePayload struct {
	ID         string    `json:"id"`
	IntakeID   string    `json:"intake_id"`
	MessageID  string    `json:"message_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	if payload.Attempt <= 0 {
		payload.Attempt = 1
	}
	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = time.Now().UTC()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("triage: failed to encode payload: %w", err)
	}
	return payload, string(body), nil
}

func decodePayload(body string) (queuePayload, error) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return queuePayload{}, fmt.Errorf("triage: failed to decode payload: %w", err)
	}
	if payload.IntakeID == "" {
		return queuePayload{}, fmt.Errorf("triage: payload %s has no intake_id", payload.ID)
	}
	if payload.Attempt <= 0 {
		payload.Attempt = 1
	}
	return payload, nil
}
