package triage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/rescue-triage/internal/observability/metrics"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

// Processor completes one pending assistant message.
type Processor interface {
	Process(ctx context.Context, intakeID, messageID string) error
}

// Worker consumes triage jobs from the queue and invokes the processor.
type Worker struct {
	processor Processor
	queue     Queue
	jobs      JobUpdater
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	policy           *RetryPolicy
	metrics          *metrics.TriageMetrics
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithRetryPolicy overrides the default kind-to-retry table.
func WithRetryPolicy(policy *RetryPolicy) WorkerOption {
	return func(cfg *workerConfig) {
		if policy != nil {
			cfg.policy = policy
		}
	}
}

// WithWorkerMetrics records job outcomes.
func WithWorkerMetrics(m *metrics.TriageMetrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// NewWorker constructs a queue consumer around the provided processor.
func NewWorker(processor Processor, queue Queue, jobs JobUpdater, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if processor == nil {
		panic("triage: processor cannot be nil")
	}
	if queue == nil {
		panic("triage: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		policy:           DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		processor: processor,
		queue:     queue,
		jobs:      jobs,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("triage worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("triage worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, errQueueClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive triage jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	payload, err := decodePayload(msg.Body)
	if err != nil {
		w.logger.Error("failed to decode triage job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	w.logger.Info("worker processing job",
		"job_id", payload.ID,
		"intake_id", payload.IntakeID,
		"message_id", payload.MessageID,
		"attempt", payload.Attempt,
	)
	if msg.Receives > 1 {
		w.logger.Warn("triage job redelivered", "job_id", payload.ID, "receive_count", msg.Receives)
	}

	procErr := w.processor.Process(ctx, payload.IntakeID, payload.MessageID)
	if procErr == nil {
		w.cfg.metrics.ObserveJob("completed", "")
		w.updateJob(ctx, payload.ID, func(ctx context.Context) error {
			return w.jobs.MarkCompleted(ctx, payload.ID, payload.Attempt)
		})
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	decision := w.cfg.policy.Decide(procErr, payload.Attempt)
	if decision.Retry {
		next := payload
		next.Attempt++
		next.EnqueuedAt = time.Now().UTC()
		_, body, encErr := encodePayload(next)
		if encErr == nil {
			encErr = w.queue.Send(ctx, body, decision.Delay)
		}
		if encErr == nil {
			w.logger.Warn("triage job scheduled for retry",
				"job_id", payload.ID,
				"error_kind", string(decision.Kind),
				"attempt", next.Attempt,
				"delay", decision.Delay.String(),
			)
			w.cfg.metrics.ObserveJob("retried", string(decision.Kind))
			w.updateJob(ctx, payload.ID, func(ctx context.Context) error {
				return w.jobs.MarkRetrying(ctx, payload.ID, next.Attempt, decision.Kind, procErr.Error())
			})
			w.deleteMessage(context.Background(), msg.ReceiptHandle)
			return
		}
		w.logger.Error("failed to requeue triage job", "error", encErr, "job_id", payload.ID)
	}

	w.logger.Error("triage job discarded",
		"job_id", payload.ID,
		"error", procErr,
		"error_kind", string(decision.Kind),
		"attempt", payload.Attempt,
	)
	w.cfg.metrics.ObserveJob("failed", string(decision.Kind))
	w.updateJob(ctx, payload.ID, func(ctx context.Context) error {
		return w.jobs.MarkFailed(ctx, payload.ID, payload.Attempt, decision.Kind, procErr.Error())
	})
	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) updateJob(ctx context.Context, jobID string, fn func(context.Context) error) {
	if w.jobs == nil || jobID == "" {
		return
	}
	if err := fn(ctx); err != nil && !errors.Is(err, ErrJobNotFound) {
		w.logger.Error("failed to update job status", "error", err, "job_id", jobID)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receipt string) {
	if receipt == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receipt); err != nil {
		w.logger.Error("failed to delete triage job", "error", err)
	}
}
