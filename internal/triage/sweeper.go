package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wolfman30/rescue-triage/internal/intake"
	"github.com/wolfman30/rescue-triage/internal/observability/metrics"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

const (
	defaultStaleAfter = 5 * time.Minute
	defaultSweepLimit = 100
)

// Sweeper resolves assistant messages whose job was lost before the
// orchestrator could complete or fail them.
type Sweeper struct {
	store      Store
	staleAfter time.Duration
	limit      int
	now        func() time.Time
	metrics    *metrics.TriageMetrics
	logger     *logging.Logger
}

// NewSweeper creates a sweeper for messages pending longer than staleAfter.
func NewSweeper(store Store, staleAfter time.Duration, m *metrics.TriageMetrics, logger *logging.Logger) *Sweeper {
	if store == nil {
		panic("triage: store cannot be nil")
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		store:      store,
		staleAfter: staleAfter,
		limit:      defaultSweepLimit,
		now:        func() time.Time { return time.Now().UTC() },
		metrics:    m,
		logger:     logger,
	}
}

// Sweep resolves one batch of stale messages and returns how many were resolved.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stale, err := s.store.ListStalePending(ctx, s.now().Add(-s.staleAfter), s.limit)
	if err != nil {
		return 0, fmt.Errorf("triage: list stale messages: %w", err)
	}

	resolved := 0
	for _, msg := range stale {
		if err := s.store.ResolveMessage(ctx, msg.ID, TimeoutMessage); err != nil {
			if errors.Is(err, intake.ErrMessageNotFound) {
				continue
			}
			s.logger.Error("failed to resolve stale message", "error", err, "message_id", msg.ID)
			continue
		}
		resolved++
		payload := map[string]any{"error_kind": "timeout"}
		if err := s.store.UpdateIntakeResult(ctx, msg.IntakeID, intake.IntakeStatusTimeout, payload); err != nil {
			s.logger.Error("failed to mark intake timed out", "error", err, "intake_id", msg.IntakeID)
		}
		s.logger.Warn("stale pending message resolved", "intake_id", msg.IntakeID, "message_id", msg.ID)
	}
	s.metrics.ObserveStaleResolved(resolved)
	return resolved, nil
}

// Schedule registers Sweep on c using a cron spec such as "@every 1m".
func (s *Sweeper) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("stale sweep failed", "error", err)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("triage: invalid sweep schedule %q: %w", spec, err)
	}
	return id, nil
}
