package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appconfig "github.com/wolfman30/rescue-triage/internal/config"
	"github.com/wolfman30/rescue-triage/internal/observability/metrics"
	"github.com/wolfman30/rescue-triage/internal/triage"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

// BuildTriageWorker wires the orchestrator into a queue worker. jobs may be nil.
func BuildTriageWorker(
	cfg *appconfig.Config,
	store triage.Store,
	queue triage.Queue,
	jobs triage.JobUpdater,
	client triage.AIClient,
	m *metrics.TriageMetrics,
	logger *logging.Logger,
	orchestratorOpts ...triage.OrchestratorOption,
) (*triage.Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	prompts, err := triage.NewPromptBuilder(cfg.PromptTemplateDir)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load prompt templates: %w", err)
	}
	orchestrator := triage.NewOrchestrator(store, prompts, client, logger, orchestratorOpts...)
	return triage.NewWorker(orchestrator, queue, jobs, logger,
		triage.WithWorkerCount(cfg.WorkerCount),
		triage.WithWorkerMetrics(m),
	), nil
}

// StartSweeper schedules the stale-pending sweeper and starts its cron. Stop
// the returned cron on shutdown.
func StartSweeper(ctx context.Context, cfg *appconfig.Config, store triage.Store, m *metrics.TriageMetrics, logger *logging.Logger) (*cron.Cron, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	sweeper := triage.NewSweeper(store, cfg.StalePendingAfter, m, logger)
	c := cron.New()
	if _, err := sweeper.Schedule(ctx, c, cfg.SweepSchedule); err != nil {
		return nil, fmt.Errorf("bootstrap: schedule sweeper: %w", err)
	}
	c.Start()
	logger.Info("stale pending sweeper scheduled", "schedule", cfg.SweepSchedule, "stale_after", cfg.StalePendingAfter)
	return c, nil
}

// WaitForWorker waits for worker goroutines to exit, giving up after timeout.
func WaitForWorker(worker *triage.Worker, timeout time.Duration, logger *logging.Logger) bool {
	if worker == nil {
		return true
	}
	if logger == nil {
		logger = logging.Default()
	}
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("triage worker stopped")
		return true
	case <-time.After(timeout):
		logger.Error("triage worker shutdown timed out", "timeout", timeout)
		return false
	}
}
