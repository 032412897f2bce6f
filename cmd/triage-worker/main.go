package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/rescue-triage/cmd/mainconfig"
	"github.com/wolfman30/rescue-triage/internal/app/bootstrap"
	appconfig "github.com/wolfman30/rescue-triage/internal/config"
	"github.com/wolfman30/rescue-triage/internal/observability/metrics"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).Component("triage-worker")

	if err := validate(cfg); err != nil {
		logger.Error("invalid worker configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}
	store, err := bootstrap.BuildStore(cfg, pool, logger)
	if err != nil {
		logger.Error("failed to build intake store", "error", err)
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg, bootstrap.NeedsAWS(cfg))
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	redisClient, err := bootstrap.BuildRedisClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	queue, err := bootstrap.BuildQueue(cfg, mainconfig.Value(awsCfg), redisClient, logger)
	if err != nil {
		logger.Error("failed to build triage queue", "error", err)
		os.Exit(1)
	}
	jobs, err := bootstrap.BuildJobStore(cfg, mainconfig.Value(awsCfg), pool, logger)
	if err != nil {
		logger.Error("failed to build job store", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	triageMetrics := metrics.NewTriageMetrics(reg)

	client, closer, err := bootstrap.BuildAIClient(ctx, cfg, awsCfg, logger, triageMetrics)
	if err != nil {
		logger.Error("failed to build AI client", "error", err)
		os.Exit(1)
	}
	defer closer.Close()

	worker, err := bootstrap.BuildTriageWorker(cfg, store, queue, jobs, client, triageMetrics, logger,
		bootstrap.BuildOrchestratorOptions(cfg, awsCfg, triageMetrics, logger)...)
	if err != nil {
		logger.Error("failed to build triage worker", "error", err)
		os.Exit(1)
	}
	sweeper, err := bootstrap.StartSweeper(ctx, cfg, store, triageMetrics, logger)
	if err != nil {
		logger.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	worker.Start(ctx)
	logger.Info("triage worker started", "workers", cfg.WorkerCount, "queue", cfg.QueueBackend, "ai_client", cfg.AIClient)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down triage worker...")
	cancel()
	<-sweeper.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	bootstrap.WaitForWorker(worker, 30*time.Second, logger)
}

// validate rejects configurations a standalone worker cannot serve.
func validate(cfg *appconfig.Config) error {
	if cfg.QueueBackend == "" || cfg.QueueBackend == "memory" {
		return errors.New("QUEUE_BACKEND=memory only works inside the API process; use sqs or redis")
	}
	if cfg.StoreBackend == "" || cfg.StoreBackend == "memory" {
		return errors.New("STORE_BACKEND=memory cannot be shared with the API; use postgres")
	}
	return nil
}
