package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/wolfman30/rescue-triage/cmd/mainconfig"
	"github.com/wolfman30/rescue-triage/internal/api/router"
	"github.com/wolfman30/rescue-triage/internal/app/bootstrap"
	"github.com/wolfman30/rescue-triage/internal/appointments"
	appconfig "github.com/wolfman30/rescue-triage/internal/config"
	httpmiddleware "github.com/wolfman30/rescue-triage/internal/http/middleware"
	"github.com/wolfman30/rescue-triage/internal/intake"
	"github.com/wolfman30/rescue-triage/internal/messaging"
	"github.com/wolfman30/rescue-triage/internal/observability/metrics"
	"github.com/wolfman30/rescue-triage/internal/triage"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting rescue-triage API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"store", cfg.StoreBackend,
		"queue", cfg.QueueBackend,
	)
	if cfg.SkipTwilioSignature {
		logger.Warn("twilio signature verification disabled")
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

	metricsHandler, triageMetrics, apptMetrics := setupMetrics()

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
	publisher := triage.NewPublisher(queue, jobs, logger)

	// The memory queue lives in this process, so its worker must too.
	var inline *triage.Worker
	var sweeper *cron.Cron
	if memoryQueue, ok := queue.(*triage.MemoryQueue); ok {
		inline, sweeper, err = startInlineWorker(ctx, cfg, store, memoryQueue, jobs, awsCfg, triageMetrics, logger)
		if err != nil {
			logger.Error("failed to start inline triage worker", "error", err)
			os.Exit(1)
		}
	}

	email := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
	logger.Info("appointment notifications", "sender", email.Provider(), "enabled", cfg.NotifyEmailTo != "")
	apptOpts := append(bootstrap.BuildAppointmentOptions(cfg, email, logger), appointments.WithMetrics(apptMetrics))
	apptService := appointments.NewService(store, bootstrap.BuildCaller(cfg, logger), appointments.Options{
		VetNumber: cfg.VetPhoneNumber,
		TestMode:  cfg.AppointmentTestMode,
	}, logger, apptOpts...)

	limiter := httpmiddleware.NewRateLimiter(cfg.IntakeRateLimit, cfg.IntakeRateBurst)
	defer limiter.Close()

	r := router.New(&router.Config{
		Logger:              logger,
		IntakeHandler:       triage.NewHandler(store, publisher, jobs, logger),
		AppointmentsHandler: appointments.NewHandler(apptService, logger),
		WebhookVerifier:     messaging.NewWebhookVerifier(cfg.TwilioWebhookSecret),
		PublicBaseURL:       cfg.PublicBaseURL,
		SkipSignature:       cfg.SkipTwilioSignature,
		APIJWTSecret:        cfg.APIJWTSecret,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		IntakeLimiter:       limiter,
		MetricsHandler:      metricsHandler,
		HealthCheck:         healthCheck(pool),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	cancel()
	if sweeper != nil {
		<-sweeper.Stop().Done()
	}
	bootstrap.WaitForWorker(inline, 30*time.Second, logger)
	if memoryQueue, ok := queue.(*triage.MemoryQueue); ok {
		memoryQueue.Close()
	}
	logger.Info("server stopped")
}

func setupMetrics() (http.Handler, *metrics.TriageMetrics, *metrics.AppointmentMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewTriageMetrics(reg), metrics.NewAppointmentMetrics(reg)
}

func startInlineWorker(
	ctx context.Context,
	cfg *appconfig.Config,
	store intake.Store,
	queue *triage.MemoryQueue,
	jobs triage.JobTracker,
	awsCfg *aws.Config,
	m *metrics.TriageMetrics,
	logger *logging.Logger,
) (*triage.Worker, *cron.Cron, error) {
	client, closer, err := bootstrap.BuildAIClient(ctx, cfg, awsCfg, logger, m)
	if err != nil {
		return nil, nil, err
	}
	go func() {
		<-ctx.Done()
		_ = closer.Close()
	}()
	worker, err := bootstrap.BuildTriageWorker(cfg, store, queue, jobs, client, m, logger,
		bootstrap.BuildOrchestratorOptions(cfg, awsCfg, m, logger)...)
	if err != nil {
		return nil, nil, err
	}
	worker.Start(ctx)
	logger.Info("inline triage worker started", "workers", cfg.WorkerCount)

	sweeper, err := bootstrap.StartSweeper(ctx, cfg, store, m, logger)
	if err != nil {
		return worker, nil, err
	}
	return worker, sweeper, nil
}

func healthCheck(pool *pgxpool.Pool) func(context.Context) error {
	if pool == nil {
		return nil
	}
	return pool.Ping
}
