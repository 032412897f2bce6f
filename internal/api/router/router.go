package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/rescue-triage/internal/appointments"
	httpmiddleware "github.com/wolfman30/rescue-triage/internal/http/middleware"
	"github.com/wolfman30/rescue-triage/internal/messaging"
	"github.com/wolfman30/rescue-triage/internal/triage"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	IntakeHandler       *triage.Handler
	AppointmentsHandler *appointments.Handler
	WebhookVerifier     *messaging.WebhookVerifier
	PublicBaseURL       string
	// SkipSignature disables Twilio signature checks; never set in production.
	SkipSignature      bool
	APIJWTSecret       string
	CORSAllowedOrigins []string
	IntakeLimiter      *httpmiddleware.RateLimiter
	MetricsHandler     http.Handler
	// HealthCheck reports backing-store health. Nil means always healthy.
	HealthCheck func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg.IntakeHandler == nil || cfg.AppointmentsHandler == nil {
		panic("router: intake and appointments handlers are required")
	}
	if cfg.WebhookVerifier == nil {
		panic("router: webhook verifier is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(logger))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", healthHandler(cfg.HealthCheck))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Twilio webhooks authenticate by signature, not bearer token.
	r.Route("/webhooks/twilio/appointment", func(wh chi.Router) {
		wh.Use(messaging.RequireSignature(cfg.WebhookVerifier, messaging.SignatureOptions{
			PublicBaseURL: cfg.PublicBaseURL,
			Skip:          cfg.SkipSignature,
			Logger:        logger,
		}))
		wh.Post("/callback", cfg.AppointmentsHandler.Callback)
		wh.Post("/status", cfg.AppointmentsHandler.StatusUpdate)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Compress(5))
		api.Use(httpmiddleware.APIJWT(cfg.APIJWTSecret))

		api.Route("/intakes", func(ir chi.Router) {
			if cfg.IntakeLimiter != nil {
				ir.With(cfg.IntakeLimiter.Middleware).Post("/", cfg.IntakeHandler.CreateIntake)
			} else {
				ir.Post("/", cfg.IntakeHandler.CreateIntake)
			}
			ir.Route("/{intakeID}", func(one chi.Router) {
				one.Get("/", cfg.IntakeHandler.GetIntake)
				if cfg.IntakeLimiter != nil {
					one.With(cfg.IntakeLimiter.Middleware).Post("/messages", cfg.IntakeHandler.AddMessage)
				} else {
					one.Post("/messages", cfg.IntakeHandler.AddMessage)
				}
				one.Get("/messages/{messageID}", cfg.IntakeHandler.GetMessage)
				one.Post("/appointment", cfg.AppointmentsHandler.CreateAppointment)
			})
		})
		api.Get("/jobs/{jobID}", cfg.IntakeHandler.GetJob)
	})

	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, map[string]string{"status": "ok"}
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				status, body = http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
