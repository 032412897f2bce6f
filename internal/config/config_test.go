package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("AI_READ_TIMEOUT", "")
	t.Setenv("SKIP_TWILIO_SIGNATURE", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.AIConnectTimeout != 10*time.Second {
		t.Fatalf("expected 10s connect timeout, got %s", cfg.AIConnectTimeout)
	}
	if cfg.AIReadTimeout != 60*time.Second {
		t.Fatalf("expected 60s read timeout, got %s", cfg.AIReadTimeout)
	}
	if cfg.ImageMaxBytes != 5*1024*1024 {
		t.Fatalf("expected 5MiB image cap, got %d", cfg.ImageMaxBytes)
	}
	if cfg.QueueBackend != "memory" || cfg.StoreBackend != "memory" {
		t.Fatalf("expected memory backends by default, got queue=%s store=%s", cfg.QueueBackend, cfg.StoreBackend)
	}
	if cfg.SkipTwilioSignature {
		t.Fatalf("expected signature verification enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "staging")
	t.Setenv("PUBLIC_BASE_URL", "https://triage.example.org/")
	t.Setenv("QUEUE_BACKEND", "SQS")
	t.Setenv("WORKER_COUNT", "6")
	t.Setenv("AI_CONNECT_TIMEOUT", "3s")
	t.Setenv("SKIP_TWILIO_SIGNATURE", "true")
	t.Setenv("APPOINTMENT_TEST_MODE", "1")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.PublicBaseURL != "https://triage.example.org" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.PublicBaseURL)
	}
	if cfg.QueueBackend != "sqs" {
		t.Fatalf("expected lower-cased queue backend, got %s", cfg.QueueBackend)
	}
	if cfg.WorkerCount != 6 {
		t.Fatalf("expected worker count override, got %d", cfg.WorkerCount)
	}
	if cfg.AIConnectTimeout != 3*time.Second {
		t.Fatalf("expected connect timeout override, got %s", cfg.AIConnectTimeout)
	}
	if !cfg.SkipTwilioSignature {
		t.Fatalf("expected signature bypass outside production")
	}
	if !cfg.AppointmentTestMode {
		t.Fatalf("expected test mode enabled")
	}
}

func TestSkipSignatureIgnoredInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("SKIP_TWILIO_SIGNATURE", "true")
	cfg := Load()
	if cfg.SkipTwilioSignature {
		t.Fatalf("signature bypass must never apply in production")
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production env")
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "lots")
	t.Setenv("AI_READ_TIMEOUT", "forever")
	cfg := Load()
	if cfg.WorkerCount != 2 {
		t.Fatalf("expected default worker count, got %d", cfg.WorkerCount)
	}
	if cfg.AIReadTimeout != 60*time.Second {
		t.Fatalf("expected default read timeout, got %s", cfg.AIReadTimeout)
	}
}

func TestLoadListsAndRates(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("INTAKE_RATE_LIMIT", "0.5")
	t.Setenv("INTAKE_RATE_BURST", "")
	cfg := Load()
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.IntakeRateLimit != 0.5 {
		t.Fatalf("expected rate override, got %v", cfg.IntakeRateLimit)
	}
	if cfg.IntakeRateBurst != 5 {
		t.Fatalf("expected default burst, got %d", cfg.IntakeRateBurst)
	}
}
