package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Backends
	StoreBackend    string
	QueueBackend    string
	JobStoreBackend string
	TriageQueueURL  string
	TriageJobsTable string
	WorkerCount     int
	RedisAddr       string
	RedisPassword   string
	RedisTLS        bool
	RedisQueueKey   string

	// Generative AI
	GeminiAPIKey      string
	GeminiModel       string
	GeminiBaseURL     string
	AIClient          string
	AIConnectTimeout  time.Duration
	AIReadTimeout     time.Duration
	AIFallback        string
	BedrockModelID    string
	BedrockMaxTokens  int
	ImageFetchTimeout time.Duration
	ImageMaxBytes     int64
	ImagePrivateHosts bool
	PromptTemplateDir string

	// Twilio voice
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioWebhookSecret string
	TwilioFromNumber    string
	TwilioFlowSID       string
	TwilioStudioBaseURL string
	VetPhoneNumber      string
	SkipTwilioSignature bool
	AppointmentTestMode bool

	// Intake API and background maintenance
	APIJWTSecret          string
	CORSAllowedOrigins    []string
	IntakeRateLimit       float64
	IntakeRateBurst       int
	StalePendingAfter     time.Duration
	SweepSchedule         string
	ResponseArchiveBucket string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Notifications
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	NotifyEmailTo     string
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		QueueBackend:    strings.ToLower(getEnv("QUEUE_BACKEND", "memory")),
		JobStoreBackend: strings.ToLower(getEnv("JOB_STORE_BACKEND", "memory")),
		TriageQueueURL:  getEnv("TRIAGE_QUEUE_URL", ""),
		TriageJobsTable: getEnv("TRIAGE_JOBS_TABLE", "triage_jobs"),
		WorkerCount:     getEnvAsInt("WORKER_COUNT", 2),
		RedisAddr:       getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisTLS:        getEnvAsBool("REDIS_TLS", false),
		RedisQueueKey:   getEnv("REDIS_QUEUE_KEY", "triage:jobs"),

		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		AIClient:          strings.ToLower(getEnv("AI_CLIENT", "rest")),
		AIConnectTimeout:  getEnvAsDuration("AI_CONNECT_TIMEOUT", 10*time.Second),
		AIReadTimeout:     getEnvAsDuration("AI_READ_TIMEOUT", 60*time.Second),
		AIFallback:        strings.ToLower(getEnv("AI_FALLBACK", "")),
		BedrockModelID:    getEnv("BEDROCK_MODEL_ID", ""),
		BedrockMaxTokens:  getEnvAsInt("BEDROCK_MAX_TOKENS", 2048),
		ImageFetchTimeout: getEnvAsDuration("IMAGE_FETCH_TIMEOUT", 10*time.Second),
		ImageMaxBytes:     int64(getEnvAsInt("IMAGE_MAX_BYTES", 5*1024*1024)),
		ImagePrivateHosts: getEnvAsBool("IMAGE_ALLOW_PRIVATE_HOSTS", false),
		PromptTemplateDir: getEnv("PROMPT_TEMPLATE_DIR", ""),

		TwilioAccountSID:      getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:       getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWebhookSecret:   getEnv("TWILIO_WEBHOOK_SECRET", ""),
		TwilioFromNumber:      getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioFlowSID:         getEnv("TWILIO_FLOW_SID", ""),
		TwilioStudioBaseURL:   getEnv("TWILIO_STUDIO_BASE_URL", "https://studio.twilio.com"),
		VetPhoneNumber:        getEnv("VET_PHONE_NUMBER", ""),
		SkipTwilioSignature:   getEnvAsBool("SKIP_TWILIO_SIGNATURE", false),
		AppointmentTestMode:   getEnvAsBool("APPOINTMENT_TEST_MODE", false),
		APIJWTSecret:          getEnv("API_JWT_SECRET", ""),
		CORSAllowedOrigins:    getEnvAsList("CORS_ALLOWED_ORIGINS"),
		IntakeRateLimit:       getEnvAsFloat("INTAKE_RATE_LIMIT", 1),
		IntakeRateBurst:       getEnvAsInt("INTAKE_RATE_BURST", 5),
		StalePendingAfter:     getEnvAsDuration("STALE_PENDING_AFTER", 5*time.Minute),
		SweepSchedule:         getEnv("SWEEP_SCHEDULE", "@every 1m"),
		ResponseArchiveBucket: getEnv("RESPONSE_ARCHIVE_BUCKET", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Rescue Triage"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		NotifyEmailTo:     getEnv("NOTIFY_EMAIL_TO", ""),
	}

	// Signature bypass is a development convenience only.
	if cfg.IsProduction() {
		cfg.SkipTwilioSignature = false
	}
	return cfg
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	return env == "production" || env == "prod"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
