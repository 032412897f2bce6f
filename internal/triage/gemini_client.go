package triage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/rescue-triage/internal/observability/metrics"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

var geminiTracer = otel.Tracer("rescue.internal.triage.gemini")

const (
	defaultGeminiBaseURL    = "https://generativelanguage.googleapis.com"
	defaultGeminiModel      = "gemini-2.5-flash"
	defaultConnectTimeout   = 10 * time.Second
	defaultReadTimeout      = 60 * time.Second
	maxErrorBodyBytes       = 4096
	maxResponseEnvelopeSize = 4 << 20
)

// AIClient generates a raw vendor envelope for a prompt and optional image.
type AIClient interface {
	Generate(ctx context.Context, prompt, imageURL string) ([]byte, error)
}

// GeminiConfig configures the REST client.
type GeminiConfig struct {
	APIKey         string
	Model          string
	BaseURL        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// GeminiClient calls the generateContent REST endpoint.
type GeminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	images     *ImageFetcher
	logger     *logging.Logger
	metrics    *metrics.TriageMetrics
}

var _ AIClient = (*GeminiClient)(nil)

// NewGeminiClient builds a client with separate connect and read timeouts.
func NewGeminiClient(cfg GeminiConfig, images *ImageFetcher, logger *logging.Logger, m *metrics.TriageMetrics) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ConfigurationError("gemini api key is required", nil)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultGeminiModel
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}

	return &GeminiClient{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		images:  images,
		logger:  logger,
		metrics: m,
	}, nil
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inline_data,omitempty"`
}

type geminiInline struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
}

// Generate posts the prompt and returns the raw response body.
func (c *GeminiClient) Generate(ctx context.Context, prompt, imageURL string) ([]byte, error) {
	ctx, span := geminiTracer.Start(ctx, "triage.gemini.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("rescue.ai.model", c.model),
		attribute.Bool("rescue.ai.image_requested", imageURL != ""),
	)

	parts := []geminiPart{{Text: prompt}}
	if img := c.images.Fetch(ctx, imageURL); img != nil {
		parts = append(parts, geminiPart{InlineData: &geminiInline{
			Data:     base64.StdEncoding.EncodeToString(img.Data),
			MIMEType: img.MIMEType,
		}})
		span.SetAttributes(attribute.String("rescue.ai.image_mime", img.MIMEType))
	}

	body, err := json.Marshal(geminiRequest{Contents: []geminiContent{{Role: "user", Parts: parts}}})
	if err != nil {
		return nil, fmt.Errorf("triage: encode gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("triage: build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveAIRequest("rest", "transport_error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, fmt.Errorf("triage: gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.metrics.ObserveAIRequest("rest", fmt.Sprintf("http_%d", resp.StatusCode), time.Since(start).Seconds())
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, URL: endpoint, Body: strings.TrimSpace(string(errBody))}
		span.RecordError(statusErr)
		span.SetStatus(codes.Error, "non-success status")
		return nil, statusErr
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseEnvelopeSize))
	if err != nil {
		c.metrics.ObserveAIRequest("rest", "read_error", time.Since(start).Seconds())
		span.RecordError(err)
		return nil, fmt.Errorf("triage: read gemini response: %w", err)
	}
	c.metrics.ObserveAIRequest("rest", "ok", time.Since(start).Seconds())
	c.logger.Debug("gemini response received", "bytes", len(raw), "latency_ms", time.Since(start).Milliseconds())
	return raw, nil
}

// isTransportError reports whether err came from reaching the service rather than its answer.
func isTransportError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// UnavailableClient stands in when no AI client could be built. Every call
// fails with the construction error so pending messages still resolve.
type UnavailableClient struct {
	Err error
}

func (c UnavailableClient) Generate(context.Context, string, string) ([]byte, error) {
	if c.Err == nil {
		return nil, ConfigurationError("ai client not configured", nil)
	}
	return nil, c.Err
}
