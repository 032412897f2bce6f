package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wolfman30/rescue-triage/internal/observability/metrics"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

// GeminiSDKClient implements AIClient with Google's generative-ai-go SDK.
// The SDK response is re-encoded into the REST envelope so the parser sees one shape.
type GeminiSDKClient struct {
	client  *genai.Client
	modelID string
	timeout time.Duration
	images  *ImageFetcher
	logger  *logging.Logger
	metrics *metrics.TriageMetrics
}

var _ AIClient = (*GeminiSDKClient)(nil)

// NewGeminiSDKClient creates a new SDK-backed client.
func NewGeminiSDKClient(ctx context.Context, cfg GeminiConfig, images *ImageFetcher, logger *logging.Logger, m *metrics.TriageMetrics) (*GeminiSDKClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ConfigurationError("gemini api key is required", nil)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultGeminiModel
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

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, ConfigurationError("create gemini sdk client", err)
	}
	return &GeminiSDKClient{
		client:  client,
		modelID: cfg.Model,
		timeout: cfg.ConnectTimeout + cfg.ReadTimeout,
		images:  images,
		logger:  logger,
		metrics: m,
	}, nil
}

// Generate sends the prompt through the SDK and returns a REST-shaped envelope.
func (c *GeminiSDKClient) Generate(ctx context.Context, prompt, imageURL string) ([]byte, error) {
	ctx, span := geminiTracer.Start(ctx, "triage.gemini_sdk.generate")
	defer span.End()

	parts := []genai.Part{genai.Text(prompt)}
	if img := c.images.Fetch(ctx, imageURL); img != nil {
		parts = append(parts, genai.Blob{MIMEType: img.MIMEType, Data: img.Data})
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.GenerativeModel(c.modelID).GenerateContent(callCtx, parts...)
	if err != nil {
		c.metrics.ObserveAIRequest("sdk", "error", time.Since(start).Seconds())
		span.RecordError(err)
		return nil, translateSDKError(err)
	}
	c.metrics.ObserveAIRequest("sdk", "ok", time.Since(start).Seconds())

	return encodeSDKResponse(resp)
}

// Close releases resources held by the Gemini client.
func (c *GeminiSDKClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func encodeSDKResponse(resp *genai.GenerateContentResponse) ([]byte, error) {
	envelope := responseEnvelope{}
	if resp != nil {
		for _, cand := range resp.Candidates {
			var ec envelopeCandidate
			if cand != nil && cand.Content != nil {
				var text strings.Builder
				for _, part := range cand.Content.Parts {
					if t, ok := part.(genai.Text); ok {
						text.WriteString(string(t))
					}
				}
				ec.Content = &envelopeContent{Parts: []envelopePart{{Text: text.String()}}}
			}
			envelope.Candidates = append(envelope.Candidates, ec)
		}
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("triage: encode sdk response: %w", err)
	}
	return raw, nil
}

// translateSDKError maps SDK failures onto the same conditions the REST client reports.
func translateSDKError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ConnectionError("gemini sdk call timed out", err)
	}
	if ae, ok := apierror.FromError(err); ok {
		if code := ae.HTTPCode(); code > 0 {
			return &HTTPStatusError{StatusCode: code, URL: "genai", Body: ae.Reason()}
		}
		return grpcToStatus(ae.GRPCStatus().Code(), err)
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return grpcToStatus(st.Code(), err)
	}
	return fmt.Errorf("triage: gemini sdk call failed: %w", err)
}

func grpcToStatus(code codes.Code, err error) error {
	switch code {
	case codes.Unavailable, codes.DeadlineExceeded:
		return ConnectionError("gemini sdk unavailable", err)
	case codes.Internal, codes.DataLoss:
		return &HTTPStatusError{StatusCode: http.StatusInternalServerError, URL: "genai", Body: err.Error()}
	case codes.ResourceExhausted:
		return &HTTPStatusError{StatusCode: http.StatusTooManyRequests, URL: "genai", Body: err.Error()}
	default:
		return fmt.Errorf("triage: gemini sdk call failed (%s): %w", code, err)
	}
}
