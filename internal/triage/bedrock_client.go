package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/rescue-triage/internal/observability/metrics"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

var bedrockTracer = otel.Tracer("rescue.internal.triage.bedrock")

const defaultBedrockMaxTokens = 2048

var bedrockImageFormats = map[string]brtypes.ImageFormat{
	"image/png":  brtypes.ImageFormatPng,
	"image/jpeg": brtypes.ImageFormatJpeg,
	"image/gif":  brtypes.ImageFormatGif,
	"image/webp": brtypes.ImageFormatWebp,
}

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockConfig configures the Bedrock Converse client.
type BedrockConfig struct {
	ModelID   string
	MaxTokens int32
	Timeout   time.Duration
}

// BedrockClient implements AIClient with the Bedrock Converse API. Output is
// re-encoded into the Gemini envelope so the parser sees one shape.
type BedrockClient struct {
	api       bedrockConverseAPI
	modelID   string
	maxTokens int32
	timeout   time.Duration
	images    *ImageFetcher
	logger    *logging.Logger
	metrics   *metrics.TriageMetrics
}

var _ AIClient = (*BedrockClient)(nil)

// NewBedrockClient validates cfg and returns a Converse-backed client.
func NewBedrockClient(api bedrockConverseAPI, cfg BedrockConfig, images *ImageFetcher, logger *logging.Logger, m *metrics.TriageMetrics) (*BedrockClient, error) {
	if api == nil {
		panic("triage: bedrock converse client cannot be nil")
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		return nil, ConfigurationError("bedrock model id is required", nil)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultBedrockMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultConnectTimeout + defaultReadTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BedrockClient{
		api:       api,
		modelID:   strings.TrimSpace(cfg.ModelID),
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		images:    images,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Generate sends the prompt as a single user turn.
func (c *BedrockClient) Generate(ctx context.Context, prompt, imageURL string) ([]byte, error) {
	ctx, span := bedrockTracer.Start(ctx, "triage.bedrock.generate")
	defer span.End()

	content := []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: prompt}}
	if img := c.images.Fetch(ctx, imageURL); img != nil {
		if format, ok := bedrockImageFormats[img.MIMEType]; ok {
			content = append(content, &brtypes.ContentBlockMemberImage{Value: brtypes.ImageBlock{
				Format: format,
				Source: &brtypes.ImageSourceMemberBytes{Value: img.Data},
			}})
		} else {
			c.logger.Warn("bedrock cannot take image type, sending text only", "mime_type", img.MIMEType)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.api.Converse(callCtx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(c.modelID),
		Messages:        []brtypes.Message{{Role: brtypes.ConversationRoleUser, Content: content}},
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(c.maxTokens)},
	})
	if err != nil {
		c.metrics.ObserveAIRequest("bedrock", "error", time.Since(start).Seconds())
		span.RecordError(err)
		return nil, translateBedrockError(err)
	}
	c.metrics.ObserveAIRequest("bedrock", "ok", time.Since(start).Seconds())

	return encodeConverseOutput(out)
}

// encodeConverseOutput yields one candidate holding the concatenated text
// blocks, or no candidates when Bedrock returned no message.
func encodeConverseOutput(out *bedrockruntime.ConverseOutput) ([]byte, error) {
	envelope := responseEnvelope{}
	if out != nil {
		if msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
			var text strings.Builder
			for _, block := range msg.Value.Content {
				if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
					text.WriteString(t.Value)
				}
			}
			envelope.Candidates = []envelopeCandidate{{
				Content: &envelopeContent{Parts: []envelopePart{{Text: text.String()}}},
			}}
		}
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("triage: encode bedrock response: %w", err)
	}
	return raw, nil
}

func translateBedrockError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ConnectionError("bedrock call timed out", err)
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() > 0 {
		return &HTTPStatusError{StatusCode: respErr.HTTPStatusCode(), URL: "bedrock", Body: respErr.Error()}
	}
	var sendErr *smithyhttp.RequestSendError
	if errors.As(err, &sendErr) {
		return ConnectionError("could not reach bedrock", err)
	}
	return fmt.Errorf("triage: bedrock call failed: %w", err)
}
