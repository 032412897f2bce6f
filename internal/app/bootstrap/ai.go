package bootstrap

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/wolfman30/rescue-triage/internal/config"
	"github.com/wolfman30/rescue-triage/internal/observability/metrics"
	"github.com/wolfman30/rescue-triage/internal/triage"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

// BuildAIClient wires the Gemini client named by AI_CLIENT. A client that
// cannot be built is replaced by triage.UnavailableClient so every job fails
// with a configuration error instead of hanging. AI_FALLBACK=bedrock wraps it
// with a Bedrock client for outages. The returned closer is never nil.
func BuildAIClient(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger, m *metrics.TriageMetrics) (triage.AIClient, io.Closer, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var imageOpts []triage.ImageFetcherOption
	if cfg.ImagePrivateHosts {
		logger.Warn("image fetcher may reach private network addresses")
		imageOpts = append(imageOpts, triage.WithPrivateImageHosts())
	}
	images := triage.NewImageFetcher(cfg.ImageFetchTimeout, cfg.ImageMaxBytes, logger, imageOpts...)

	primary, closer, err := buildGeminiClient(ctx, cfg, images, logger, m)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.AIFallback {
	case "", "none":
		return primary, closer, nil
	case "bedrock":
		secondary, err := buildBedrockClient(cfg, awsCfg, images, logger, m)
		if err != nil {
			logger.Error("bedrock fallback not configured; using primary client only", "error", err)
			return primary, closer, nil
		}
		logger.Info("bedrock fallback enabled", "model", cfg.BedrockModelID)
		return triage.NewFallbackAIClient(primary, secondary, logger), closer, nil
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("bootstrap: unknown AI_FALLBACK %q", cfg.AIFallback)
	}
}

func buildGeminiClient(ctx context.Context, cfg *appconfig.Config, images *triage.ImageFetcher, logger *logging.Logger, m *metrics.TriageMetrics) (triage.AIClient, io.Closer, error) {
	geminiCfg := triage.GeminiConfig{
		APIKey:         cfg.GeminiAPIKey,
		Model:          cfg.GeminiModel,
		BaseURL:        cfg.GeminiBaseURL,
		ConnectTimeout: cfg.AIConnectTimeout,
		ReadTimeout:    cfg.AIReadTimeout,
	}

	switch cfg.AIClient {
	case "", "rest":
		client, err := triage.NewGeminiClient(geminiCfg, images, logger, m)
		if err != nil {
			logger.Error("gemini client not configured; triage jobs will fail", "error", err)
			return triage.UnavailableClient{Err: err}, nopCloser{}, nil
		}
		logger.Info("using gemini REST client", "model", geminiCfg.Model)
		return client, nopCloser{}, nil
	case "sdk":
		client, err := triage.NewGeminiSDKClient(ctx, geminiCfg, images, logger, m)
		if err != nil {
			logger.Error("gemini sdk client not configured; triage jobs will fail", "error", err)
			return triage.UnavailableClient{Err: err}, nopCloser{}, nil
		}
		logger.Info("using gemini SDK client", "model", geminiCfg.Model)
		return client, client, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown AI_CLIENT %q", cfg.AIClient)
	}
}

func buildBedrockClient(cfg *appconfig.Config, awsCfg *aws.Config, images *triage.ImageFetcher, logger *logging.Logger, m *metrics.TriageMetrics) (*triage.BedrockClient, error) {
	if awsCfg == nil {
		return nil, fmt.Errorf("bootstrap: bedrock fallback requires aws configuration")
	}
	return triage.NewBedrockClient(bedrockruntime.NewFromConfig(*awsCfg), triage.BedrockConfig{
		ModelID:   cfg.BedrockModelID,
		MaxTokens: int32(min(max(cfg.BedrockMaxTokens, 0), math.MaxInt32)),
		Timeout:   cfg.AIConnectTimeout + cfg.AIReadTimeout,
	}, images, logger, m)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// BuildOrchestratorOptions attaches metrics and, when RESPONSE_ARCHIVE_BUCKET
// is set, the S3 response archive.
func BuildOrchestratorOptions(cfg *appconfig.Config, awsCfg *aws.Config, m *metrics.TriageMetrics, logger *logging.Logger) []triage.OrchestratorOption {
	opts := []triage.OrchestratorOption{triage.WithOrchestratorMetrics(m)}
	if cfg == nil || cfg.ResponseArchiveBucket == "" || awsCfg == nil {
		return opts
	}
	client := s3.NewFromConfig(*awsCfg, func(o *s3.Options) {
		// LocalStack serves buckets by path, not virtual host.
		o.UsePathStyle = cfg.AWSEndpointOverride != ""
	})
	archive := triage.NewS3ResponseArchive(client, cfg.ResponseArchiveBucket, logger)
	return append(opts, triage.WithResponseArchive(archive))
}
