package triage

import (
	"context"

	"github.com/wolfman30/rescue-triage/pkg/logging"
)

// FallbackAIClient retries a request on a secondary client when the primary
// cannot be reached or fails server-side. Rate limits and malformed output
// are returned as is.
type FallbackAIClient struct {
	primary   AIClient
	secondary AIClient
	logger    *logging.Logger
}

var _ AIClient = (*FallbackAIClient)(nil)

// NewFallbackAIClient wraps primary. A nil secondary disables the fallback.
func NewFallbackAIClient(primary, secondary AIClient, logger *logging.Logger) *FallbackAIClient {
	if primary == nil {
		panic("triage: primary ai client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackAIClient{primary: primary, secondary: secondary, logger: logger}
}

func (c *FallbackAIClient) Generate(ctx context.Context, prompt, imageURL string) ([]byte, error) {
	raw, err := c.primary.Generate(ctx, prompt, imageURL)
	if err == nil || c.secondary == nil || ctx.Err() != nil {
		return raw, err
	}
	kind := KindOf(classifyClientError(err))
	if kind != KindAPIConnection && kind != KindAPIServer {
		return nil, err
	}

	c.logger.Warn("primary ai client failed, trying fallback", "error", err, "kind", string(kind))
	raw, fallbackErr := c.secondary.Generate(ctx, prompt, imageURL)
	if fallbackErr != nil {
		c.logger.Error("fallback ai client also failed", "primary_error", err, "fallback_error", fallbackErr)
		return nil, fallbackErr
	}
	c.logger.Info("fallback ai client succeeded")
	return raw, nil
}
