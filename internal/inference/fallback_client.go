package inference

import (
	"context"
	"errors"

	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

// FallbackLLMClient sends a request to a second provider when the tenant's
// primary provider fails. Both calls share the caller's deadline.
type FallbackLLMClient struct {
	primary  LLMClient
	fallback LLMClient
	logger   *logging.Logger
}

// NewFallbackLLMClient pairs primary with fallback. A nil fallback passes
// primary's result through unchanged.
func NewFallbackLLMClient(primary, fallback LLMClient, logger *logging.Logger) *FallbackLLMClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackLLMClient{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, primaryErr := c.primary.Complete(ctx, req)
	if primaryErr == nil || c.fallback == nil {
		return resp, primaryErr
	}
	// a spent deadline would fail the second provider too
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.logger.Warn("reply timed out on primary model; fallback skipped", "error", primaryErr)
		return LLMResponse{}, primaryErr
	}

	c.logger.Warn("primary model failed; asking fallback model", "error", primaryErr)
	resp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		return LLMResponse{}, errors.Join(primaryErr, fallbackErr)
	}
	c.logger.Info("reply produced by fallback model")
	return resp, nil
}
