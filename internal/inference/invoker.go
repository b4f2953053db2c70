package inference

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wolfman30/inbound-coalescer/internal/agent"
	"github.com/wolfman30/inbound-coalescer/internal/observability/metrics"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

// ClientSource resolves the model client for an agent config.
type ClientSource interface {
	ClientFor(ctx context.Context, cfg *agent.Config) (LLMClient, error)
}

// Invoker runs one inference call per flush.
type Invoker struct {
	clients ClientSource
	logger  *logging.Logger
	metrics *metrics.CoalescerMetrics
}

func NewInvoker(clients ClientSource, logger *logging.Logger, m *metrics.CoalescerMetrics) *Invoker {
	if clients == nil {
		panic("inference: client source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Invoker{clients: clients, logger: logger, metrics: m}
}

// Reply asks the configured model to answer contextText. ok is false when no
// reply should be delivered: missing credentials, engine failure, timeout or
// an empty answer. Failures are logged here and never surface to the user.
func (i *Invoker) Reply(ctx context.Context, cfg *agent.Config, contextText string) (string, bool) {
	if cfg == nil {
		i.logger.Error("inference skipped: no agent configuration")
		return "", false
	}
	if strings.TrimSpace(contextText) == "" {
		i.logger.Warn("inference skipped: empty context", "tenant_id", cfg.TenantID)
		return "", false
	}

	client, err := i.clients.ClientFor(ctx, cfg)
	if err != nil {
		i.logger.Error("inference unavailable", "tenant_id", cfg.TenantID, "provider", cfg.Model.Provider, "error", err)
		return "", false
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.ModelTimeout())
	defer cancel()

	start := time.Now()
	resp, err := client.Complete(callCtx, LLMRequest{
		System:      BuildSystemPrompt(cfg),
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: contextText}},
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.SamplingTemperature(),
		TopP:        cfg.Model.TopP,
	})
	elapsed := time.Since(start)
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = ErrEmptyReply
	}
	i.metrics.ObserveInference(cfg.Model.Provider, err == nil, elapsed)
	if err != nil {
		attrs := []any{"tenant_id", cfg.TenantID, "provider", cfg.Model.Provider, "latency_ms", elapsed.Milliseconds(), "error", err}
		if errors.Is(err, context.DeadlineExceeded) {
			attrs = append(attrs, "timeout", cfg.ModelTimeout())
		}
		i.logger.Error("inference failed", attrs...)
		return "", false
	}

	i.logger.Debug("inference completed",
		"tenant_id", cfg.TenantID,
		"provider", cfg.Model.Provider,
		"latency_ms", elapsed.Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return resp.Text, true
}
