package flush

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/inbound-coalescer/internal/agent"
	"github.com/wolfman30/inbound-coalescer/internal/aggregate"
	"github.com/wolfman30/inbound-coalescer/internal/buffer"
	"github.com/wolfman30/inbound-coalescer/internal/chunker"
	"github.com/wolfman30/inbound-coalescer/internal/debounce"
	"github.com/wolfman30/inbound-coalescer/internal/delivery"
	"github.com/wolfman30/inbound-coalescer/internal/observability/metrics"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

// Outcome labels how a flush ended.
type Outcome string

const (
	OutcomeDelivered   Outcome = metrics.FlushDelivered
	OutcomeEmpty       Outcome = metrics.FlushEmpty
	OutcomeRescheduled Outcome = metrics.FlushRescheduled
	OutcomeNoReply     Outcome = metrics.FlushNoReply
	OutcomeNoConfig    Outcome = metrics.FlushNoConfig
	OutcomeFailed      Outcome = metrics.FlushFailed
)

// Replier produces a reply for an aggregated context; ok=false means abort silently.
type Replier interface {
	Reply(ctx context.Context, cfg *agent.Config, contextText string) (string, bool)
}

// ChunkDeliverer sends reply chunks in order with pacing.
type ChunkDeliverer interface {
	Deliver(ctx context.Context, taskID string, target delivery.Target, chunks []string, pacer *delivery.Pacer) delivery.Report
}

// Rescheduler re-registers a task under its own id.
type Rescheduler interface {
	Reschedule(ctx context.Context, task debounce.Task, delay time.Duration) (debounce.Task, error)
}

// IsStale reports whether a message reached the buffer after the task was
// scheduled, meaning the quiet period restarted while this task was in flight.
func IsStale(lastMessageAt, scheduledAt time.Time) bool {
	return lastMessageAt.After(scheduledAt)
}

// Processor runs one flush: read, race check, aggregate, infer, chunk,
// deliver, acknowledge.
type Processor struct {
	buffers     buffer.Store
	agents      agent.Provider
	replier     Replier
	deliverer   ChunkDeliverer
	rescheduler Rescheduler
	logger      *logging.Logger
	metrics     *metrics.CoalescerMetrics
	pacerOpts   []delivery.PacerOption
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithMetrics records flush outcomes.
func WithMetrics(m *metrics.CoalescerMetrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithPacerOptions applies options to every pacer built for a delivery.
func WithPacerOptions(opts ...delivery.PacerOption) ProcessorOption {
	return func(p *Processor) {
		p.pacerOpts = append(p.pacerOpts, opts...)
	}
}

func NewProcessor(buffers buffer.Store, agents agent.Provider, replier Replier, deliverer ChunkDeliverer, rescheduler Rescheduler, logger *logging.Logger, opts ...ProcessorOption) *Processor {
	if buffers == nil || agents == nil || replier == nil || deliverer == nil || rescheduler == nil {
		panic("flush: processor dependencies cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Processor{
		buffers:     buffers,
		agents:      agents,
		replier:     replier,
		deliverer:   deliverer,
		rescheduler: rescheduler,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Flush executes task. A returned error is transient infrastructure failure
// and the caller should retry; every other abort is reported via Outcome.
func (p *Processor) Flush(ctx context.Context, task debounce.Task) (Outcome, error) {
	log := p.logger.With("session_key", task.SessionKey, "task_id", task.ID, "tenant_id", task.TenantID)

	msgs, err := p.buffers.ReadAll(ctx, task.SessionKey)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("flush: read buffer: %w", err)
	}
	if len(msgs) == 0 {
		log.Debug("flush skipped: buffer empty")
		return p.done(OutcomeEmpty), nil
	}

	if last := buffer.LastArrival(msgs); IsStale(last, task.ScheduledAt) {
		next := task
		next.Attempt = 0
		if _, err := p.rescheduler.Reschedule(ctx, next, debounce.Delay(task.QuietMillis)); err != nil {
			return OutcomeFailed, fmt.Errorf("flush: reschedule stale task: %w", err)
		}
		log.Info("flush rescheduled: message arrived after scheduling", "last_message_at", last, "scheduled_at", task.ScheduledAt)
		return p.done(OutcomeRescheduled), nil
	}

	tenantID := task.TenantID
	if tenantID == "" {
		tenantID = msgs[len(msgs)-1].TenantID
	}
	cfg, err := p.agents.Get(ctx, tenantID)
	if errors.Is(err, agent.ErrConfigNotFound) {
		log.Error("flush aborted: agent configuration missing")
		return p.done(OutcomeNoConfig), nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("flush: load agent config: %w", err)
	}

	contextText := aggregate.Aggregate(msgs, aggregate.Options{Summary: cfg.SummaryVariant})
	outcome := p.respond(ctx, log, task.ID, cfg, targetFor(task.SessionKey, tenantID, msgs), contextText)
	if outcome != OutcomeDelivered {
		return p.done(outcome), nil
	}

	if err := p.buffers.Ack(ctx, task.SessionKey, buffer.IDs(msgs)); err != nil {
		return OutcomeFailed, fmt.Errorf("flush: clear buffer: %w", err)
	}
	log.Info("flush completed", "messages", len(msgs))
	return p.done(OutcomeDelivered), nil
}

// ProcessImmediate answers a single message without buffering, for agents
// with debounce disabled.
func (p *Processor) ProcessImmediate(ctx context.Context, cfg *agent.Config, msg buffer.Message) Outcome {
	taskID := "immediate:" + msg.ID
	log := p.logger.With("session_key", msg.SessionKey, "task_id", taskID, "tenant_id", msg.TenantID)
	if cfg == nil {
		log.Error("immediate reply aborted: agent configuration missing")
		return p.done(OutcomeNoConfig)
	}
	contextText := aggregate.Aggregate([]buffer.Message{msg}, aggregate.Options{Summary: cfg.SummaryVariant})
	target := targetFor(msg.SessionKey, msg.TenantID, []buffer.Message{msg})
	return p.done(p.respond(ctx, log, taskID, cfg, target, contextText))
}

func (p *Processor) respond(ctx context.Context, log *logging.Logger, taskID string, cfg *agent.Config, target delivery.Target, contextText string) Outcome {
	reply, ok := p.replier.Reply(ctx, cfg, contextText)
	if !ok {
		log.Warn("no reply produced; nothing delivered")
		return OutcomeNoReply
	}
	chunks := chunker.Split(reply, cfg.ChunkMaxLength)
	if len(chunks) == 0 {
		log.Warn("reply produced no chunks")
		return OutcomeNoReply
	}
	report := p.deliverer.Deliver(ctx, taskID, target, chunks, delivery.NewPacer(cfg.Pacing, p.pacerOpts...))
	log.Debug("reply chunks delivered", "total", len(chunks), "sent", report.Sent, "failed", report.Failed)
	return OutcomeDelivered
}

func (p *Processor) done(outcome Outcome) Outcome {
	p.metrics.ObserveFlush(string(outcome))
	return outcome
}

// targetFor addresses the reply to the most recent message's connection and chat.
func targetFor(sessionKey, tenantID string, msgs []buffer.Message) delivery.Target {
	target := delivery.Target{SessionKey: sessionKey, TenantID: tenantID}
	for i := len(msgs) - 1; i >= 0; i-- {
		if target.ConnectionID == "" {
			target.ConnectionID = msgs[i].ConnectionID
		}
		if target.ChatID == "" {
			target.ChatID = msgs[i].ChatID
		}
		if target.ConnectionID != "" && target.ChatID != "" {
			break
		}
	}
	return target
}
