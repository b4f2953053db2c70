// Package ingest accepts inbound conversational messages and routes them into
// the per-conversation buffer and debounce timer, or straight to a reply when
// the tenant has debouncing turned off.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/inbound-coalescer/internal/agent"
	"github.com/wolfman30/inbound-coalescer/internal/buffer"
	"github.com/wolfman30/inbound-coalescer/internal/debounce"
	"github.com/wolfman30/inbound-coalescer/internal/flush"
	"github.com/wolfman30/inbound-coalescer/internal/observability/metrics"
	"github.com/wolfman30/inbound-coalescer/internal/session"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

const defaultSafetyMargin = 60 * time.Second

var (
	// ErrInvalidEvent marks an inbound event missing required routing fields.
	ErrInvalidEvent = errors.New("ingest: invalid event")
	// ErrBufferUnavailable wraps buffer and scheduler failures on the inbound path.
	ErrBufferUnavailable = errors.New("ingest: buffer unavailable")
)

// Mode reports how an inbound message was handled.
type Mode string

const (
	ModeBuffered  Mode = "buffered"
	ModeImmediate Mode = "immediate"
	ModeDuplicate Mode = "duplicate"
)

// InboundEvent is one message as received from a channel webhook.
type InboundEvent struct {
	Hints        session.Hints `json:"hints"`
	Kind         buffer.Kind   `json:"kind"`
	Text         string        `json:"text,omitempty"`
	MediaURL     string        `json:"media_url,omitempty"`
	MediaMIME    string        `json:"media_mime,omitempty"`
	Transcript   string        `json:"transcript,omitempty"`
	TenantID     string        `json:"tenant_id"`
	ConnectionID string        `json:"connection_id"`
	ChatID       string        `json:"chat_id"`
	ReceivedAt   time.Time     `json:"received_at"`
}

// Outcome is the result of accepting one event.
type Outcome struct {
	SessionKey string `json:"session_key"`
	Mode       Mode   `json:"mode"`
}

// Arming is the debounce surface the coalescer drives.
type Arming interface {
	ArmOrExtend(ctx context.Context, sessionKey, tenantID string, quietMillis int64) (debounce.Task, error)
	Cancel(ctx context.Context, sessionKey string) error
}

// ImmediateProcessor replies to a single message without buffering.
type ImmediateProcessor interface {
	ProcessImmediate(ctx context.Context, cfg *agent.Config, msg buffer.Message) flush.Outcome
}

// DuplicateGuard remembers provider message ids already accepted.
type DuplicateGuard interface {
	MarkProcessed(ctx context.Context, tenantID, eventID string) (bool, error)
}

// Coalescer is the inbound entry point.
type Coalescer struct {
	resolver   *session.Resolver
	agents     agent.Provider
	buffers    buffer.Store
	debouncer  Arming
	immediate  ImmediateProcessor
	duplicates DuplicateGuard
	metrics    *metrics.CoalescerMetrics
	logger     *logging.Logger
	margin     time.Duration
	now        func() time.Time
	newID      func() string
}

// Option customizes a Coalescer.
type Option func(*Coalescer)

// WithSafetyMargin sets how long buffers outlive the quiet period.
func WithSafetyMargin(d time.Duration) Option {
	return func(c *Coalescer) {
		if d >= 0 {
			c.margin = d
		}
	}
}

// WithDuplicateGuard drops events whose message id was already accepted.
func WithDuplicateGuard(g DuplicateGuard) Option {
	return func(c *Coalescer) {
		c.duplicates = g
	}
}

// WithMetrics counts inbound messages by kind and mode.
func WithMetrics(m *metrics.CoalescerMetrics) Option {
	return func(c *Coalescer) {
		c.metrics = m
	}
}

// WithClock overrides the server clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coalescer) {
		if now != nil {
			c.now = now
		}
	}
}

// WithResolver replaces the session key resolver.
func WithResolver(r *session.Resolver) Option {
	return func(c *Coalescer) {
		if r != nil {
			c.resolver = r
		}
	}
}

// NewCoalescer wires the inbound path.
func NewCoalescer(agents agent.Provider, buffers buffer.Store, debouncer Arming, immediate ImmediateProcessor, logger *logging.Logger, opts ...Option) *Coalescer {
	if agents == nil || buffers == nil || debouncer == nil || immediate == nil {
		panic("ingest: coalescer dependencies cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Coalescer{
		resolver:  session.NewResolver(nil, nil),
		agents:    agents,
		buffers:   buffers,
		debouncer: debouncer,
		immediate: immediate,
		logger:    logger,
		margin:    defaultSafetyMargin,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMessage accepts one inbound event.
func (c *Coalescer) OnMessage(ctx context.Context, evt InboundEvent) (Outcome, error) {
	evt.TenantID = strings.TrimSpace(evt.TenantID)
	evt.ChatID = strings.TrimSpace(evt.ChatID)
	if evt.TenantID == "" {
		return Outcome{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidEvent)
	}
	if evt.ChatID == "" {
		return Outcome{}, fmt.Errorf("%w: chat_id is required", ErrInvalidEvent)
	}
	if evt.Kind == "" {
		evt.Kind = buffer.KindText
	}
	if !evt.Kind.Valid() {
		return Outcome{}, fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, evt.Kind)
	}

	hints := evt.Hints
	if hints == (session.Hints{}) {
		hints.ChatID = evt.ChatID
	}
	key := c.resolver.Key(hints)
	out := Outcome{SessionKey: key}
	log := c.logger.With("session_key", key, "tenant_id", evt.TenantID)

	cfg, err := c.agents.Get(ctx, evt.TenantID)
	if err != nil {
		return out, err
	}
	if cfg == nil {
		return out, agent.ErrConfigNotFound
	}

	if providerID := providerMessageID(evt.Hints); providerID != "" && c.duplicates != nil {
		fresh, err := c.duplicates.MarkProcessed(ctx, evt.TenantID, providerID)
		if err != nil {
			log.Warn("duplicate check failed; accepting event", "error", err, "message_id", providerID)
		} else if !fresh {
			log.Info("duplicate inbound event ignored", "message_id", providerID)
			out.Mode = ModeDuplicate
			c.metrics.ObserveInbound(string(evt.Kind), string(out.Mode))
			return out, nil
		}
	}

	msg := c.toMessage(key, evt)

	if !cfg.DebounceEnabled() {
		out.Mode = ModeImmediate
		c.metrics.ObserveInbound(string(evt.Kind), string(out.Mode))
		outcome := c.immediate.ProcessImmediate(ctx, cfg, msg)
		log.Info("inbound message answered immediately", "outcome", outcome)
		return out, nil
	}

	ttl := debounce.Delay(cfg.QuietPeriodMs) + c.margin
	if err := c.buffers.Append(ctx, key, msg, ttl); err != nil {
		return out, fmt.Errorf("%w: append: %v", ErrBufferUnavailable, err)
	}
	task, err := c.debouncer.ArmOrExtend(ctx, key, evt.TenantID, cfg.QuietPeriodMs)
	if err != nil {
		return out, fmt.Errorf("%w: arm: %v", ErrBufferUnavailable, err)
	}

	out.Mode = ModeBuffered
	c.metrics.ObserveInbound(string(evt.Kind), string(out.Mode))
	log.Debug("inbound message buffered", "message_id", msg.ID, "kind", msg.Kind, "fire_at", task.FireAt)
	return out, nil
}

// CloseSession cancels the pending flush and drops the buffered messages,
// for operator takeover of a conversation.
func (c *Coalescer) CloseSession(ctx context.Context, sessionKey string) error {
	sessionKey = strings.TrimSpace(sessionKey)
	if sessionKey == "" {
		return fmt.Errorf("%w: session key is required", ErrInvalidEvent)
	}
	if err := c.debouncer.Cancel(ctx, sessionKey); err != nil {
		return fmt.Errorf("%w: cancel: %v", ErrBufferUnavailable, err)
	}
	if err := c.buffers.Clear(ctx, sessionKey); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrBufferUnavailable, err)
	}
	c.logger.Info("session closed", "session_key", sessionKey)
	return nil
}

func (c *Coalescer) toMessage(key string, evt InboundEvent) buffer.Message {
	now := c.now()
	ts := evt.ReceivedAt
	if ts.IsZero() {
		ts = now
	}
	id := providerMessageID(evt.Hints)
	if id == "" {
		id = c.newID()
	}
	msg := buffer.Message{
		ID:           id,
		Timestamp:    ts.UTC(),
		BufferedAt:   now.UTC(),
		SessionKey:   key,
		TenantID:     evt.TenantID,
		ConnectionID: strings.TrimSpace(evt.ConnectionID),
		ChatID:       evt.ChatID,
		Kind:         evt.Kind,
		Text:         evt.Text,
		Transcript:   evt.Transcript,
	}
	if evt.MediaURL != "" || evt.MediaMIME != "" {
		msg.Media = &buffer.Media{MIME: evt.MediaMIME, Locator: evt.MediaURL}
	}
	return msg
}

func providerMessageID(h session.Hints) string {
	if v := strings.TrimSpace(h.MessageID); v != "" {
		return v
	}
	return strings.TrimSpace(h.ID)
}
