package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/inbound-coalescer/internal/observability/metrics"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

// Result is the outcome of sending one chunk.
type Result struct {
	Sequence           int
	TransportMessageID string
	Err                error
}

// Report summarizes one paced delivery.
type Report struct {
	Results  []Result
	Sent     int
	Failed   int
	Duration time.Duration
}

// Deliverer sends chunks strictly in order, waiting between them, and records
// every successful send.
type Deliverer struct {
	transport Transport
	recorder  ChunkRecorder
	logger    *logging.Logger
	metrics   *metrics.CoalescerMetrics
	now       func() time.Time
	newID     func() string
}

// NewDeliverer builds a deliverer. recorder may be nil to skip persistence.
func NewDeliverer(transport Transport, recorder ChunkRecorder, logger *logging.Logger, m *metrics.CoalescerMetrics) *Deliverer {
	if transport == nil {
		panic("delivery: transport cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		transport: transport,
		recorder:  recorder,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Deliver sends chunks to target. A failed chunk is logged and skipped; the
// pacer waits between chunks but not after the last one. Delivery stops early
// only when ctx is cancelled.
func (d *Deliverer) Deliver(ctx context.Context, taskID string, target Target, chunks []string, pacer *Pacer) Report {
	start := d.now()
	report := Report{Results: make([]Result, 0, len(chunks))}
	total := len(chunks)
	log := d.logger.With("session_key", target.SessionKey, "task_id", taskID, "tenant_id", target.TenantID)

	for i, text := range chunks {
		seq := i + 1
		msgID, err := d.transport.Send(ctx, target, text)
		result := Result{Sequence: seq, TransportMessageID: msgID, Err: err}
		report.Results = append(report.Results, result)
		d.metrics.ObserveChunk(err == nil)

		if err != nil {
			report.Failed++
			log.Error("chunk send failed", "chunk", seq, "total", total, "error", err)
		} else {
			report.Sent++
			d.record(ctx, log, DeliveredChunk{
				ID:                 d.newID(),
				TaskID:             taskID,
				SessionKey:         target.SessionKey,
				TenantID:           target.TenantID,
				ConnectionID:       target.ConnectionID,
				ChatID:             target.ChatID,
				Sequence:           seq,
				Total:              total,
				Text:               text,
				TransportMessageID: msgID,
				SentAt:             d.now().UTC(),
			})
		}

		if seq < total && pacer != nil {
			if err := pacer.Wait(ctx); err != nil {
				log.Warn("delivery interrupted", "chunk", seq, "total", total, "error", err)
				break
			}
		}
	}

	report.Duration = d.now().Sub(start)
	d.metrics.ObserveDelivery(report.Duration)
	log.Info("reply delivered", "sent", report.Sent, "failed", report.Failed, "total", total, "duration_ms", report.Duration.Milliseconds())
	return report
}

func (d *Deliverer) record(ctx context.Context, log *logging.Logger, chunk DeliveredChunk) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.Record(ctx, chunk); err != nil {
		log.Error("failed to record delivered chunk", "chunk", chunk.Sequence, "error", err)
	}
}
