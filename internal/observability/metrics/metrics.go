package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "coalescer"

	FlushDelivered   = "delivered"
	FlushEmpty       = "empty"
	FlushRescheduled = "rescheduled"
	FlushNoReply     = "no_reply"
	FlushNoConfig    = "no_config"
	FlushFailed      = "failed"
	FlushAbandoned   = "abandoned"
)

// CoalescerMetrics exposes counters and histograms for the coalescing pipeline.
// A nil *CoalescerMetrics is a valid no-op.
type CoalescerMetrics struct {
	inboundTotal     *prometheus.CounterVec
	flushTotal       *prometheus.CounterVec
	chunksTotal      *prometheus.CounterVec
	inferenceLatency *prometheus.HistogramVec
	deliveryDuration prometheus.Histogram
}

func NewCoalescerMetrics(reg prometheus.Registerer) *CoalescerMetrics {
	m := &CoalescerMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound message fragments by content kind and handling mode",
		}, []string{"kind", "mode"}),
		flushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_total",
			Help:      "Flush task executions by outcome",
		}, []string{"outcome"}),
		chunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Reply chunks handed to the transport by result",
		}, []string{"status"}),
		inferenceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_latency_seconds",
			Help:      "Latency of inference engine calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"provider", "status"}),
		deliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Wall time to deliver all chunks of one reply, pacing included",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.flushTotal, m.chunksTotal, m.inferenceLatency, m.deliveryDuration)
	return m
}

func (m *CoalescerMetrics) ObserveInbound(kind, mode string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(kind, mode).Inc()
}

func (m *CoalescerMetrics) ObserveFlush(outcome string) {
	if m == nil {
		return
	}
	m.flushTotal.WithLabelValues(outcome).Inc()
}

func (m *CoalescerMetrics) ObserveChunk(sent bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !sent {
		status = "failed"
	}
	m.chunksTotal.WithLabelValues(status).Inc()
}

func (m *CoalescerMetrics) ObserveInference(provider string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.inferenceLatency.WithLabelValues(provider, status).Observe(d.Seconds())
}

func (m *CoalescerMetrics) ObserveDelivery(d time.Duration) {
	if m == nil {
		return
	}
	m.deliveryDuration.Observe(d.Seconds())
}
