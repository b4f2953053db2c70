package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/inbound-coalescer/internal/agent"
	"github.com/wolfman30/inbound-coalescer/internal/delivery"
	"github.com/wolfman30/inbound-coalescer/internal/http/middleware"
	"github.com/wolfman30/inbound-coalescer/internal/ingest"
	"github.com/wolfman30/inbound-coalescer/internal/observability/metrics"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

const (
	maxEventBodyBytes = 1 << 20
	defaultChunkLimit = 50
)

type inboundCoalescer interface {
	OnMessage(ctx context.Context, evt ingest.InboundEvent) (ingest.Outcome, error)
	CloseSession(ctx context.Context, sessionKey string) error
}

// EventsHandler exposes the inbound message API and operator endpoints.
type EventsHandler struct {
	coalescer inboundCoalescer
	chunks    delivery.ChunkLister
	gatherer  prometheus.Gatherer
	logger    *logging.Logger
}

// NewEventsHandler builds the handler. chunks and gatherer are optional.
func NewEventsHandler(coalescer inboundCoalescer, chunks delivery.ChunkLister, gatherer prometheus.Gatherer, logger *logging.Logger) *EventsHandler {
	if coalescer == nil {
		panic("handlers: coalescer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &EventsHandler{coalescer: coalescer, chunks: chunks, gatherer: gatherer, logger: logger}
}

// Accept handles POST /v1/events.
func (h *EventsHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var evt ingest.InboundEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBodyBytes)).Decode(&evt); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	out, err := h.coalescer.OnMessage(r.Context(), evt)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, out)
	case errors.Is(err, ingest.ErrInvalidEvent):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, agent.ErrConfigNotFound):
		jsonError(w, "no agent configured for tenant", http.StatusNotFound)
	default:
		h.logger.Error("failed to accept inbound event", "error", err, "tenant_id", evt.TenantID, "session_key", out.SessionKey)
		jsonError(w, "inbound buffer unavailable", http.StatusServiceUnavailable)
	}
}

// CloseSession handles DELETE /v1/sessions/{sessionKey}.
func (h *EventsHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	key := sessionKeyParam(r)
	if key == "" {
		jsonError(w, "session key is required", http.StatusBadRequest)
		return
	}
	if err := h.coalescer.CloseSession(r.Context(), key); err != nil {
		if errors.Is(err, ingest.ErrInvalidEvent) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to close session", "error", err, "session_key", key)
		jsonError(w, "inbound buffer unavailable", http.StatusServiceUnavailable)
		return
	}
	operator, _ := middleware.OperatorFromContext(r.Context())
	h.logger.Info("session closed for operator takeover", "session_key", key, "operator", operator)
	w.WriteHeader(http.StatusNoContent)
}

// ListChunks handles GET /v1/sessions/{sessionKey}/chunks.
func (h *EventsHandler) ListChunks(w http.ResponseWriter, r *http.Request) {
	if h.chunks == nil {
		jsonError(w, "chunk history disabled", http.StatusNotFound)
		return
	}
	key := sessionKeyParam(r)
	if key == "" {
		jsonError(w, "session key is required", http.StatusBadRequest)
		return
	}
	limit := defaultChunkLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	chunks, err := h.chunks.ListBySession(r.Context(), key, limit)
	if err != nil {
		h.logger.Error("failed to list delivered chunks", "error", err, "session_key", key)
		jsonError(w, "failed to list chunks", http.StatusInternalServerError)
		return
	}
	if chunks == nil {
		chunks = []delivery.DeliveredChunk{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_key": key, "chunks": chunks})
}

// Stats handles GET /v1/stats.
func (h *EventsHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, metrics.TakeSnapshot(h.gatherer))
}

// HealthCheck handles GET /health.
func (h *EventsHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func sessionKeyParam(r *http.Request) string {
	raw := chi.URLParam(r, "sessionKey")
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	return strings.TrimSpace(raw)
}
