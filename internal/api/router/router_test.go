package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/inbound-coalescer/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/inbound-coalescer/internal/http/middleware"
	"github.com/wolfman30/inbound-coalescer/internal/ingest"
	"github.com/wolfman30/inbound-coalescer/internal/observability/metrics"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

type noopCoalescer struct {
	closed []string
}

func (n *noopCoalescer) OnMessage(_ context.Context, evt ingest.InboundEvent) (ingest.Outcome, error) {
	return ingest.Outcome{SessionKey: "chat:" + evt.ChatID, Mode: ingest.ModeBuffered}, nil
}

func (n *noopCoalescer) CloseSession(_ context.Context, key string) error {
	n.closed = append(n.closed, key)
	return nil
}

const testSecret = "operator-secret"

func newTestRouter(t *testing.T, coalescer *noopCoalescer, limiter *httpmiddleware.RateLimiter) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.NewCoalescerMetrics(reg).ObserveInbound("text", "buffered")
	logger := logging.Default()
	return New(&Config{
		Logger:         logger,
		Events:         handlers.NewEventsHandler(coalescer, nil, reg, logger),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		InboundLimiter: limiter,
		OperatorSecret: testSecret,
	})
}

func operatorToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, &noopCoalescer{}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, &noopCoalescer{}, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "coalescer_inbound_messages_total") {
		t.Fatalf("expected coalescer metrics in exposition")
	}
}

func TestRouterEventsRateLimited(t *testing.T) {
	router := newTestRouter(t, &noopCoalescer{}, httpmiddleware.NewRateLimiter(0, 1))
	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(`{"tenant_id":"clinic","chat_id":"1"}`))
		req.Header.Set(httpmiddleware.TenantHeader, "clinic")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := post(); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestRouterOperatorRoutesRequireToken(t *testing.T) {
	coalescer := &noopCoalescer{}
	router := newTestRouter(t, coalescer, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/sessions/chat:1", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodDelete, "/v1/sessions/chat:1", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if len(coalescer.closed) != 1 || coalescer.closed[0] != "chat:1" {
		t.Fatalf("unexpected closed sessions %#v", coalescer.closed)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for stats, got %d", rr.Code)
	}
}
