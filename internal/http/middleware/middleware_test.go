package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

func TestRateLimiterPerKey(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	if !rl.Allow("tenant:a") || !rl.Allow("tenant:a") {
		t.Fatalf("expected burst of 2 to pass")
	}
	if rl.Allow("tenant:a") {
		t.Fatalf("expected third request to be limited")
	}
	if !rl.Allow("tenant:b") {
		t.Fatalf("expected other tenant to have its own bucket")
	}

	now = now.Add(time.Second)
	if !rl.Allow("tenant:a") {
		t.Fatalf("expected refill after one second")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimit(NewRateLimiter(0, 1), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	send := func(tenant string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
		req.Header.Set(TenantHeader, tenant)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("clinic"); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	if code := send("clinic"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send("other"); code != http.StatusAccepted {
		t.Fatalf("expected other tenant to pass, got %d", code)
	}
}

func TestTenantOrIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := TenantOrIP(req); got != "ip:10.0.0.1:1234" {
		t.Fatalf("unexpected key %q", got)
	}
	req.Header.Set("X-Real-Ip", "1.2.3.4")
	if got := TenantOrIP(req); got != "ip:1.2.3.4" {
		t.Fatalf("unexpected key %q", got)
	}
	req.Header.Set(TenantHeader, " clinic ")
	if got := TenantOrIP(req); got != "tenant:clinic" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	handler := RequestLogger(logging.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-1")
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status to pass through, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
}
