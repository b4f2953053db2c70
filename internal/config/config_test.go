package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("BUFFER_SAFETY_MARGIN", "")
	t.Setenv("FLUSH_MAX_ATTEMPTS", "")
	t.Setenv("CHUNK_STORE", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.BufferSafetyMargin != time.Minute {
		t.Fatalf("expected 1m buffer safety margin, got %s", cfg.BufferSafetyMargin)
	}
	if cfg.FlushMaxAttempts != 3 {
		t.Fatalf("expected 3 flush attempts, got %d", cfg.FlushMaxAttempts)
	}
	if cfg.FlushRetryBaseDelay != 2*time.Second {
		t.Fatalf("expected 2s retry base delay, got %s", cfg.FlushRetryBaseDelay)
	}
	if cfg.FlushVisibilityTimeout != 5*time.Minute {
		t.Fatalf("expected 5m flush visibility timeout, got %s", cfg.FlushVisibilityTimeout)
	}
	if cfg.ChunkStore != "memory" {
		t.Fatalf("expected memory chunk store, got %s", cfg.ChunkStore)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("WORKER_COUNT", "6")
	t.Setenv("BUFFER_SAFETY_MARGIN", "45s")
	t.Setenv("PARAMETER_STORE_ENABLED", "1")
	t.Setenv("CHUNK_STORE", " Postgres ")
	t.Setenv("INBOUND_RATE_LIMIT", "2.5")
	t.Setenv("REDIS_TLS", "true")

	cfg := Load()
	if cfg.Port != "9090" || cfg.LogFormat != "text" {
		t.Fatalf("unexpected port/format: %s %s", cfg.Port, cfg.LogFormat)
	}
	if !cfg.UseMemoryQueue || cfg.WorkerCount != 6 {
		t.Fatalf("unexpected queue settings: %+v", cfg)
	}
	if cfg.BufferSafetyMargin != 45*time.Second {
		t.Fatalf("expected 45s safety margin, got %s", cfg.BufferSafetyMargin)
	}
	if !cfg.ParameterStoreEnabled {
		t.Fatal("expected parameter store enabled")
	}
	if cfg.ChunkStore != "postgres" {
		t.Fatalf("expected normalized chunk store, got %q", cfg.ChunkStore)
	}
	if cfg.InboundRateLimit != 2.5 {
		t.Fatalf("expected rate 2.5, got %v", cfg.InboundRateLimit)
	}
	if !cfg.RedisTLS {
		t.Fatal("expected redis tls enabled")
	}
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("SCHEDULER_POLL_INTERVAL", "soon")
	cfg := Load()
	if cfg.WorkerCount != 2 {
		t.Fatalf("expected fallback worker count, got %d", cfg.WorkerCount)
	}
	if cfg.SchedulerPollInterval != 500*time.Millisecond {
		t.Fatalf("expected fallback poll interval, got %s", cfg.SchedulerPollInterval)
	}
}
