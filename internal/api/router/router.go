package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/inbound-coalescer/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/inbound-coalescer/internal/http/middleware"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Events         *handlers.EventsHandler
	MetricsHandler http.Handler

	// InboundLimiter throttles POST /v1/events per tenant (optional).
	InboundLimiter *httpmiddleware.RateLimiter
	// OperatorSecret signs tokens for the operator endpoints; empty disables them.
	OperatorSecret string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", cfg.Events.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(inbound chi.Router) {
			if cfg.InboundLimiter != nil {
				inbound.Use(httpmiddleware.RateLimit(cfg.InboundLimiter, httpmiddleware.TenantOrIP))
			}
			inbound.Post("/events", cfg.Events.Accept)
		})

		v1.Group(func(operator chi.Router) {
			operator.Use(httpmiddleware.OperatorJWT(cfg.OperatorSecret))
			operator.Delete("/sessions/{sessionKey}", cfg.Events.CloseSession)
			operator.Get("/sessions/{sessionKey}/chunks", cfg.Events.ListChunks)
			operator.Get("/stats", cfg.Events.Stats)
		})
	})

	return r
}
