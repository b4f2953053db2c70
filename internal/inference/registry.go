package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/wolfman30/inbound-coalescer/internal/agent"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

var (
	// ErrMissingCredentials means the selected provider has no usable credentials.
	ErrMissingCredentials = errors.New("inference: missing model credentials")
	// ErrEmptyReply means the engine answered without any text.
	ErrEmptyReply = errors.New("inference: empty reply")
	// ErrUnknownProvider means the configured provider is not supported.
	ErrUnknownProvider = errors.New("inference: unknown provider")
)

// GeminiFactory builds a Gemini-backed client for an API key.
type GeminiFactory func(ctx context.Context, apiKey, modelID string) (LLMClient, error)

// Registry resolves the client a tenant's agent config asks for. Bedrock uses
// the platform AWS credentials; Gemini clients are created per API key and cached.
type Registry struct {
	bedrock        LLMClient
	bedrockModelID string
	geminiAPIKey   string
	geminiModelID  string
	newGemini      GeminiFactory
	logger         *logging.Logger

	mu     sync.Mutex
	gemini map[string]LLMClient
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBedrock registers the platform Bedrock client and its default model.
func WithBedrock(client LLMClient, defaultModelID string) RegistryOption {
	return func(r *Registry) {
		r.bedrock = client
		r.bedrockModelID = strings.TrimSpace(defaultModelID)
	}
}

// WithGemini sets the platform Gemini key and model used when a tenant has none.
func WithGemini(defaultAPIKey, defaultModelID string) RegistryOption {
	return func(r *Registry) {
		r.geminiAPIKey = strings.TrimSpace(defaultAPIKey)
		if strings.TrimSpace(defaultModelID) != "" {
			r.geminiModelID = strings.TrimSpace(defaultModelID)
		}
	}
}

// WithGeminiFactory replaces the Gemini constructor.
func WithGeminiFactory(factory GeminiFactory) RegistryOption {
	return func(r *Registry) {
		if factory != nil {
			r.newGemini = factory
		}
	}
}

// NewRegistry builds an empty registry; providers are added with options.
func NewRegistry(logger *logging.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Registry{
		geminiModelID: defaultGeminiModel,
		newGemini: func(ctx context.Context, apiKey, modelID string) (LLMClient, error) {
			return NewGeminiLLMClient(ctx, apiKey, modelID)
		},
		logger: logger,
		gemini: make(map[string]LLMClient),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ClientFor returns the client for cfg's primary provider, wrapped with the
// fallback provider when one is configured and available.
func (r *Registry) ClientFor(ctx context.Context, cfg *agent.Config) (LLMClient, error) {
	if cfg == nil {
		return nil, agent.ErrConfigNotFound
	}
	primary, err := r.providerClient(ctx, cfg.Model.Provider, cfg.Model.ModelID, cfg.Credentials.APIKey)
	if err != nil {
		return nil, err
	}
	fallbackProvider := cfg.Model.FallbackProvider
	if fallbackProvider == "" || fallbackProvider == cfg.Model.Provider {
		return primary, nil
	}
	fallback, err := r.providerClient(ctx, fallbackProvider, cfg.Model.FallbackModelID, cfg.Credentials.APIKey)
	if err != nil {
		r.logger.Warn("fallback provider unavailable", "tenant_id", cfg.TenantID, "provider", fallbackProvider, "error", err)
		return primary, nil
	}
	log := r.logger.With("tenant_id", cfg.TenantID, "provider", cfg.Model.Provider, "fallback_provider", fallbackProvider)
	return NewFallbackLLMClient(primary, fallback, log), nil
}

func (r *Registry) providerClient(ctx context.Context, provider, modelID, apiKey string) (LLMClient, error) {
	modelID = strings.TrimSpace(modelID)
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case agent.ProviderBedrock, "":
		if r.bedrock == nil {
			return nil, fmt.Errorf("%w: bedrock client not configured", ErrMissingCredentials)
		}
		if modelID == "" {
			modelID = r.bedrockModelID
		}
		if modelID == "" {
			return nil, fmt.Errorf("%w: bedrock model id not configured", ErrMissingCredentials)
		}
		return boundClient{client: r.bedrock, modelID: modelID}, nil
	case agent.ProviderGemini:
		key := strings.TrimSpace(apiKey)
		if key == "" {
			key = r.geminiAPIKey
		}
		if key == "" {
			return nil, fmt.Errorf("%w: gemini api key not configured", ErrMissingCredentials)
		}
		if modelID == "" {
			modelID = r.geminiModelID
		}
		client, err := r.geminiClient(ctx, key)
		if err != nil {
			return nil, err
		}
		return boundClient{client: client, modelID: modelID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

func (r *Registry) geminiClient(ctx context.Context, apiKey string) (LLMClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.gemini[apiKey]; ok {
		return client, nil
	}
	client, err := r.newGemini(ctx, apiKey, r.geminiModelID)
	if err != nil {
		return nil, err
	}
	r.gemini[apiKey] = client
	return client, nil
}

// Close releases cached provider clients.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, client := range r.gemini {
		if closer, ok := client.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		delete(r.gemini, key)
	}
	return errors.Join(errs...)
}
