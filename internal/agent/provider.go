package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/inbound-coalescer/internal/integrations/paramstore"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

// Provider loads a tenant's agent configuration. Implementations return
// ErrConfigNotFound for unknown tenants and a normalized copy otherwise.
type Provider interface {
	Get(ctx context.Context, tenantID string) (*Config, error)
}

// RedisStore persists agent configs as JSON under agent:config:<tenant>.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed config store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

func (s *RedisStore) key(tenantID string) string {
	return fmt.Sprintf("agent:config:%s", tenantID)
}

// Get retrieves a tenant config.
func (s *RedisStore) Get(ctx context.Context, tenantID string) (*Config, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("agent: get config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("agent: unmarshal config: %w", err)
	}
	if cfg.TenantID == "" {
		cfg.TenantID = tenantID
	}
	cfg.Normalize()
	return &cfg, nil
}

// Set saves a tenant config.
func (s *RedisStore) Set(ctx context.Context, cfg *Config) error {
	if cfg == nil || strings.TrimSpace(cfg.TenantID) == "" {
		return errors.New("agent: tenant id required")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("agent: marshal config: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(cfg.TenantID), data, 0).Err(); err != nil {
		return fmt.Errorf("agent: set config: %w", err)
	}
	return nil
}

// StaticProvider serves configs held in memory, typically loaded from a file.
type StaticProvider struct {
	configs map[string]*Config
}

// NewStaticProvider indexes configs by tenant id.
func NewStaticProvider(configs ...Config) *StaticProvider {
	p := &StaticProvider{configs: make(map[string]*Config, len(configs))}
	for i := range configs {
		cfg := configs[i]
		cfg.Normalize()
		if cfg.TenantID == "" {
			continue
		}
		p.configs[cfg.TenantID] = &cfg
	}
	return p
}

// LoadStaticProvider reads a JSON array of configs from path.
func LoadStaticProvider(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: read config file: %w", err)
	}
	var configs []Config
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("agent: parse config file: %w", err)
	}
	return NewStaticProvider(configs...), nil
}

func (p *StaticProvider) Get(_ context.Context, tenantID string) (*Config, error) {
	cfg, ok := p.configs[tenantID]
	if !ok {
		return nil, ErrConfigNotFound
	}
	return cfg.Clone(), nil
}

// ChainProvider asks each provider in order until one knows the tenant.
type ChainProvider []Provider

func (c ChainProvider) Get(ctx context.Context, tenantID string) (*Config, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		cfg, err := p.Get(ctx, tenantID)
		if errors.Is(err, ErrConfigNotFound) {
			continue
		}
		return cfg, err
	}
	return nil, ErrConfigNotFound
}

// SecretResolvingProvider fills Credentials.APIKey from Parameter Store when
// only a parameter name is configured.
type SecretResolvingProvider struct {
	next    Provider
	secrets paramstore.Getter
	logger  *logging.Logger
	once    sync.Once
}

// NewSecretResolvingProvider wraps next. A nil secrets getter disables resolution.
func NewSecretResolvingProvider(next Provider, secrets paramstore.Getter, logger *logging.Logger) *SecretResolvingProvider {
	if logger == nil {
		logger = logging.Default()
	}
	return &SecretResolvingProvider{next: next, secrets: secrets, logger: logger}
}

func (p *SecretResolvingProvider) Get(ctx context.Context, tenantID string) (*Config, error) {
	cfg, err := p.next.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	param := strings.TrimSpace(cfg.Credentials.APIKeyParameter)
	if cfg.Credentials.APIKey != "" || param == "" {
		return cfg, nil
	}
	if p.secrets == nil {
		p.once.Do(func() {
			p.logger.Warn("api key parameter configured but parameter store is unavailable", "tenant_id", tenantID)
		})
		return cfg, nil
	}
	value, err := p.secrets.GetParameter(ctx, param)
	if err != nil {
		// credentials stay empty; the inference registry reports them missing
		p.logger.Error("failed to resolve api key parameter", "tenant_id", tenantID, "parameter", param, "error", err)
		return cfg, nil
	}
	cfg.Credentials.APIKey = strings.TrimSpace(value)
	return cfg, nil
}
