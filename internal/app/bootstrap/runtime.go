package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/inbound-coalescer/internal/agent"
	"github.com/wolfman30/inbound-coalescer/internal/buffer"
	appconfig "github.com/wolfman30/inbound-coalescer/internal/config"
	"github.com/wolfman30/inbound-coalescer/internal/integrations/paramstore"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildDBPool opens the Postgres pool, or returns nil when DATABASE_URL is unset.
func BuildDBPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// BuildBufferStore picks the Redis buffer when a client is available.
func BuildBufferStore(redisClient *redis.Client, logger *logging.Logger) buffer.Store {
	if redisClient == nil {
		if logger == nil {
			logger = logging.Default()
		}
		logger.Warn("redis not configured; conversation buffers are process-local")
		return buffer.NewMemoryStore()
	}
	return buffer.NewRedisStore(redisClient, logger)
}

// BuildSecrets returns a cached Parameter Store getter, or nil when disabled.
func BuildSecrets(cfg *appconfig.Config, awsCfg *aws.Config) paramstore.Getter {
	if cfg == nil || !cfg.ParameterStoreEnabled || awsCfg == nil {
		return nil
	}
	client, err := paramstore.New(ssm.NewFromConfig(*awsCfg))
	if err != nil {
		return nil
	}
	return paramstore.NewCachingGetter(client, cfg.ParameterCacheTTL)
}

// BuildAgentProvider layers the config file over the Redis store and resolves
// API key parameters through secrets.
func BuildAgentProvider(cfg *appconfig.Config, redisClient *redis.Client, secrets paramstore.Getter, logger *logging.Logger) (agent.Provider, error) {
	if logger == nil {
		logger = logging.Default()
	}
	var chain agent.ChainProvider
	if cfg != nil && strings.TrimSpace(cfg.AgentConfigFile) != "" {
		static, err := agent.LoadStaticProvider(cfg.AgentConfigFile)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		chain = append(chain, static)
	}
	if redisClient != nil {
		chain = append(chain, agent.NewRedisStore(redisClient))
	}
	if len(chain) == 0 {
		logger.Warn("no agent configuration source; every tenant will be rejected")
	}
	return agent.NewSecretResolvingProvider(chain, secrets, logger), nil
}
