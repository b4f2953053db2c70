package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	LogFormat      string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string

	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	FlushQueueURL        string
	DeliveredChunksTable string
	ChunkStore           string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string

	TelnyxAPIKey             string
	TelnyxMessagingProfileID string
	TelnyxBaseURL            string

	// Debounce and flush tuning
	BufferSafetyMargin    time.Duration
	SchedulerPollInterval time.Duration
	FlushMaxAttempts      int
	FlushRetryBaseDelay   time.Duration

	// FlushVisibilityTimeout must exceed the slowest flush (model timeout plus paced delivery).
	FlushVisibilityTimeout time.Duration

	InboundRateLimit float64
	InboundRateBurst int

	// AdminJWTSecret signs operator tokens for session takeover and stats.
	AdminJWTSecret string
	// ParameterStoreEnabled resolves tenant API key parameter names through SSM.
	ParameterStoreEnabled bool
	ParameterCacheTTL     time.Duration

	// AgentConfigFile points at a JSON file of tenant agent configs used when Redis is not configured.
	AgentConfigFile string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		FlushQueueURL:        getEnv("FLUSH_QUEUE_URL", ""),
		DeliveredChunksTable: getEnv("DELIVERED_CHUNKS_TABLE", "delivered_chunks"),
		ChunkStore:           strings.ToLower(strings.TrimSpace(getEnv("CHUNK_STORE", "memory"))),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		TelnyxBaseURL:            getEnv("TELNYX_BASE_URL", "https://api.telnyx.com/v2"),

		BufferSafetyMargin:     getEnvAsDuration("BUFFER_SAFETY_MARGIN", time.Minute),
		SchedulerPollInterval:  getEnvAsDuration("SCHEDULER_POLL_INTERVAL", 500*time.Millisecond),
		FlushMaxAttempts:       getEnvAsInt("FLUSH_MAX_ATTEMPTS", 3),
		FlushRetryBaseDelay:    getEnvAsDuration("FLUSH_RETRY_BASE_DELAY", 2*time.Second),
		FlushVisibilityTimeout: getEnvAsDuration("FLUSH_VISIBILITY_TIMEOUT", 5*time.Minute),

		InboundRateLimit: getEnvAsFloat("INBOUND_RATE_LIMIT", 20),
		InboundRateBurst: getEnvAsInt("INBOUND_RATE_BURST", 40),

		AdminJWTSecret:        getEnv("ADMIN_JWT_SECRET", ""),
		ParameterStoreEnabled: getEnvAsBool("PARAMETER_STORE_ENABLED", false),
		ParameterCacheTTL:     getEnvAsDuration("PARAMETER_CACHE_TTL", 5*time.Minute),

		AgentConfigFile: getEnv("AGENT_CONFIG_FILE", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
