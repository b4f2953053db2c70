package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/inbound-coalescer/internal/agent"
	"github.com/wolfman30/inbound-coalescer/internal/buffer"
	appconfig "github.com/wolfman30/inbound-coalescer/internal/config"
	"github.com/wolfman30/inbound-coalescer/internal/debounce"
	"github.com/wolfman30/inbound-coalescer/internal/delivery"
	"github.com/wolfman30/inbound-coalescer/internal/flush"
	"github.com/wolfman30/inbound-coalescer/internal/inference"
	"github.com/wolfman30/inbound-coalescer/internal/ingest"
	"github.com/wolfman30/inbound-coalescer/internal/observability/metrics"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

// Chunk store backends selectable with CHUNK_STORE.
const (
	ChunkStoreMemory   = "memory"
	ChunkStorePostgres = "postgres"
	ChunkStoreDynamo   = "dynamodb"
)

// PipelineDeps are the infrastructure handles a binary has opened.
type PipelineDeps struct {
	Config    *appconfig.Config
	AWS       *aws.Config
	Redis     *redis.Client
	DB        *pgxpool.Pool
	Scheduler debounce.TaskScheduler
	Registry  prometheus.Registerer
	Logger    *logging.Logger
}

// Pipeline is the wired coalescing pipeline shared by the binaries.
type Pipeline struct {
	Buffers   buffer.Store
	Agents    agent.Provider
	Debouncer *debounce.Debouncer
	Processor *flush.Processor
	Chunks    delivery.ChunkStore
	Models    *inference.Registry
	Metrics   *metrics.CoalescerMetrics
}

// BuildPipeline wires buffers, agent configs, the debouncer and the flush processor.
func BuildPipeline(ctx context.Context, deps PipelineDeps) (*Pipeline, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("bootstrap: task scheduler is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	m := metrics.NewCoalescerMetrics(deps.Registry)
	agents, err := BuildAgentProvider(cfg, deps.Redis, BuildSecrets(cfg, deps.AWS), logger)
	if err != nil {
		return nil, err
	}
	chunks, err := BuildChunkStore(cfg, deps.AWS, deps.DB, logger)
	if err != nil {
		return nil, err
	}
	models := BuildInferenceRegistry(cfg, deps.AWS, logger)

	buffers := BuildBufferStore(deps.Redis, logger)
	debouncer := debounce.NewDebouncer(deps.Scheduler, logger)
	deliverer := delivery.NewDeliverer(BuildTransport(cfg, logger), chunks, logger, m)
	processor := flush.NewProcessor(buffers, agents, inference.NewInvoker(models, logger, m), deliverer, debouncer, logger,
		flush.WithMetrics(m))

	return &Pipeline{
		Buffers:   buffers,
		Agents:    agents,
		Debouncer: debouncer,
		Processor: processor,
		Chunks:    chunks,
		Models:    models,
		Metrics:   m,
	}, nil
}

// BuildCoalescer builds the inbound entry point over a pipeline.
func BuildCoalescer(p *Pipeline, cfg *appconfig.Config, db *pgxpool.Pool, logger *logging.Logger) *ingest.Coalescer {
	var guard ingest.DuplicateGuard = ingest.NewMemoryProcessedStore()
	if db != nil {
		guard = ingest.NewPGProcessedStore(db)
	}
	opts := []ingest.Option{
		ingest.WithDuplicateGuard(guard),
		ingest.WithMetrics(p.Metrics),
	}
	if cfg != nil {
		opts = append(opts, ingest.WithSafetyMargin(cfg.BufferSafetyMargin))
	}
	return ingest.NewCoalescer(p.Agents, p.Buffers, p.Debouncer, p.Processor, logger, opts...)
}

// BuildChunkStore selects where delivered chunks are recorded.
func BuildChunkStore(cfg *appconfig.Config, awsCfg *aws.Config, db *pgxpool.Pool, logger *logging.Logger) (delivery.ChunkStore, error) {
	kind := ChunkStoreMemory
	if cfg != nil && cfg.ChunkStore != "" {
		kind = cfg.ChunkStore
	}
	switch kind {
	case ChunkStoreMemory:
		return delivery.NewMemoryChunkStore(), nil
	case ChunkStorePostgres:
		if db == nil {
			return nil, fmt.Errorf("bootstrap: CHUNK_STORE=postgres requires DATABASE_URL")
		}
		return delivery.NewPGChunkStore(db), nil
	case ChunkStoreDynamo:
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: CHUNK_STORE=dynamodb requires AWS configuration")
		}
		return delivery.NewDynamoChunkStore(dynamodb.NewFromConfig(*awsCfg), cfg.DeliveredChunksTable, logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown chunk store %q", kind)
	}
}

// BuildInferenceRegistry registers Bedrock when AWS and a model id are
// configured, and Gemini with the platform key as the default for tenants
// that bring none.
func BuildInferenceRegistry(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) *inference.Registry {
	if logger == nil {
		logger = logging.Default()
	}
	var opts []inference.RegistryOption
	if cfg != nil {
		if awsCfg != nil && strings.TrimSpace(cfg.BedrockModelID) != "" {
			client := inference.NewBedrockLLMClient(bedrockruntime.NewFromConfig(*awsCfg))
			opts = append(opts, inference.WithBedrock(client, cfg.BedrockModelID))
		} else {
			logger.Warn("bedrock not configured; bedrock tenants will not receive replies")
		}
		opts = append(opts, inference.WithGemini(cfg.GeminiAPIKey, cfg.GeminiModelID))
	}
	return inference.NewRegistry(logger, opts...)
}

// BuildTransport returns the Telnyx transport, or a transport that only logs
// when no API key is configured.
func BuildTransport(cfg *appconfig.Config, logger *logging.Logger) delivery.Transport {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg != nil && strings.TrimSpace(cfg.TelnyxAPIKey) != "" {
		return delivery.NewTelnyxTransport(cfg.TelnyxAPIKey, cfg.TelnyxMessagingProfileID, cfg.TelnyxBaseURL, logger)
	}
	logger.Warn("telnyx not configured; replies are logged instead of sent")
	return delivery.TransportFunc(func(_ context.Context, target delivery.Target, text string) (string, error) {
		logger.Info("reply chunk (log transport)", "session_key", target.SessionKey, "chat_id", target.ChatID, "text", text)
		return "log-" + uuid.NewString(), nil
	})
}
