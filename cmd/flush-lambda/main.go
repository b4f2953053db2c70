package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/inbound-coalescer/cmd/mainconfig"
	"github.com/wolfman30/inbound-coalescer/internal/app/bootstrap"
	"github.com/wolfman30/inbound-coalescer/internal/debounce"
	"github.com/wolfman30/inbound-coalescer/internal/flush"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

type bodyHandler interface {
	HandleBody(ctx context.Context, body string) error
}

func main() {
	cfg := mainconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, false)
	if redisClient == nil {
		logger.Error("REDIS_ADDR is required for the flush lambda")
		os.Exit(1)
	}
	db, err := bootstrap.BuildDBPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	// Retries are written back to the Redis registry; the flush-worker poller
	// publishes them when due.
	publisher := flush.NewPublisher(flush.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.FlushQueueURL), logger)
	scheduler := debounce.NewRedisScheduler(redisClient, publisher, logger)

	pipeline, err := bootstrap.BuildPipeline(ctx, bootstrap.PipelineDeps{
		Config:    cfg,
		AWS:       &awsCfg,
		Redis:     redisClient,
		DB:        db,
		Scheduler: scheduler,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	worker := flush.NewWorker(pipeline.Processor, nil, pipeline.Debouncer, logger,
		flush.WithRetryPolicy(cfg.FlushMaxAttempts, cfg.FlushRetryBaseDelay),
		flush.WithWorkerMetrics(pipeline.Metrics),
	)
	lambda.Start(func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		return handleEvent(ctx, worker, logger, evt), nil
	})
}

// handleEvent processes each record and reports the ones SQS should redeliver.
func handleEvent(ctx context.Context, handler bodyHandler, logger *logging.Logger, evt events.SQSEvent) events.SQSEventResponse {
	var resp events.SQSEventResponse
	for _, record := range evt.Records {
		if err := handler.HandleBody(ctx, record.Body); err != nil {
			logger.Error("flush record failed", "message_id", record.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return resp
}
