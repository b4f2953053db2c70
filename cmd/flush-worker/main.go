package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/inbound-coalescer/cmd/mainconfig"
	"github.com/wolfman30/inbound-coalescer/internal/app/bootstrap"
	"github.com/wolfman30/inbound-coalescer/internal/debounce"
	"github.com/wolfman30/inbound-coalescer/internal/flush"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

// flush-worker polls the Redis task registry for due flushes, publishes them
// to SQS and consumes the queue with a worker pool.
func main() {
	cfg := mainconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)

	if cfg.FlushQueueURL == "" {
		logger.Error("FLUSH_QUEUE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Error("redis is required for the flush worker")
		os.Exit(1)
	}
	defer redisClient.Close()

	db, err := bootstrap.BuildDBPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	queue := flush.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.FlushQueueURL,
		flush.WithVisibilityTimeout(cfg.FlushVisibilityTimeout),
		flush.WithQueueLogger(logger))
	scheduler := debounce.NewRedisScheduler(redisClient, flush.NewPublisher(queue, logger), logger,
		debounce.WithPollInterval(cfg.SchedulerPollInterval))

	registry := prometheus.NewRegistry()
	pipeline, err := bootstrap.BuildPipeline(ctx, bootstrap.PipelineDeps{
		Config:    cfg,
		AWS:       &awsCfg,
		Redis:     redisClient,
		DB:        db,
		Scheduler: scheduler,
		Registry:  registry,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Models.Close()

	worker := flush.NewWorker(pipeline.Processor, queue, pipeline.Debouncer, logger,
		flush.WithWorkerCount(cfg.WorkerCount),
		flush.WithReceiveWaitSeconds(20),
		flush.WithReceiveBatchSize(10),
		flush.WithRetryPolicy(cfg.FlushMaxAttempts, cfg.FlushRetryBaseDelay),
		flush.WithWorkerMetrics(pipeline.Metrics),
	)
	worker.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", "error", err)
			stop()
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("flush worker started", "workers", cfg.WorkerCount, "queue", cfg.FlushQueueURL)
	<-ctx.Done()

	logger.Info("shutting down flush worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
	worker.Wait()
	logger.Info("flush worker stopped")
}
