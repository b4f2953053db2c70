package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/inbound-coalescer/cmd/mainconfig"
	"github.com/wolfman30/inbound-coalescer/internal/api/router"
	"github.com/wolfman30/inbound-coalescer/internal/app/bootstrap"
	appconfig "github.com/wolfman30/inbound-coalescer/internal/config"
	"github.com/wolfman30/inbound-coalescer/internal/debounce"
	"github.com/wolfman30/inbound-coalescer/internal/flush"
	"github.com/wolfman30/inbound-coalescer/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/inbound-coalescer/internal/http/middleware"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

func main() {
	cfg := mainconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting inbound-coalescer API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"memory_queue", cfg.UseMemoryQueue,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	db, err := bootstrap.BuildDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	metricsHandler, registry := setupMetrics()

	// In memory mode the flush queue, scheduler and workers live in this process.
	var (
		scheduler debounce.TaskScheduler
		queue     *flush.MemoryQueue
	)
	if cfg.UseMemoryQueue {
		queue = flush.NewMemoryQueue(256)
		timers := debounce.NewTimerScheduler(flush.NewPublisher(queue, logger), logger)
		defer timers.Close()
		scheduler = timers
	} else {
		if redisClient == nil {
			return errors.New("redis is required when USE_MEMORY_QUEUE=false")
		}
		publisher := flush.NewPublisher(flush.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.FlushQueueURL), logger)
		scheduler = debounce.NewRedisScheduler(redisClient, publisher, logger,
			debounce.WithPollInterval(cfg.SchedulerPollInterval))
	}

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
		return err
	}
	defer pipeline.Models.Close()

	if queue != nil {
		worker := flush.NewWorker(pipeline.Processor, queue, pipeline.Debouncer, logger,
			flush.WithWorkerCount(cfg.WorkerCount),
			flush.WithReceiveWaitSeconds(1),
			flush.WithRetryPolicy(cfg.FlushMaxAttempts, cfg.FlushRetryBaseDelay),
			flush.WithWorkerMetrics(pipeline.Metrics),
		)
		workerCtx, cancelWorkers := context.WithCancel(ctx)
		worker.Start(workerCtx)
		defer func() {
			cancelWorkers()
			worker.Wait()
		}()
		logger.Info("in-process flush workers started", "workers", cfg.WorkerCount)
	}

	coalescer := bootstrap.BuildCoalescer(pipeline, cfg, db, logger)
	r := router.New(&router.Config{
		Logger:         logger,
		Events:         handlers.NewEventsHandler(coalescer, pipeline.Chunks, registry, logger),
		MetricsHandler: metricsHandler,
		InboundLimiter: httpmiddleware.NewRateLimiter(cfg.InboundRateLimit, cfg.InboundRateBurst),
		OperatorSecret: cfg.AdminJWTSecret,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// setupMetrics builds a dedicated registry with runtime collectors.
func setupMetrics() (http.Handler, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), registry
}
