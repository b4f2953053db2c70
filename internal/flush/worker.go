package flush

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/inbound-coalescer/internal/debounce"
	"github.com/wolfman30/inbound-coalescer/internal/observability/metrics"
	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

const (
	defaultWorkerCount    = 2
	defaultWaitSeconds    = 2
	defaultBatchSize      = 5
	maxWaitSeconds        = 20
	maxReceiveBatchSize   = 10
	deleteTimeoutSeconds  = 5
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 2 * time.Second
)

// TaskFlusher executes one flush task.
type TaskFlusher interface {
	Flush(ctx context.Context, task debounce.Task) (Outcome, error)
}

// Worker consumes flush tasks from the queue and runs the processor.
type Worker struct {
	processor   TaskFlusher
	queue       queueClient
	rescheduler Rescheduler
	logger      *logging.Logger
	metrics     *metrics.CoalescerMetrics

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	maxAttempts      int
	retryBaseDelay   time.Duration
	metrics          *metrics.CoalescerMetrics
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithRetryPolicy sets how many times a failing flush runs in total and the
// base of its exponential backoff.
func WithRetryPolicy(maxAttempts int, base time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if maxAttempts > 0 {
			cfg.maxAttempts = maxAttempts
		}
		if base > 0 {
			cfg.retryBaseDelay = base
		}
	}
}

// WithWorkerMetrics records failed and abandoned flushes.
func WithWorkerMetrics(m *metrics.CoalescerMetrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// NewWorker builds a worker; queue may be nil when only HandleBody is used
// (the Lambda entry point).
func NewWorker(processor TaskFlusher, queue queueClient, rescheduler Rescheduler, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if processor == nil {
		panic("flush: processor cannot be nil")
	}
	if rescheduler == nil {
		panic("flush: rescheduler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		maxAttempts:      defaultMaxAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		processor:   processor,
		queue:       queue,
		rescheduler: rescheduler,
		logger:      logger,
		metrics:     cfg.metrics,
		cfg:         cfg,
	}
}

// Start launches the consumer goroutines.
func (w *Worker) Start(ctx context.Context) {
	if w.queue == nil {
		panic("flush: worker started without a queue")
	}
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("flush worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("flush worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive flush tasks", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	if err := w.HandleBody(ctx, msg.Body); err != nil {
		// leave the message for the queue's redelivery
		w.logger.Error("flush task left on queue", "error", err, "msg_id", msg.ID)
		return
	}
	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

// HandleBody decodes and runs one queued flush task. It returns an error only
// when the task could neither complete nor be rescheduled, so the caller
// should let the transport redeliver it.
func (w *Worker) HandleBody(ctx context.Context, body string) error {
	payload, err := decodePayload(body)
	if err != nil {
		w.logger.Error("dropping undecodable flush task", "error", err)
		return nil
	}
	task := payload.Task
	if task.ID == "" {
		task.ID = debounce.TaskID(task.SessionKey)
	}

	outcome, err := w.processor.Flush(ctx, task)
	if err == nil {
		w.logger.Debug("flush task handled", "task_id", task.ID, "outcome", outcome)
		return nil
	}
	w.metrics.ObserveFlush(metrics.FlushFailed)
	return w.retry(ctx, task, err)
}

func (w *Worker) retry(ctx context.Context, task debounce.Task, cause error) error {
	log := w.logger.With("session_key", task.SessionKey, "task_id", task.ID, "attempt", task.Attempt+1)
	if task.Attempt+1 >= w.cfg.maxAttempts {
		log.Error("flush abandoned after retries", "error", cause, "max_attempts", w.cfg.maxAttempts)
		w.metrics.ObserveFlush(metrics.FlushAbandoned)
		return nil
	}

	delay := w.cfg.retryBaseDelay << uint(task.Attempt)
	next := task
	next.Attempt++
	if _, err := w.rescheduler.Reschedule(ctx, next, delay); err != nil {
		return fmt.Errorf("flush: reschedule retry: %w (flush error: %v)", err, cause)
	}
	log.Warn("flush failed, retry scheduled", "error", cause, "delay", delay)
	return nil
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" || w.queue == nil {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete flush task", "error", err)
	}
}
