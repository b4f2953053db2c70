package debounce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

const (
	defaultRedisKeyPrefix = "debounce"
	defaultPollInterval   = 500 * time.Millisecond
	defaultClaimBatch     = 100
)

// claimScript removes a task only while its score is still due, so a
// concurrent reschedule that pushed it into the future wins.
var claimScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score then
  return false
end
if tonumber(score) > tonumber(ARGV[2]) then
  return false
end
redis.call('ZREM', KEYS[1], ARGV[1])
local payload = redis.call('HGET', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
return payload
`)

// RedisScheduler keeps tasks in a sorted set scored by due time plus a hash of
// payloads, so every api replica shares one task registry.
type RedisScheduler struct {
	redis        *redis.Client
	dispatcher   Dispatcher
	logger       *logging.Logger
	tracer       trace.Tracer
	now          func() time.Time
	dueKey       string
	payloadKey   string
	pollInterval time.Duration
	batch        int64
}

// RedisSchedulerOption customizes a RedisScheduler.
type RedisSchedulerOption func(*RedisScheduler)

// WithPollInterval sets how often Run looks for due tasks.
func WithPollInterval(d time.Duration) RedisSchedulerOption {
	return func(s *RedisScheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithKeyPrefix namespaces the Redis keys.
func WithKeyPrefix(prefix string) RedisSchedulerOption {
	return func(s *RedisScheduler) {
		if prefix != "" {
			s.dueKey = prefix + ":due"
			s.payloadKey = prefix + ":tasks"
		}
	}
}

// WithSchedulerClock overrides the clock used to decide which tasks are due.
func WithSchedulerClock(now func() time.Time) RedisSchedulerOption {
	return func(s *RedisScheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRedisScheduler creates a Redis-backed scheduler. dispatcher may be nil
// for replicas that only arm tasks and never poll.
func NewRedisScheduler(client *redis.Client, dispatcher Dispatcher, logger *logging.Logger, opts ...RedisSchedulerOption) *RedisScheduler {
	if client == nil {
		panic("debounce: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &RedisScheduler{
		redis:        client,
		dispatcher:   dispatcher,
		logger:       logger,
		tracer:       otel.Tracer("coalescer.internal.debounce"),
		now:          time.Now,
		dueKey:       defaultRedisKeyPrefix + ":due",
		payloadKey:   defaultRedisKeyPrefix + ":tasks",
		pollInterval: defaultPollInterval,
		batch:        defaultClaimBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ TaskScheduler = (*RedisScheduler)(nil)

func (s *RedisScheduler) Schedule(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("debounce: marshal task: %w", err)
	}
	ctx, span := s.tracer.Start(ctx, "debounce.schedule", trace.WithAttributes(attribute.String("task.id", task.ID)))
	defer span.End()

	pipe := s.redis.TxPipeline()
	pipe.ZAdd(ctx, s.dueKey, redis.Z{Score: float64(task.FireAt.UnixMilli()), Member: task.ID})
	pipe.HSet(ctx, s.payloadKey, task.ID, data)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("debounce: schedule task: %w", err)
	}
	return nil
}

// scheduleIfAbsent re-queues a claimed task unless a newer one was armed meanwhile.
func (s *RedisScheduler) scheduleIfAbsent(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("debounce: marshal task: %w", err)
	}
	pipe := s.redis.TxPipeline()
	pipe.ZAddNX(ctx, s.dueKey, redis.Z{Score: float64(task.FireAt.UnixMilli()), Member: task.ID})
	pipe.HSetNX(ctx, s.payloadKey, task.ID, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("debounce: requeue task: %w", err)
	}
	return nil
}

func (s *RedisScheduler) Cancel(ctx context.Context, taskID string) error {
	ctx, span := s.tracer.Start(ctx, "debounce.cancel", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, s.dueKey, taskID)
	pipe.HDel(ctx, s.payloadKey, taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("debounce: cancel task: %w", err)
	}
	return nil
}

// Run polls for due tasks until ctx is cancelled.
func (s *RedisScheduler) Run(ctx context.Context) error {
	if s.dispatcher == nil {
		return errors.New("debounce: redis scheduler has no dispatcher")
	}
	s.logger.Info("debounce scheduler started", "poll_interval", s.pollInterval)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.PollOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("debounce poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("debounce scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce claims and dispatches every task due at the current time. It returns
// the number of tasks dispatched.
func (s *RedisScheduler) PollOnce(ctx context.Context) (int, error) {
	if s.dispatcher == nil {
		return 0, errors.New("debounce: redis scheduler has no dispatcher")
	}
	now := s.now()
	nowMillis := strconv.FormatInt(now.UnixMilli(), 10)
	ids, err := s.redis.ZRangeByScore(ctx, s.dueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   nowMillis,
		Count: s.batch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("debounce: list due tasks: %w", err)
	}

	dispatched := 0
	for _, id := range ids {
		task, ok, err := s.claim(ctx, id, nowMillis)
		if err != nil {
			return dispatched, err
		}
		if !ok {
			continue
		}
		if err := s.dispatcher.Dispatch(ctx, task); err != nil {
			s.logger.Error("failed to dispatch flush task, requeueing", "task_id", id, "error", err)
			task.FireAt = now.Add(s.pollInterval)
			if rerr := s.scheduleIfAbsent(ctx, task); rerr != nil {
				s.logger.Error("failed to requeue flush task", "task_id", id, "error", rerr)
			}
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

func (s *RedisScheduler) claim(ctx context.Context, id, nowMillis string) (Task, bool, error) {
	ctx, span := s.tracer.Start(ctx, "debounce.claim", trace.WithAttributes(attribute.String("task.id", id)))
	defer span.End()

	payload, err := claimScript.Run(ctx, s.redis, []string{s.dueKey, s.payloadKey}, id, nowMillis).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Task{}, false, nil
		}
		span.RecordError(err)
		return Task{}, false, fmt.Errorf("debounce: claim task: %w", err)
	}
	var task Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		s.logger.Error("dropping undecodable flush task", "task_id", id, "error", err)
		return Task{}, false, nil
	}
	return task, true, nil
}
