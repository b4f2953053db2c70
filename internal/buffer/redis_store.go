package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

const (
	bufferKeyPrefix = "buffer:"
	// ackAttempts bounds optimistic retries when an append races the trim.
	ackAttempts = 5
)

// RedisStore keeps each conversation buffer in a Redis list.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	logger *logging.Logger
}

// NewRedisStore creates a Redis-backed buffer store.
func NewRedisStore(redisClient *redis.Client, logger *logging.Logger) *RedisStore {
	if redisClient == nil {
		panic("buffer: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisStore{
		redis:  redisClient,
		tracer: otel.Tracer("coalescer.internal.buffer"),
		logger: logger,
	}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) Append(ctx context.Context, sessionKey string, msg Message, ttl time.Duration) error {
	if sessionKey == "" {
		return ErrSessionKeyRequired
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("buffer: marshal message: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "buffer.append")
	defer span.End()

	key := bufferKey(sessionKey)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	if ttl > 0 {
		pipe.PExpire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("buffer: append message: %w", err)
	}
	return nil
}

func (s *RedisStore) ReadAll(ctx context.Context, sessionKey string) ([]Message, error) {
	if sessionKey == "" {
		return nil, ErrSessionKeyRequired
	}
	ctx, span := s.tracer.Start(ctx, "buffer.read_all")
	defer span.End()

	raw, err := s.redis.LRange(ctx, bufferKey(sessionKey), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("buffer: read messages: %w", err)
	}

	key := bufferKey(sessionKey)
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			// an entry no flush can read would otherwise sit at the head forever
			span.RecordError(err)
			s.logger.Warn("dropping undecodable buffer entry", "session_key", sessionKey, "error", err)
			if remErr := s.redis.LRem(ctx, key, 1, item).Err(); remErr != nil {
				s.logger.Error("failed to drop undecodable buffer entry", "session_key", sessionKey, "error", remErr)
			}
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Ack trims the matching prefix inside a WATCH transaction. A concurrent
// append aborts the transaction and the prefix is re-checked.
func (s *RedisStore) Ack(ctx context.Context, sessionKey string, ids []string) error {
	if sessionKey == "" {
		return ErrSessionKeyRequired
	}
	if len(ids) == 0 {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "buffer.ack")
	defer span.End()

	key := bufferKey(sessionKey)
	var trimmed int
	txf := func(tx *redis.Tx) error {
		head, err := tx.LRange(ctx, key, 0, int64(len(ids))-1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		trimmed = matchingPrefix(head, ids)
		if trimmed == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LTrim(ctx, key, int64(trimmed), -1)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < ackAttempts; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("buffer: ack messages: %w", err)
		}
		span.SetAttributes(attribute.Int("buffer.acked", trimmed))
		if trimmed < len(ids) {
			s.logger.Debug("ack matched fewer messages than read", "session_key", sessionKey, "read", len(ids), "acked", trimmed)
		}
		return nil
	}
	span.RecordError(redis.TxFailedErr)
	return fmt.Errorf("buffer: ack messages: %w", redis.TxFailedErr)
}

// matchingPrefix counts leading raw entries whose decoded id equals ids[i].
func matchingPrefix(raw []string, ids []string) int {
	n := 0
	for n < len(raw) && n < len(ids) {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(raw[n]), &head); err != nil || head.ID != ids[n] {
			break
		}
		n++
	}
	return n
}

func (s *RedisStore) Clear(ctx context.Context, sessionKey string) error {
	if sessionKey == "" {
		return ErrSessionKeyRequired
	}
	ctx, span := s.tracer.Start(ctx, "buffer.clear")
	defer span.End()

	if err := s.redis.Del(ctx, bufferKey(sessionKey)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("buffer: clear messages: %w", err)
	}
	return nil
}

func bufferKey(sessionKey string) string {
	return bufferKeyPrefix + sessionKey
}
