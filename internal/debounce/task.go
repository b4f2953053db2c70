// Package debounce keeps a single, continuously refreshed flush task per
// conversation.
package debounce

import (
	"context"
	"time"
)

const (
	taskIDPrefix = "flush:"

	// MaxDelayMillis is the largest delay a task may be scheduled with.
	MaxDelayMillis int64 = 2147483647
)

// Task is a pending flush for one conversation.
type Task struct {
	ID          string    `json:"id"`
	SessionKey  string    `json:"session_key"`
	TenantID    string    `json:"tenant_id"`
	QuietMillis int64     `json:"quiet_millis"`
	ScheduledAt time.Time `json:"scheduled_at"`
	FireAt      time.Time `json:"fire_at"`
	Attempt     int       `json:"attempt"`
}

// TaskID derives the unique task id for a conversation.
func TaskID(sessionKey string) string {
	return taskIDPrefix + sessionKey
}

// ClampMillis bounds ms to [0, MaxDelayMillis].
func ClampMillis(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	if ms > MaxDelayMillis {
		return MaxDelayMillis
	}
	return ms
}

// Delay converts a configured quiet period in milliseconds to a clamped duration.
func Delay(ms int64) time.Duration {
	return time.Duration(ClampMillis(ms)) * time.Millisecond
}

// TaskScheduler stores tasks keyed by id.
type TaskScheduler interface {
	// Schedule registers task to fire at task.FireAt, atomically replacing any
	// live task with the same id.
	Schedule(ctx context.Context, task Task) error
	// Cancel removes the task with the given id. Unknown ids are a no-op.
	Cancel(ctx context.Context, taskID string) error
}

// Dispatcher receives tasks once their delay has elapsed.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, task Task) error

func (f DispatcherFunc) Dispatch(ctx context.Context, task Task) error {
	return f(ctx, task)
}
