package debounce

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

const lockStripes = 64

// ErrSessionKeyRequired is returned when arming without a conversation key.
var ErrSessionKeyRequired = errors.New("debounce: session key required")

// Debouncer arms, extends and cancels flush tasks. Replacement for one key is
// serialized so near-simultaneous appends never leave two live tasks.
type Debouncer struct {
	scheduler TaskScheduler
	logger    *logging.Logger
	now       func() time.Time
	locks     [lockStripes]sync.Mutex
}

// DebouncerOption customizes a Debouncer.
type DebouncerOption func(*Debouncer)

// WithClock overrides the clock used to stamp tasks.
func WithClock(now func() time.Time) DebouncerOption {
	return func(d *Debouncer) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDebouncer wraps a scheduler.
func NewDebouncer(scheduler TaskScheduler, logger *logging.Logger, opts ...DebouncerOption) *Debouncer {
	if scheduler == nil {
		panic("debounce: scheduler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	d := &Debouncer{
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ArmOrExtend schedules the conversation's flush task quietMillis from now,
// replacing any task already pending for sessionKey.
func (d *Debouncer) ArmOrExtend(ctx context.Context, sessionKey, tenantID string, quietMillis int64) (Task, error) {
	if sessionKey == "" {
		return Task{}, ErrSessionKeyRequired
	}
	mu := d.lockFor(sessionKey)
	mu.Lock()
	defer mu.Unlock()

	now := d.now()
	task := Task{
		ID:          TaskID(sessionKey),
		SessionKey:  sessionKey,
		TenantID:    tenantID,
		QuietMillis: ClampMillis(quietMillis),
		ScheduledAt: now,
		FireAt:      now.Add(Delay(quietMillis)),
	}
	if err := d.scheduler.Schedule(ctx, task); err != nil {
		return Task{}, fmt.Errorf("debounce: arm %s: %w", task.ID, err)
	}
	d.logger.Debug("flush armed", "session_key", sessionKey, "task_id", task.ID, "fire_at", task.FireAt)
	return task, nil
}

// Reschedule re-registers task to fire after delay, keeping its id, quiet
// period and attempt counter.
func (d *Debouncer) Reschedule(ctx context.Context, task Task, delay time.Duration) (Task, error) {
	if task.SessionKey == "" {
		return Task{}, ErrSessionKeyRequired
	}
	mu := d.lockFor(task.SessionKey)
	mu.Lock()
	defer mu.Unlock()

	if delay < 0 {
		delay = 0
	}
	if limit := Delay(MaxDelayMillis); delay > limit {
		delay = limit
	}
	now := d.now()
	task.ID = TaskID(task.SessionKey)
	task.ScheduledAt = now
	task.FireAt = now.Add(delay)
	if err := d.scheduler.Schedule(ctx, task); err != nil {
		return Task{}, fmt.Errorf("debounce: reschedule %s: %w", task.ID, err)
	}
	d.logger.Debug("flush rescheduled", "session_key", task.SessionKey, "task_id", task.ID, "attempt", task.Attempt, "delay", delay)
	return task, nil
}

// Cancel drops the pending flush for sessionKey, if any.
func (d *Debouncer) Cancel(ctx context.Context, sessionKey string) error {
	if sessionKey == "" {
		return ErrSessionKeyRequired
	}
	mu := d.lockFor(sessionKey)
	mu.Lock()
	defer mu.Unlock()

	if err := d.scheduler.Cancel(ctx, TaskID(sessionKey)); err != nil {
		return fmt.Errorf("debounce: cancel %s: %w", TaskID(sessionKey), err)
	}
	return nil
}

func (d *Debouncer) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &d.locks[h.Sum32()%lockStripes]
}
