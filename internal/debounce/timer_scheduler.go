package debounce

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

type timerEntry struct {
	timer      *time.Timer
	generation uint64
}

// TimerScheduler keeps tasks in process memory, one timer per task id.
type TimerScheduler struct {
	dispatcher Dispatcher
	logger     *logging.Logger
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*timerEntry
	nextGen uint64
	closed  bool
}

// NewTimerScheduler creates a scheduler that hands fired tasks to dispatcher.
func NewTimerScheduler(dispatcher Dispatcher, logger *logging.Logger) *TimerScheduler {
	if dispatcher == nil {
		panic("debounce: dispatcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TimerScheduler{
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
		entries:    make(map[string]*timerEntry),
	}
}

var _ TaskScheduler = (*TimerScheduler)(nil)

func (s *TimerScheduler) Schedule(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	if existing, ok := s.entries[task.ID]; ok {
		existing.timer.Stop()
	}
	s.nextGen++
	gen := s.nextGen
	delay := task.FireAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.entries[task.ID] = &timerEntry{
		generation: gen,
		timer:      time.AfterFunc(delay, func() { s.fire(task, gen) }),
	}
	return nil
}

func (s *TimerScheduler) Cancel(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[taskID]; ok {
		existing.timer.Stop()
		delete(s.entries, taskID)
	}
	return nil
}

// Pending reports whether a task with the id is waiting to fire.
func (s *TimerScheduler) Pending(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[taskID]
	return ok
}

// Close stops every pending timer. Later Schedule calls are ignored.
func (s *TimerScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		entry.timer.Stop()
		delete(s.entries, id)
	}
	s.closed = true
}

func (s *TimerScheduler) fire(task Task, gen uint64) {
	s.mu.Lock()
	entry, ok := s.entries[task.ID]
	if !ok || entry.generation != gen {
		// replaced or cancelled after the timer had already started
		s.mu.Unlock()
		return
	}
	delete(s.entries, task.ID)
	s.mu.Unlock()

	if err := s.dispatcher.Dispatch(context.Background(), task); err != nil {
		s.logger.Error("failed to dispatch flush task", "task_id", task.ID, "session_key", task.SessionKey, "error", err)
	}
}
