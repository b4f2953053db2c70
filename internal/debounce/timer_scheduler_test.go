package debounce

import (
	"context"
	"sync"
	"testing"
	"time"
)

type collectingDispatcher struct {
	mu    sync.Mutex
	tasks []Task
	fired chan Task
}

func newCollectingDispatcher() *collectingDispatcher {
	return &collectingDispatcher{fired: make(chan Task, 32)}
}

func (c *collectingDispatcher) Dispatch(_ context.Context, task Task) error {
	c.mu.Lock()
	c.tasks = append(c.tasks, task)
	c.mu.Unlock()
	c.fired <- task
	return nil
}

func (c *collectingDispatcher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

func TestTimerScheduler_BurstCoalescesIntoOneFiring(t *testing.T) {
	disp := newCollectingDispatcher()
	sched := NewTimerScheduler(disp, nil)
	defer sched.Close()
	d := NewDebouncer(sched, nil)

	for i := 0; i < 5; i++ {
		if _, err := d.ArmOrExtend(context.Background(), "chat:123", "tenant-1", 60); err != nil {
			t.Fatalf("arm: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case task := <-disp.fired:
		if task.ID != "flush:chat:123" {
			t.Fatalf("unexpected task %q", task.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("flush never fired")
	}
	time.Sleep(150 * time.Millisecond)
	if got := disp.count(); got != 1 {
		t.Fatalf("expected exactly one firing, got %d", got)
	}
	if sched.Pending("flush:chat:123") {
		t.Fatalf("task should no longer be pending")
	}
}

func TestTimerScheduler_IndependentKeys(t *testing.T) {
	disp := newCollectingDispatcher()
	sched := NewTimerScheduler(disp, nil)
	defer sched.Close()
	d := NewDebouncer(sched, nil)

	for _, key := range []string{"chat:a", "chat:b"} {
		if _, err := d.ArmOrExtend(context.Background(), key, "tenant-1", 20); err != nil {
			t.Fatalf("arm: %v", err)
		}
	}
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case task := <-disp.fired:
			seen[task.SessionKey] = true
		case <-time.After(2 * time.Second):
			t.Fatal("flush never fired")
		}
	}
	if !seen["chat:a"] || !seen["chat:b"] {
		t.Fatalf("expected both sessions to flush, got %v", seen)
	}
}

func TestTimerScheduler_Cancel(t *testing.T) {
	disp := newCollectingDispatcher()
	sched := NewTimerScheduler(disp, nil)
	defer sched.Close()
	d := NewDebouncer(sched, nil)

	if _, err := d.ArmOrExtend(context.Background(), "chat:1", "tenant-1", 30); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if !sched.Pending("flush:chat:1") {
		t.Fatalf("expected pending task")
	}
	if err := d.Cancel(context.Background(), "chat:1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := disp.count(); got != 0 {
		t.Fatalf("cancelled task fired %d times", got)
	}
}

func TestTimerScheduler_HugeDelayDoesNotFire(t *testing.T) {
	disp := newCollectingDispatcher()
	sched := NewTimerScheduler(disp, nil)
	defer sched.Close()
	d := NewDebouncer(sched, nil)

	if _, err := d.ArmOrExtend(context.Background(), "chat:1", "tenant-1", 9999999999999); err != nil {
		t.Fatalf("arm: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if disp.count() != 0 || !sched.Pending("flush:chat:1") {
		t.Fatalf("expected task to stay pending")
	}
}
