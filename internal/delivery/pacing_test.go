package delivery

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/wolfman30/inbound-coalescer/internal/agent"
)

func TestPacer_Fixed(t *testing.T) {
	p := NewPacer(agent.Pacing{DelayMs: agent.Int64(1500)})
	for i := 0; i < 3; i++ {
		if got := p.Next(); got != 1500*time.Millisecond {
			t.Fatalf("expected fixed 1.5s, got %v", got)
		}
	}
}

func TestPacer_ExplicitZeroDelay(t *testing.T) {
	if got := NewPacer(agent.Pacing{DelayMs: agent.Int64(0)}).Next(); got != 0 {
		t.Fatalf("expected configured zero delay, got %v", got)
	}
	if got := NewPacer(agent.Pacing{}).Next(); got != 1500*time.Millisecond {
		t.Fatalf("expected default delay when unset, got %v", got)
	}
	p := NewPacer(agent.Pacing{Randomize: true, MinMs: agent.Int64(0), MaxMs: 500}, WithRand(rand.New(rand.NewSource(3))))
	for i := 0; i < 50; i++ {
		if d := p.Next(); d < 0 || d > 500*time.Millisecond {
			t.Fatalf("delay %v outside [0,500ms]", d)
		}
	}
}

func TestPacer_RandomizedWithinBounds(t *testing.T) {
	p := NewPacer(agent.Pacing{Randomize: true, MinMs: agent.Int64(1000), MaxMs: 3000}, WithRand(rand.New(rand.NewSource(7))))
	seen := map[time.Duration]bool{}
	for i := 0; i < 500; i++ {
		d := p.Next()
		if d < time.Second || d > 3*time.Second {
			t.Fatalf("delay %v outside [1s,3s]", d)
		}
		seen[d] = true
	}
	if len(seen) < 10 {
		t.Fatalf("expected varied delays, got %d distinct", len(seen))
	}
}

func TestPacer_DegenerateRange(t *testing.T) {
	p := NewPacer(agent.Pacing{Randomize: true, MinMs: agent.Int64(2000), MaxMs: 2000})
	if got := p.Next(); got != 2*time.Second {
		t.Fatalf("expected 2s, got %v", got)
	}
	p = NewPacer(agent.Pacing{Randomize: true, MinMs: agent.Int64(3000), MaxMs: 1000}, WithRand(rand.New(rand.NewSource(1))))
	if got := p.Next(); got < time.Second || got > 3*time.Second {
		t.Fatalf("inverted bounds should be swapped, got %v", got)
	}
}

func TestPacer_WaitHonorsContext(t *testing.T) {
	p := NewPacer(agent.Pacing{DelayMs: agent.Int64(60000)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatalf("expected cancelled wait to fail")
	}
}
