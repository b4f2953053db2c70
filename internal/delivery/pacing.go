package delivery

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/wolfman30/inbound-coalescer/internal/agent"
)

// Pacer decides and waits the delay between consecutive chunks.
type Pacer struct {
	fixed     time.Duration
	min       time.Duration
	max       time.Duration
	randomize bool

	mu    sync.Mutex
	rand  *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// PacerOption customizes a Pacer.
type PacerOption func(*Pacer)

// WithRand sets the random source for randomized pacing.
func WithRand(r *rand.Rand) PacerOption {
	return func(p *Pacer) {
		if r != nil {
			p.rand = r
		}
	}
}

// WithSleep replaces the wait function.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) PacerOption {
	return func(p *Pacer) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// NewPacer builds a pacer from agent pacing settings.
func NewPacer(cfg agent.Pacing, opts ...PacerOption) *Pacer {
	lo, hi := cfg.Bounds()
	p := &Pacer{
		fixed:     cfg.FixedDelay(),
		min:       lo,
		max:       hi,
		randomize: cfg.Randomize,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Next returns the delay to wait before the next chunk: the fixed delay, or a
// uniform sample from [min, max] when randomized.
func (p *Pacer) Next() time.Duration {
	if !p.randomize {
		if p.fixed < 0 {
			return 0
		}
		return p.fixed
	}
	span := p.max - p.min
	if span <= 0 {
		return p.min
	}
	p.mu.Lock()
	offset := time.Duration(p.rand.Int63n(int64(span) + 1))
	p.mu.Unlock()
	return p.min + offset
}

// Wait blocks for the next delay or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.sleep(ctx, p.Next())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
