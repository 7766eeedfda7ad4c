// Filename: internal/humanoid/pacer.go
package humanoid

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Range is an inclusive delay interval.
type Range struct {
	Min time.Duration `mapstructure:"min" yaml:"min"`
	Max time.Duration `mapstructure:"max" yaml:"max"`
}

// Pacer produces human-like pauses: inter-key delays while typing and the cooldown between
// prompts. It is safe for concurrent use.
type Pacer struct {
	clock Clock

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPacer creates a Pacer. A nil rng is seeded from the wall clock.
func NewPacer(clock Clock, rng *rand.Rand) *Pacer {
	if clock == nil {
		clock = SystemClock{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Pacer{clock: clock, rng: rng}
}

// Clock returns the clock the pacer sleeps on.
func (p *Pacer) Clock() Clock {
	return p.clock
}

// Uniform draws a duration uniformly from [r.Min, r.Max]. An inverted range collapses to Min.
func (p *Pacer) Uniform(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	span := int64(r.Max - r.Min)

	p.mu.Lock()
	n := p.rng.Int63n(span + 1)
	p.mu.Unlock()

	return r.Min + time.Duration(n)
}

// Pause sleeps for a uniform draw from r.
func (p *Pacer) Pause(ctx context.Context, r Range) error {
	return p.clock.Sleep(ctx, p.Uniform(r))
}

// Sleep sleeps for exactly d.
func (p *Pacer) Sleep(ctx context.Context, d time.Duration) error {
	return p.clock.Sleep(ctx, d)
}
