// File: internal/mocks/clock.go
package mocks

import (
	"context"
	"sync"
	"time"
)

// FakeClock is a humanoid.Clock whose Sleep advances virtual time instantly and records the
// requested durations.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	// OnSleep, when set, runs after time has advanced. It lets a test mutate the page at a
	// given point in virtual time.
	OnSleep func(now time.Time, d time.Duration)
}

// NewFakeClock starts virtual time at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	now, hook := c.now, c.OnSleep
	c.mu.Unlock()

	if hook != nil {
		hook(now, d)
	}
	return ctx.Err()
}

// Advance moves virtual time forward without recording a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleeps returns a copy of every duration passed to Sleep.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// CountSleeps returns how many times Sleep was called with exactly d.
func (c *FakeClock) CountSleeps(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sleeps {
		if s == d {
			n++
		}
	}
	return n
}
