// Filename: internal/humanoid/clock.go
package humanoid

import (
	"context"
	"time"
)

// Clock is the time source every wait in the automation runs against. Tests substitute a
// clock that advances instantly.
type Clock interface {
	Now() time.Time
	// Sleep pauses for d, returning early with ctx.Err() when the context ends.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the production Clock backed by real timers.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
