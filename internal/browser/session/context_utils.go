// internal/browser/session/context_utils.go
package session

import (
	"context"
	"time"
)

// CombineContext returns a context that carries ctx1's values (the chromedp target lives
// there) and is canceled when either ctx1 or ctx2 is.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)
	if ctx2 == nil {
		return combinedCtx, cancel
	}
	stop := context.AfterFunc(ctx2, cancel)
	return combinedCtx, func() {
		stop()
		cancel()
	}
}

// valueOnlyContext keeps a parent's values but none of its deadline or cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context with ctx's values that outlives ctx. Cleanup that must still reach
// the browser after the operation context ended runs on it.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
