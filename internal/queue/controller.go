// internal/queue/controller.go
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
)

// Controller owns the queue state and drives one command at a time through a Dispatcher.
// All transitions go through it; at most one run loop exists at any moment.
type Controller struct {
	dispatcher schemas.Dispatcher
	sink       schemas.LogSink
	logger     *zap.Logger
	newID      func() string

	mu        sync.Mutex
	state     State
	// runID changes on Start, Stop and Reset. A command resolving under an older id must not
	// move the cursor.
	runID     uint64
	loopDone  chan struct{}
	exited    chan struct{}
	lastErr   error
	observers []func(schemas.StateSnapshot)
}

// Option configures a Controller.
type Option func(*Controller)

// WithIDGenerator overrides the command id generator.
func WithIDGenerator(f func() string) Option {
	return func(c *Controller) { c.newID = f }
}

// NewController creates an idle Controller with an empty queue.
func NewController(d schemas.Dispatcher, sink schemas.LogSink, logger *zap.Logger, opts ...Option) *Controller {
	if sink == nil {
		sink = schemas.NopSink
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		dispatcher: d,
		sink:       sink,
		logger:     logger.Named("queue"),
		newID:      uuid.NewString,
		state:      State{Mode: ModeIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers fn to receive a snapshot after every state change.
func (c *Controller) OnChange(fn func(schemas.StateSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Items = append([]string(nil), s.Items...)
	return s
}

// Load replaces the queue.
func (c *Controller) Load(items []string) error {
	if err := c.apply(func(s State) (State, error) { return s.Load(items) }, true); err != nil {
		return err
	}
	c.emit(schemas.SeverityInfo, "Loaded %d prompts.", len(items))
	return nil
}

// Start runs the queue from the beginning in a background loop bound to ctx.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.apply(State.Start, true); err != nil {
		return err
	}
	c.emit(schemas.SeverityInfo, "Starting automation from beginning...")
	c.spawn(ctx)
	return nil
}

// Resume continues from the cursor in a background loop bound to ctx.
func (c *Controller) Resume(ctx context.Context) error {
	if err := c.apply(State.Resume, false); err != nil {
		if c.State().Done() && c.State().Total() > 0 {
			c.emit(schemas.SeverityInfo, "All prompts already completed. Please Start New.")
		}
		return err
	}
	c.emit(schemas.SeverityInfo, "Resuming from prompt %d...", c.State().Cursor+1)
	c.spawn(ctx)
	return nil
}

// Pause lets the in-flight command finish and then stops the loop.
func (c *Controller) Pause() error {
	if err := c.apply(State.Pause, false); err != nil {
		return err
	}
	c.emit(schemas.SeverityInfo, "Pausing after current operation finishes...")
	return nil
}

// Stop ends the run and rewinds. An in-flight command finishes but does not advance the cursor.
func (c *Controller) Stop() error {
	if err := c.apply(State.Stop, true); err != nil {
		return err
	}
	c.emit(schemas.SeverityWarning, "Automation stopped & reset.")
	return nil
}

// Reset stops and clears the queue.
func (c *Controller) Reset() error {
	if err := c.apply(State.Reset, true); err != nil {
		return err
	}
	c.emit(schemas.SeverityInfo, "Reset complete.")
	return nil
}

// Run starts the queue and blocks until the loop exits. It returns ErrConnectionLost when the
// page went away and ctx.Err() when ctx ended first.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	return c.Wait(ctx)
}

// Wait blocks until the most recent loop has returned and reports the error that ended it.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.exited
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// apply runs a transition under the lock. newRun marks transitions that invalidate any
// command currently in flight.
func (c *Controller) apply(tr func(State) (State, error), newRun bool) error {
	c.mu.Lock()
	next, err := tr(c.state)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	// Pause and Resume keep the id, so the in-flight command still counts when it resolves.
	if newRun {
		c.runID++
	}
	snap, observers := c.snapshotLocked()
	c.mu.Unlock()

	notify(observers, snap)
	return nil
}

func (c *Controller) snapshotLocked() (schemas.StateSnapshot, []func(schemas.StateSnapshot)) {
	observers := make([]func(schemas.StateSnapshot), len(c.observers))
	copy(observers, c.observers)
	return c.state.Snapshot(), observers
}

func notify(observers []func(schemas.StateSnapshot), snap schemas.StateSnapshot) {
	// Called without the lock so an observer may read State.
	for _, fn := range observers {
		fn(snap)
	}
}

// spawn starts the loop unless one is already running; that loop picks up the new state.
func (c *Controller) spawn(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loopDone != nil {
		return
	}
	done := make(chan struct{})
	c.loopDone = done
	c.exited = done
	c.lastErr = nil
	go func() {
		defer close(done)
		c.loop(ctx)
	}()
}

// endLocked marks the loop as gone. It runs under the same lock as the decision to exit, so a
// transition racing with the exit either is seen by this loop or spawns a new one. The
// goroutine may still emit its last log line; exited closes after that.
func (c *Controller) endLocked(err error) {
	c.lastErr = err
	c.loopDone = nil
}

func (c *Controller) loop(ctx context.Context) {
	for {
		// Read state and run id together; the id taken here is the one the command is judged by.
		c.mu.Lock()
		st := c.state
		runID := c.runID
		// Paused or stopped between commands. The exit decision and endLocked share the lock.
		if st.Mode != ModeRunning {
			c.endLocked(nil)
			c.mu.Unlock()
			return
		}
		// Cursor past the end: the queue is finished.
		prompt, ok := st.Current()
		if !ok {
			c.state, _ = st.Halt()
			c.endLocked(nil)
			snap, observers := c.snapshotLocked()
			c.mu.Unlock()
			notify(observers, snap)
			c.emit(schemas.SeveritySuccess, "All prompts processed!")
			return
		}
		c.mu.Unlock()

		// Dispatch runs without the lock so Pause and Stop stay responsive.
		c.emit(schemas.SeverityStep, "Prompt %d/%d: %s", st.Cursor+1, st.Total(), preview(prompt))
		cmd := schemas.NewProcessPrompt(c.newID(), prompt)
		out, err := c.dispatcher.Dispatch(ctx, cmd)

		// Only a lost page and a cancelled ctx end the run. Any other failure is logged and
		// the queue moves to the next prompt.
		if err != nil {
			switch {
			case errors.Is(err, schemas.ErrConnectionLost):
				c.halt(err)
				c.emit(schemas.SeverityError, "Lost connection to page. Refresh Firefly & Restart.")
				return
			case ctx.Err() != nil:
				c.halt(ctx.Err())
				c.emit(schemas.SeverityWarning, "Automation interrupted.")
				return
			default:
				c.emit(schemas.SeverityError, "Error: %v", err)
			}
		} else if !out.OK() {
			c.emit(schemas.SeverityError, "Failed: %s", out.Message)
		}
		c.logger.Debug("command resolved",
			zap.String("command_id", cmd.ID),
			zap.String("status", string(out.Status)),
			zap.Int("count", out.Count),
			zap.Error(err))

		if paused := c.finish(runID); paused {
			c.emit(schemas.SeverityInfo, "Paused.")
			return
		}
	}
}

// finish advances past the resolved command unless the run it belonged to was stopped or
// replaced. It reports whether the loop ended because of a pause.
func (c *Controller) finish(runID uint64) bool {
	c.mu.Lock()
	// Stopped or restarted while the command ran. The loop carries on with whatever state
	// the new run left.
	if c.runID != runID {
		c.mu.Unlock()
		return false
	}
	next, err := c.state.Advance()
	if err != nil {
		c.mu.Unlock()
		c.logger.Debug("advance rejected", zap.Error(err))
		return false
	}
	c.state = next
	paused := next.Mode == ModePaused
	if paused {
		c.endLocked(nil)
	}
	snap, observers := c.snapshotLocked()
	c.mu.Unlock()

	notify(observers, snap)
	return paused
}

// halt ends the run on a fatal error, keeping the cursor.
func (c *Controller) halt(cause error) {
	c.mu.Lock()
	c.state, _ = c.state.Halt()
	c.endLocked(cause)
	snap, observers := c.snapshotLocked()
	c.mu.Unlock()
	notify(observers, snap)
}

func (c *Controller) emit(sev schemas.Severity, format string, args ...interface{}) {
	c.sink.Emit(schemas.LogEvent{Message: fmt.Sprintf(format, args...), Severity: sev})
}

func preview(prompt string) string {
	const max = 30
	r := []rune(prompt)
	if len(r) <= max {
		return fmt.Sprintf("%q", prompt)
	}
	return fmt.Sprintf("%q...", string(r[:max]))
}
