// internal/queue/state.go
package queue

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
)

// Mode is the run mode of the queue.
type Mode string

const (
	ModeIdle    Mode = "idle"
	ModeRunning Mode = "running"
	ModePaused  Mode = "paused"
)

// ErrInvalidTransition is returned when a transition is not allowed from the current state.
var ErrInvalidTransition = errors.New("invalid queue transition")

// State is the queue value. Transitions never mutate the receiver; they return the next state.
// 0 <= Cursor <= len(Items) always holds.
type State struct {
	Items  []string
	Cursor int
	Mode   Mode
}

func invalid(op string, s State, reason string) error {
	return fmt.Errorf("%w: cannot %s while %s: %s", ErrInvalidTransition, op, s.mode(), reason)
}

func (s State) mode() Mode {
	if s.Mode == "" {
		return ModeIdle
	}
	return s.Mode
}

// Total is the number of items.
func (s State) Total() int { return len(s.Items) }

// Done reports whether every item has been processed.
func (s State) Done() bool { return s.Cursor >= len(s.Items) }

// Current returns the item under the cursor.
func (s State) Current() (string, bool) {
	if s.Done() {
		return "", false
	}
	return s.Items[s.Cursor], true
}

// Load replaces the items and rewinds. Not allowed while running.
func (s State) Load(items []string) (State, error) {
	if s.mode() == ModeRunning {
		return s, invalid("load", s, "pause or stop first")
	}
	cp := make([]string, len(items))
	copy(cp, items)
	return State{Items: cp, Mode: ModeIdle}, nil
}

// Start begins a run from the first item.
func (s State) Start() (State, error) {
	switch {
	case s.mode() != ModeIdle:
		return s, invalid("start", s, "stop first")
	case len(s.Items) == 0:
		return s, invalid("start", s, "no prompts loaded")
	}
	return State{Items: s.Items, Cursor: 0, Mode: ModeRunning}, nil
}

// Resume continues from the cursor. It is allowed when paused, or when idle after a run was
// halted part way through.
func (s State) Resume() (State, error) {
	switch {
	case s.mode() == ModeRunning:
		return s, invalid("resume", s, "already running")
	case s.Done():
		return s, invalid("resume", s, "all prompts already completed")
	case s.mode() == ModeIdle && s.Cursor == 0:
		return s, invalid("resume", s, "nothing to resume")
	}
	return State{Items: s.Items, Cursor: s.Cursor, Mode: ModeRunning}, nil
}

// Pause stops the run after the in-flight command resolves.
func (s State) Pause() (State, error) {
	if s.mode() != ModeRunning {
		return s, invalid("pause", s, "not running")
	}
	return State{Items: s.Items, Cursor: s.Cursor, Mode: ModePaused}, nil
}

// Stop ends the run and rewinds the cursor unconditionally.
func (s State) Stop() (State, error) {
	return State{Items: s.Items, Mode: ModeIdle}, nil
}

// Reset drops the items as well.
func (s State) Reset() (State, error) {
	return State{Mode: ModeIdle}, nil
}

// Halt ends the run but keeps the cursor so it can be resumed.
func (s State) Halt() (State, error) {
	return State{Items: s.Items, Cursor: s.Cursor, Mode: ModeIdle}, nil
}

// Advance moves past the item that just resolved. A pause requested during the command does
// not prevent the advance; the command has completed.
func (s State) Advance() (State, error) {
	switch {
	case s.mode() == ModeIdle:
		return s, invalid("advance", s, "run was stopped")
	case s.Done():
		return s, invalid("advance", s, "cursor at end")
	}
	return State{Items: s.Items, Cursor: s.Cursor + 1, Mode: s.Mode}, nil
}

// Snapshot renders the state for panels.
func (s State) Snapshot() schemas.StateSnapshot {
	return schemas.StateSnapshot{
		Action: schemas.ActionState,
		Mode:   string(s.mode()),
		Cursor: s.Cursor,
		Total:  len(s.Items),
	}
}
