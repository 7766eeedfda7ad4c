// api/schemas/messages.go
package schemas

import (
	"context"
	"errors"
)

// Action names carried on the wire. They mirror the message names the panel and the page
// exchange, so a frame can be routed by inspecting a single field.
const (
	ActionProcessPrompt = "PROCESS_PROMPT"
	ActionLog           = "LOG"
	ActionState         = "STATE"
	ActionLoad          = "LOAD"
	ActionStart         = "START"
	ActionResume        = "RESUME"
	ActionPause         = "PAUSE"
	ActionStop          = "STOP"
	ActionReset         = "RESET"
)

// ErrConnectionLost signals that the page receiving commands has gone away (tab closed,
// navigated, browser detached). It is fatal for the whole run, never for a single prompt.
var ErrConnectionLost = errors.New("lost connection to page")

// Command is sent once per queue item. At most one may be in flight per page.
type Command struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
	Prompt string `json:"prompt"`
}

// NewProcessPrompt builds a PROCESS_PROMPT command.
func NewProcessPrompt(id, prompt string) Command {
	return Command{ID: id, Action: ActionProcessPrompt, Prompt: prompt}
}

// OutcomeStatus is the terminal status of a Command.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusError   OutcomeStatus = "error"
)

// Outcome is the terminal result of one Command.
type Outcome struct {
	Status  OutcomeStatus `json:"status"`
	Count   int           `json:"count"`
	Message string        `json:"message,omitempty"`
}

// Succeeded builds a success outcome. A zero count is still a success: the queue must move on.
func Succeeded(count int) Outcome {
	return Outcome{Status: StatusSuccess, Count: count}
}

// Failed builds an error outcome from err.
func Failed(err error) Outcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Outcome{Status: StatusError, Message: msg}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.Status == StatusSuccess }

// Severity classifies a LogEvent.
type Severity string

const (
	SeverityStep    Severity = "step"
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityStep, SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// LogEvent is a fire-and-forget progress message. It has no timestamp of its own;
// whoever renders it stamps the time.
type LogEvent struct {
	Message   string   `json:"message"`
	Severity  Severity `json:"type"`
	CommandID string   `json:"commandId,omitempty"`
}

// LogSink receives log events. Implementations must not block the caller.
type LogSink interface {
	Emit(ev LogEvent)
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(LogEvent)

// Emit calls f(ev).
func (f LogSinkFunc) Emit(ev LogEvent) { f(ev) }

// NopSink discards every event.
var NopSink LogSink = LogSinkFunc(func(LogEvent) {})

// Dispatcher delivers a Command to the page and waits for its Outcome. A non-nil error means
// the command could not be delivered or completed at all (e.g. ErrConnectionLost), as opposed
// to an error Outcome, which is a per-prompt failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd Command) (Outcome, error)
}

// StateSnapshot is the queue status published to panels.
type StateSnapshot struct {
	Action string `json:"action"`
	Mode   string `json:"mode"`
	Cursor int    `json:"cursor"`
	Total  int    `json:"total"`
}
