// api/schemas/codec.go
package schemas

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// logFrame is the on-the-wire form of a LogEvent.
type logFrame struct {
	Action    string   `json:"action"`
	Message   string   `json:"message"`
	Type      Severity `json:"type"`
	CommandID string   `json:"commandId,omitempty"`
}

// EncodeLog renders ev as a LOG frame.
func EncodeLog(ev LogEvent) ([]byte, error) {
	return wire.Marshal(logFrame{Action: ActionLog, Message: ev.Message, Type: ev.Severity, CommandID: ev.CommandID})
}

// EncodeOutcome renders an Outcome as a response frame.
func EncodeOutcome(o Outcome) ([]byte, error) {
	return wire.Marshal(o)
}

// EncodeCommand renders a Command frame.
func EncodeCommand(c Command) ([]byte, error) {
	if c.Action == "" {
		c.Action = ActionProcessPrompt
	}
	return wire.Marshal(c)
}

// EncodeState renders a STATE frame.
func EncodeState(s StateSnapshot) ([]byte, error) {
	s.Action = ActionState
	return wire.Marshal(s)
}

// ControlFrame is a control message sent by a panel.
type ControlFrame struct {
	Action  string `json:"action"`
	Prompts string `json:"prompts,omitempty"`
}

// DecodeControl parses a panel control frame.
func DecodeControl(data []byte) (ControlFrame, error) {
	var f ControlFrame
	if err := wire.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode control frame: %w", err)
	}
	if f.Action == "" {
		return f, fmt.Errorf("control frame has no action")
	}
	return f, nil
}

// DecodeOutcome parses a response frame.
func DecodeOutcome(data []byte) (Outcome, error) {
	var o Outcome
	if err := wire.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("decode outcome: %w", err)
	}
	switch o.Status {
	case StatusSuccess, StatusError:
		return o, nil
	}
	return o, fmt.Errorf("decode outcome: unknown status %q", o.Status)
}
