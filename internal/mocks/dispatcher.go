// File: internal/mocks/dispatcher.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
)

// MockDispatcher mocks schemas.Dispatcher.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, cmd schemas.Command) (schemas.Outcome, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(schemas.Outcome), args.Error(1)
}

// RecordingSink collects log events in memory.
type RecordingSink struct {
	mu     sync.Mutex
	events []schemas.LogEvent
}

func (s *RecordingSink) Emit(ev schemas.LogEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of the collected events.
func (s *RecordingSink) Events() []schemas.LogEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.LogEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Messages returns the message text of every collected event.
func (s *RecordingSink) Messages() []string {
	evs := s.Events()
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Message)
	}
	return out
}
