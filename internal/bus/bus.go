// internal/bus/bus.go
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
)

// LogBus fans LogEvents out to subscribers. Emit never blocks: an event is dropped for any
// subscriber whose buffer is full, and the drop is counted. There is no acknowledgement.
type LogBus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[chan schemas.LogEvent]struct{}
	bufferSize  int
	isShutdown  bool

	dropped  atomic.Uint64
	dropWarn *rate.Limiter

	shutdownOnce sync.Once
}

var _ schemas.LogSink = (*LogBus)(nil)

// NewLogBus initializes the LogBus. Each subscriber gets a buffer of bufferSize events.
func NewLogBus(logger *zap.Logger, bufferSize int) *LogBus {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &LogBus{
		logger:      logger.Named("log_bus"),
		subscribers: make(map[chan schemas.LogEvent]struct{}),
		bufferSize:  bufferSize,
		dropWarn:    rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Emit delivers ev to every subscriber that has room for it.
func (b *LogBus) Emit(ev schemas.LogEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.isShutdown {
		return
	}

	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			n := b.dropped.Add(1)
			if b.dropWarn.Allow() {
				b.logger.Warn("Subscriber is not keeping up, dropping log events.", zap.Uint64("dropped_total", n))
			}
		}
	}
}

// Subscribe returns a channel of events and a function that detaches it. The channel is
// closed on unsubscribe or Shutdown.
func (b *LogBus) Subscribe() (<-chan schemas.LogEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan schemas.LogEvent, b.bufferSize)
	if b.isShutdown {
		close(ch)
		return ch, func() {}
	}
	b.subscribers[ch] = struct{}{}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subscribers[ch]; ok {
				delete(b.subscribers, ch)
				close(ch)
			}
		})
	}
	return ch, unsubscribe
}

// Dropped returns the number of events dropped so far across all subscribers.
func (b *LogBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Shutdown closes every subscriber channel. Later Emits are discarded.
func (b *LogBus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.isShutdown = true
		for ch := range b.subscribers {
			close(ch)
		}
		b.subscribers = make(map[chan schemas.LogEvent]struct{})
		if n := b.dropped.Load(); n > 0 {
			b.logger.Debug("LogBus shut down with dropped events.", zap.Uint64("dropped", n))
		}
	})
}
