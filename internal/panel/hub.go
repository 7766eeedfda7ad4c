// internal/panel/hub.go
package panel

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// hub tracks connected panel clients and fans frames out to them.
type hub struct {
	logger     *zap.Logger
	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		logger:     logger,
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// run owns the client set until ctx ends, then closes every client's send channel.
func (h *hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("Panel client connected.", zap.String("client_id", c.id))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Info("Panel client disconnected.", zap.String("client_id", c.id))
			}
			h.mu.Unlock()

		case frame := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					// A client that cannot keep up is dropped; it can reconnect.
					delete(h.clients, c)
					close(c.send)
					h.logger.Warn("Panel client too slow, disconnecting.", zap.String("client_id", c.id))
				}
			}
			h.mu.Unlock()
		}
	}
}

// publish queues frame for every client. It gives up when ctx ends.
func (h *hub) publish(ctx context.Context, frame []byte) {
	select {
	case h.broadcast <- frame:
	case <-ctx.Done():
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
