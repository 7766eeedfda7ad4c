// internal/panel/client.go
package panel

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
)

const (
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Prompt files arrive inside LOAD frames.
	maxMessageSize = 4 << 20
)

// client is a middleman between one websocket connection and the hub.
type client struct {
	id      string
	srv     *Server
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
}

// readPump decodes control frames and applies them until the connection fails.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.srv.hub.unregister <- c:
		case <-ctx.Done():
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.srv.logger.Warn("Panel client read error.", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		if !c.limiter.Allow() {
			c.reply(schemas.SeverityWarning, "Too many control messages; slow down.")
			continue
		}
		frame, err := schemas.DecodeControl(message)
		if err != nil {
			c.srv.logger.Debug("Ignoring malformed control frame.", zap.String("client_id", c.id), zap.Error(err))
			c.reply(schemas.SeverityError, "Malformed control message.")
			continue
		}
		if err := c.srv.apply(frame); err != nil {
			c.reply(schemas.SeverityError, "Cannot "+frame.Action+": "+err.Error())
		}
	}
}

// reply sends a LOG frame to this client only.
func (c *client) reply(sev schemas.Severity, msg string) {
	data, err := schemas.EncodeLog(schemas.LogEvent{Message: msg, Severity: sev})
	if err != nil {
		return
	}
	c.srv.hub.mu.RLock()
	defer c.srv.hub.mu.RUnlock()
	if _, ok := c.srv.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump sends queued frames and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
