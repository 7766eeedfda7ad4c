// internal/panel/server_test.go
package panel

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
	"github.com/xkilldash9x/fireflybatch/internal/bus"
	"github.com/xkilldash9x/fireflybatch/internal/mocks"
	"github.com/xkilldash9x/fireflybatch/internal/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type frame struct {
	Action  string `json:"action"`
	Message string `json:"message"`
	Type    string `json:"type"`
	Mode    string `json:"mode"`
	Cursor  int    `json:"cursor"`
	Total   int    `json:"total"`
}

type harness struct {
	t    *testing.T
	addr string
	ctrl *queue.Controller
	stop func()
}

func startPanel(t *testing.T, cfg Config) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	d := new(mocks.MockDispatcher)
	d.On("Dispatch", mock.Anything, mock.Anything).Return(schemas.Succeeded(4), nil)

	logs := bus.NewLogBus(logger, 64)
	ctrl := queue.NewController(d, logs, logger)
	srv := NewServer(ctrl, logs, cfg, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	h := &harness{t: t, addr: ln.Addr().String(), ctrl: ctrl}
	h.stop = func() {
		cancel()
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("panel did not shut down")
		}
		_ = ctrl.Wait(context.Background())
		logs.Shutdown()
	}
	return h
}

func (h *harness) dial() *websocket.Conn {
	h.t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+h.addr+"/ws", nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var f frame
		require.NoError(t, jsoniter.Unmarshal(data, &f))
		if match(f) {
			return f
		}
	}
}

func logMessage(msg string) func(frame) bool {
	return func(f frame) bool { return f.Action == schemas.ActionLog && f.Message == msg }
}

func TestServer_StreamsStateAndLogs(t *testing.T) {
	h := startPanel(t, Config{})
	defer h.stop()
	conn := h.dial()

	first := readUntil(t, conn, func(frame) bool { return true })
	assert.Equal(t, schemas.ActionState, first.Action)
	assert.Equal(t, "idle", first.Mode)
	assert.Zero(t, first.Total)

	send(t, conn, `{"action":"LOAD","prompts":"a red fox\n\n an owl \n"}`)
	loaded := readUntil(t, conn, func(f frame) bool { return f.Action == schemas.ActionState && f.Total == 2 })
	assert.Equal(t, 0, loaded.Cursor)
	readUntil(t, conn, logMessage("Loaded 2 prompts."))

	send(t, conn, `{"action":"START"}`)
	done := readUntil(t, conn, logMessage("All prompts processed!"))
	assert.Equal(t, "success", done.Type)

	st := h.ctrl.State()
	assert.Equal(t, 2, st.Cursor)
	assert.Equal(t, []string{"a red fox", "an owl"}, st.Items)
}

func TestServer_RejectedControlIsReportedToSender(t *testing.T) {
	h := startPanel(t, Config{})
	defer h.stop()
	conn := h.dial()
	readUntil(t, conn, func(frame) bool { return true })

	send(t, conn, `{"action":"PAUSE"}`)
	f := readUntil(t, conn, func(f frame) bool { return f.Action == schemas.ActionLog })
	assert.Equal(t, "error", f.Type)
	assert.True(t, strings.HasPrefix(f.Message, "Cannot PAUSE: "), f.Message)

	send(t, conn, `not json`)
	readUntil(t, conn, logMessage("Malformed control message."))

	send(t, conn, `{"action":"DANCE"}`)
	readUntil(t, conn, logMessage(`Cannot DANCE: unknown action "DANCE"`))
}

func TestServer_RateLimitsControlFrames(t *testing.T) {
	h := startPanel(t, Config{ControlRate: 0.001, ControlBurst: 1})
	defer h.stop()
	conn := h.dial()
	readUntil(t, conn, func(frame) bool { return true })

	send(t, conn, `{"action":"RESET"}`)
	send(t, conn, `{"action":"RESET"}`)
	readUntil(t, conn, logMessage("Too many control messages; slow down."))
}

func TestServer_BroadcastsToEveryClient(t *testing.T) {
	h := startPanel(t, Config{})
	defer h.stop()
	a := h.dial()
	b := h.dial()
	readUntil(t, a, func(frame) bool { return true })
	readUntil(t, b, func(frame) bool { return true })

	send(t, a, `{"action":"LOAD","prompts":"x\ny\nz"}`)
	readUntil(t, a, logMessage("Loaded 3 prompts."))
	readUntil(t, b, logMessage("Loaded 3 prompts."))
}

func TestServer_StateEndpoint(t *testing.T) {
	h := startPanel(t, Config{})
	defer h.stop()
	require.NoError(t, h.ctrl.Load([]string{"one", "two", "three"}))

	resp, err := http.Get("http://" + h.addr + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap schemas.StateSnapshot
	require.NoError(t, jsoniter.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, schemas.StateSnapshot{Action: schemas.ActionState, Mode: "idle", Total: 3}, snap)

	post, err := http.Post("http://"+h.addr+"/state", "text/plain", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	s := NewServer(nil, nil, Config{AllowedOrigin: "http://localhost:3000"}, zaptest.NewLogger(t))
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://127.0.0.1:8765", true},
		{"http://localhost:3000", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8765/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, s.checkOrigin(r), tt.origin)
	}
}
