// internal/panel/server.go
package panel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
	"github.com/xkilldash9x/fireflybatch/internal/queue"
)

// Controls is the part of the queue controller the panel drives.
type Controls interface {
	Load(items []string) error
	Start(ctx context.Context) error
	Resume(ctx context.Context) error
	Pause() error
	Stop() error
	Reset() error
	State() queue.State
	OnChange(fn func(schemas.StateSnapshot))
}

// LogSource supplies the progress events streamed to panels.
type LogSource interface {
	Subscribe() (<-chan schemas.LogEvent, func())
}

// Config tunes the panel server.
type Config struct {
	Listen        string
	ControlRate   float64
	ControlBurst  int
	WriteTimeout  time.Duration
	AllowedOrigin string
}

func (c Config) withDefaults() Config {
	if c.ControlRate <= 0 {
		c.ControlRate = 5
	}
	if c.ControlBurst <= 0 {
		c.ControlBurst = 10
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Server exposes the queue over a websocket: LOG and STATE frames out, control frames in.
type Server struct {
	ctrl     Controls
	logs     LogSource
	cfg      Config
	logger   *zap.Logger
	hub      *hub
	upgrader websocket.Upgrader

	mu     sync.Mutex
	runCtx context.Context
}

// NewServer wires a panel to ctrl and logs.
func NewServer(ctrl Controls, logs LogSource, cfg Config, logger *zap.Logger) *Server {
	cfg = cfg.withDefaults()
	logger = logger.Named("panel")
	s := &Server{
		ctrl:   ctrl,
		logs:   logs,
		cfg:    cfg,
		logger: logger,
		hub:    newHub(logger),
		runCtx: context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin accepts same-host pages, tools that send no Origin, and the configured origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.cfg.AllowedOrigin != "" && origin == s.cfg.AllowedOrigin {
		return true
	}
	host := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	return host == r.Host
}

// Handler returns the HTTP routes: /ws for the socket and /state for a JSON snapshot.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/state", s.serveState)
	return mux
}

// Run pumps logs and state changes to clients until ctx ends. Queue runs started from the
// panel are bound to ctx.
func (s *Server) Run(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	s.ctrl.OnChange(func(snap schemas.StateSnapshot) {
		frame, err := schemas.EncodeState(snap)
		if err != nil {
			s.logger.Error("Failed to encode state frame.", zap.Error(err))
			return
		}
		s.hub.publish(ctx, frame)
	})

	events, unsubscribe := s.logs.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.hub.run(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			<-done
			return
		case ev, ok := <-events:
			if !ok {
				<-ctx.Done()
				<-done
				return
			}
			frame, err := schemas.EncodeLog(ev)
			if err != nil {
				s.logger.Error("Failed to encode log frame.", zap.Error(err))
				continue
			}
			s.hub.publish(ctx, frame)
		}
	}
}

// ListenAndServe serves the panel on cfg.Listen until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("panel listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the panel on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.Run(runCtx)
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpSrv.Serve(ln) }()
	s.logger.Info("Control panel listening.", zap.String("address", ln.Addr().String()))

	var err error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err = httpSrv.Shutdown(shutdownCtx)
		<-serveErr
	case err = <-serveErr:
	}
	stopRun()
	<-runDone
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) serveState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w).Encode(s.ctrl.State().Snapshot()); err != nil {
		s.logger.Warn("Failed to write state.", zap.Error(err))
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed.", zap.Error(err))
		return
	}
	ctx := s.context()
	c := &client{
		id:      uuid.NewString(),
		srv:     s,
		conn:    conn,
		send:    make(chan []byte, 256),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.ControlRate), s.cfg.ControlBurst),
	}

	// A fresh client learns the current state before any further frames.
	if frame, err := schemas.EncodeState(s.ctrl.State().Snapshot()); err == nil {
		c.send <- frame
	}

	select {
	case s.hub.register <- c:
	case <-ctx.Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(ctx)
}

func (s *Server) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

// apply maps a control frame onto the controller.
func (s *Server) apply(f schemas.ControlFrame) error {
	ctx := s.context()
	switch f.Action {
	case schemas.ActionLoad:
		prompts, err := queue.LoadPrompts(strings.NewReader(f.Prompts))
		if err != nil {
			return err
		}
		return s.ctrl.Load(prompts)
	case schemas.ActionStart:
		return s.ctrl.Start(ctx)
	case schemas.ActionResume:
		return s.ctrl.Resume(ctx)
	case schemas.ActionPause:
		return s.ctrl.Pause()
	case schemas.ActionStop:
		return s.ctrl.Stop()
	case schemas.ActionReset:
		return s.ctrl.Reset()
	}
	return fmt.Errorf("unknown action %q", f.Action)
}
