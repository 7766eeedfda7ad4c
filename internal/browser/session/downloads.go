// internal/browser/session/downloads.go
package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
)

// DownloadTracker follows browser download events and reports finished files.
type DownloadTracker struct {
	logger *zap.Logger
	sink   schemas.LogSink

	mu      sync.Mutex
	pending map[string]string // guid -> suggested filename

	completed atomic.Int64
	canceled  atomic.Int64
}

// NewDownloadTracker creates a tracker that reports to sink.
func NewDownloadTracker(sink schemas.LogSink, logger *zap.Logger) *DownloadTracker {
	if sink == nil {
		sink = schemas.NopSink
	}
	return &DownloadTracker{
		logger:  logger.Named("downloads"),
		sink:    sink,
		pending: make(map[string]string),
	}
}

// EnableDownloads routes the browser's downloads into dir and starts tracking them on t.
func EnableDownloads(ctx context.Context, p *Page, dir string, t *DownloadTracker) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}
	c := chromedp.FromContext(p.Context())
	if c == nil || c.Browser == nil {
		return fmt.Errorf("enable downloads: page has no browser connection")
	}
	runCtx, cancel := CombineContext(p.Context(), ctx)
	defer cancel()

	err := browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
		WithDownloadPath(dir).
		WithEventsEnabled(true).
		Do(cdp.WithExecutor(runCtx, c.Browser))
	if err != nil {
		return fmt.Errorf("set download behavior: %w", err)
	}
	chromedp.ListenBrowser(p.Context(), t.Handle)
	t.logger.Info("Downloads enabled.", zap.String("dir", dir))
	return nil
}

// Handle consumes one browser event. Non-download events are ignored.
func (t *DownloadTracker) Handle(ev interface{}) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		t.mu.Lock()
		t.pending[e.GUID] = e.SuggestedFilename
		t.mu.Unlock()
		t.logger.Debug("Download started.", zap.String("guid", e.GUID), zap.String("file", e.SuggestedFilename), zap.String("url", e.URL))

	case *browser.EventDownloadProgress:
		switch e.State {
		case browser.DownloadProgressStateCompleted:
			name := t.take(e.GUID)
			t.completed.Add(1)
			t.logger.Info("Download finished.", zap.String("file", name), zap.Float64("bytes", e.ReceivedBytes))
			t.sink.Emit(schemas.LogEvent{Message: "Saved " + name, Severity: schemas.SeverityInfo})
		case browser.DownloadProgressStateCanceled:
			name := t.take(e.GUID)
			t.canceled.Add(1)
			t.logger.Warn("Download canceled.", zap.String("file", name))
			t.sink.Emit(schemas.LogEvent{Message: "Download canceled: " + name, Severity: schemas.SeverityWarning})
		}
	}
}

func (t *DownloadTracker) take(guid string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	name, ok := t.pending[guid]
	if !ok {
		name = guid
	}
	delete(t.pending, guid)
	return name
}

// Completed is the number of downloads that finished.
func (t *DownloadTracker) Completed() int64 { return t.completed.Load() }

// Canceled is the number of downloads the browser gave up on.
func (t *DownloadTracker) Canceled() int64 { return t.canceled.Load() }

// Pending is the number of downloads still in progress.
func (t *DownloadTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
