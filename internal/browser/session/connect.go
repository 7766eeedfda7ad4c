// internal/browser/session/connect.go
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fireflybatch/internal/browser/stealth"
	"github.com/xkilldash9x/fireflybatch/internal/config"
)

// ErrNoTargetTab is returned when no open tab matches the configured host.
var ErrNoTargetTab = errors.New("Please open Adobe Firefly tab first")

// TargetInfo is one entry of the DevTools /json/list endpoint.
type TargetInfo struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Open connects to the Firefly tab the way cfg.Mode asks for.
func Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Page, error) {
	switch cfg.Mode {
	case config.ModeAttach:
		return Attach(ctx, cfg, logger)
	case config.ModeLaunch:
		return Launch(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("unknown browser mode %q", cfg.Mode)
}

// ListTargets queries the DevTools HTTP endpoint for open targets.
func ListTargets(ctx context.Context, client *http.Client, remoteURL string) ([]TargetInfo, error) {
	if client == nil {
		client = http.DefaultClient
	}
	endpoint := strings.TrimRight(remoteURL, "/") + "/json/list"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build target list request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query %s: unexpected status %s", endpoint, resp.Status)
	}
	var targets []TargetInfo
	if err := wire.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("decode target list: %w", err)
	}
	return targets, nil
}

// PickTarget returns the first page whose URL contains host.
func PickTarget(targets []TargetInfo, host string) (TargetInfo, error) {
	for _, t := range targets {
		if t.Type == "page" && strings.Contains(t.URL, host) {
			return t, nil
		}
	}
	return TargetInfo{}, ErrNoTargetTab
}

// Attach binds to an already open Firefly tab in a browser started with a remote debugging
// port. Closing the returned Page leaves the tab open.
func Attach(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Page, error) {
	listCtx, cancel := context.WithTimeout(ctx, cfg.ReadyTimeout)
	defer cancel()
	targets, err := ListTargets(listCtx, nil, cfg.RemoteURL)
	if err != nil {
		return nil, err
	}
	info, err := PickTarget(targets, cfg.TargetHost)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := logger.Named("page").With(zap.String("session_id", id), zap.String("target_id", info.ID))

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithTargetID(target.ID(info.ID)), contextLogging(cfg, log))
	if err := runReady(tabCtx, cfg.ReadyTimeout); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("attach to %s: %w", info.URL, err)
	}

	// Dropping the connection before the tab context leaves the user's tab open.
	p := newPage(tabCtx, id, target.ID(info.ID), log, func() {
		allocCancel()
		tabCancel()
	})
	log.Info("Attached to Firefly tab.", zap.String("url", info.URL), zap.String("title", info.Title))
	return p, nil
}

// Launch starts a headful Chromium on a persistent profile, so a signed-in session survives
// between runs, and opens cfg.StartURL.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Page, error) {
	if err := os.MkdirAll(cfg.UserDataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create profile directory: %w", err)
	}

	id := uuid.NewString()
	log := logger.Named("page").With(zap.String("session_id", id))

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, launchOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, contextLogging(cfg, log))
	cancelAll := func() {
		tabCancel()
		allocCancel()
	}

	tasks := chromedp.Tasks{}
	if cfg.Stealth {
		tasks = append(tasks, stealth.Apply(stealth.DefaultPersona, log))
	}
	tasks = append(tasks, chromedp.Navigate(cfg.StartURL))

	// The first Run allocates the browser and must use the tab context itself: the browser
	// lives as long as that context.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelAll()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	readyCtx, cancel := context.WithTimeout(tabCtx, cfg.ReadyTimeout)
	defer cancel()
	if err := chromedp.Run(readyCtx, tasks); err != nil {
		cancelAll()
		return nil, fmt.Errorf("open %s: %w", cfg.StartURL, err)
	}

	var targetID target.ID
	if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
		targetID = c.Target.TargetID
	}
	p := newPage(tabCtx, id, targetID, log.With(zap.String("target_id", string(targetID))), cancelAll)
	log.Info("Launched browser.", zap.String("url", cfg.StartURL), zap.String("profile", cfg.UserDataDir))
	return p, nil
}

// launchOptions builds the allocator options for a visible, persistent browser.
func launchOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserDataDir(cfg.UserDataDir),
		chromedp.Flag("headless", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

func contextLogging(cfg config.BrowserConfig, log *zap.Logger) chromedp.ContextOption {
	sugar := log.Named("cdp").Sugar()
	if cfg.Debug {
		return chromedp.WithDebugf(sugar.Debugf)
	}
	return chromedp.WithErrorf(sugar.Errorf)
}

// runReady attaches the tab context and waits until the document answers.
func runReady(tabCtx context.Context, timeout time.Duration) error {
	if err := chromedp.Run(tabCtx); err != nil {
		return err
	}
	readyCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	return chromedp.Run(readyCtx, chromedp.WaitReady("body", chromedp.ByQuery))
}
