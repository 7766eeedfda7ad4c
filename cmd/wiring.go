// File: cmd/wiring.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"math/rand"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/fireflybatch/internal/automation"
	"github.com/xkilldash9x/fireflybatch/internal/browser/session"
	"github.com/xkilldash9x/fireflybatch/internal/bus"
	"github.com/xkilldash9x/fireflybatch/internal/config"
	"github.com/xkilldash9x/fireflybatch/internal/humanoid"
	"github.com/xkilldash9x/fireflybatch/internal/observability"
	"github.com/xkilldash9x/fireflybatch/internal/queue"
)

func consoleSyncer(cmd *cobra.Command) zapcore.WriteSyncer {
	return zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr()))
}

// automationConfig resolves the configured preset and layers the non-zero overrides on top.
func automationConfig(cfg *config.Config) (automation.Config, error) {
	ac, err := automation.PresetConfig(cfg.Automation.Preset)
	if err != nil {
		return automation.Config{}, err
	}

	o := cfg.Automation
	if o.Timeout > 0 {
		ac.Timeout = o.Timeout
	}
	if o.PollInterval > 0 {
		ac.PollInterval = o.PollInterval
	}
	if o.DownloadRetries > 0 {
		ac.DownloadRetries = o.DownloadRetries
	}
	if o.StabilizationDelay > 0 {
		ac.StabilizationDelay = o.StabilizationDelay
	}
	if o.RetryBackoff > 0 {
		ac.RetryBackoff = o.RetryBackoff
	}
	if o.BatchSelector != "" {
		ac.BatchSelector = o.BatchSelector
	}
	if o.FallbackOnTimeout != nil {
		ac.FallbackOnTimeout = *o.FallbackOnTimeout
	}
	if o.MatchPrefixLen > 0 {
		ac.MatchPrefixLen = o.MatchPrefixLen
	}
	if o.BatchIncrement > 0 {
		ac.BatchIncrement = o.BatchIncrement
	}

	p := cfg.Pacing
	if p.TypingMax > 0 {
		ac.Typing = humanoid.Range{Min: p.TypingMin, Max: p.TypingMax}
	}
	if p.CooldownMax > 0 {
		ac.Cooldown = humanoid.Range{Min: p.CooldownMin, Max: p.CooldownMax}
	}

	if err := ac.Validate(); err != nil {
		return automation.Config{}, err
	}
	return ac, nil
}

// newPacer seeds the pacer from the config, or from the clock when no seed is pinned.
func newPacer(p config.PacingConfig) *humanoid.Pacer {
	if p.Seed == 0 {
		return humanoid.NewPacer(humanoid.SystemClock{}, nil)
	}
	return humanoid.NewPacer(humanoid.SystemClock{}, rand.New(rand.NewSource(p.Seed)))
}

// logPipeline fans LogEvents out to the console renderer and the zap mirror.
type logPipeline struct {
	bus *bus.LogBus
	g   errgroup.Group
}

// startLogPipeline begins rendering progress to out. Rendering is not bound to ctx so the last
// lines of an interrupted run still reach the console; close drains and stops it.
func startLogPipeline(ctx context.Context, cfg *config.Config, out io.Writer, logger *zap.Logger) *logPipeline {
	lp := &logPipeline{bus: bus.NewLogBus(logger, cfg.Panel.LogBuffer)}
	drainCtx := context.WithoutCancel(ctx)

	console, _ := lp.bus.Subscribe()
	lp.g.Go(func() error {
		return bus.Render(drainCtx, console, out, nil)
	})

	mirrored, _ := lp.bus.Subscribe()
	sink := observability.NewMirrorSink(logger)
	lp.g.Go(func() error {
		observability.Mirror(drainCtx, mirrored, sink)
		return nil
	})
	return lp
}

// close shuts the bus down and waits for the subscribers to drain.
func (lp *logPipeline) close() error {
	lp.bus.Shutdown()
	return lp.g.Wait()
}

// firefly is one connected page with an agent and a queue controller on top.
type firefly struct {
	page       *session.Page
	downloads  *session.DownloadTracker
	agent      *automation.Agent
	controller *queue.Controller
}

// connect opens the Firefly tab and builds the agent and controller reporting to sink.
func connect(ctx context.Context, cfg *config.Config, lp *logPipeline, logger *zap.Logger) (*firefly, error) {
	ac, err := automationConfig(cfg)
	if err != nil {
		return nil, err
	}

	page, err := session.Open(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to Firefly: %w", err)
	}

	rt := &firefly{page: page}
	if cfg.Browser.DownloadDir != "" {
		rt.downloads = session.NewDownloadTracker(lp.bus, logger)
		if err := session.EnableDownloads(ctx, page, cfg.Browser.DownloadDir, rt.downloads); err != nil {
			// The page's own download behaviour still applies; keep going.
			logger.Warn("Could not redirect downloads.", zap.Error(err))
			rt.downloads = nil
		}
	}

	agent, err := automation.NewAgent(page, ac, newPacer(cfg.Pacing), lp.bus, logger)
	if err != nil {
		page.Close()
		return nil, err
	}
	rt.agent = agent
	rt.controller = queue.NewController(agent, lp.bus, logger)

	logger.Info("Ready.",
		zap.String("preset", ac.Preset),
		zap.String("mode", cfg.Browser.Mode),
		zap.Duration("timeout", ac.Timeout))
	return rt, nil
}

func (rt *firefly) close() {
	rt.page.Close()
}
