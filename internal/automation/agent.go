// internal/automation/agent.go
package automation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
	"github.com/xkilldash9x/fireflybatch/internal/browser/dom"
	"github.com/xkilldash9x/fireflybatch/internal/humanoid"
)

// Pinger is implemented by pages that can tell whether they are still attached.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Agent executes PROCESS_PROMPT commands against one page. It implements schemas.Dispatcher.
type Agent struct {
	page   dom.Primitives
	loc    *dom.Locator
	pacer  *humanoid.Pacer
	cfg    Config
	sink   schemas.LogSink
	logger *zap.Logger

	busy atomic.Bool
}

var _ schemas.Dispatcher = (*Agent)(nil)

// NewAgent creates an Agent. A nil sink discards progress events.
func NewAgent(page dom.Primitives, cfg Config, pacer *humanoid.Pacer, sink schemas.LogSink, logger *zap.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pacer == nil {
		pacer = humanoid.NewPacer(nil, nil)
	}
	if sink == nil {
		sink = schemas.NopSink
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		page:   page,
		loc:    dom.NewLocator(page),
		pacer:  pacer,
		cfg:    cfg,
		sink:   sink,
		logger: logger.Named("agent"),
	}, nil
}

// Config returns the agent's configuration.
func (a *Agent) Config() Config {
	return a.cfg
}

// Dispatch runs one command to completion. Per-prompt failures come back as an error Outcome
// with a nil error; a non-nil error (connection loss, cancellation, a concurrent command)
// means the command could not be processed at all.
func (a *Agent) Dispatch(ctx context.Context, cmd schemas.Command) (schemas.Outcome, error) {
	if cmd.Action != "" && cmd.Action != schemas.ActionProcessPrompt {
		return schemas.Failed(fmt.Errorf("unsupported action %q", cmd.Action)), nil
	}
	if !a.busy.CompareAndSwap(false, true) {
		return schemas.Outcome{}, ErrBusy
	}
	defer a.busy.Store(false)
	defer a.release(ctx)

	rep := newReporter(a.sink, a.logger, cmd.ID)

	if p, ok := a.page.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return schemas.Outcome{}, err
		}
	}

	count, err := a.process(ctx, cmd.Prompt, rep)
	if err != nil {
		if fatal(err) {
			return schemas.Outcome{}, err
		}
		// Timeouts were reported by the orchestrator already.
		if !errors.Is(err, ErrTimeout) {
			rep.fail("%s", err.Error())
		}
		rep.logger.Info("prompt failed", zap.Error(err))
		return schemas.Failed(err), nil
	}

	rep.success("Success!")
	rep.logger.Info("prompt completed", zap.Int("downloads", count))

	if err := a.pacer.Pause(ctx, a.cfg.Cooldown); err != nil {
		rep.logger.Debug("cooldown interrupted", zap.Error(err))
	}
	return schemas.Succeeded(count), nil
}

func (a *Agent) process(ctx context.Context, prompt string, rep *reporter) (int, error) {
	detector := NewDetector(a.page, a.cfg)

	baseline, err := detector.Count(ctx)
	if err != nil {
		return 0, err
	}
	rep.logger.Debug("baseline captured", zap.Int("baseline", baseline))

	field, err := WaitFor(ctx, a.loc, a.pacer.Clock(), "Prompt textarea", PromptFieldSelector, a.cfg.FieldTimeout, a.cfg.WaitInterval)
	if err != nil {
		return 0, err
	}

	rep.info("Typing prompt...")
	if err := NewInjector(a.page, a.pacer, a.cfg).SetPromptText(ctx, field, prompt); err != nil {
		return 0, err
	}

	sel, err := NewTrigger(a.page).Activate(ctx)
	if err != nil {
		return 0, err
	}
	rep.logger.Debug("generate clicked", zap.String("selector", sel))
	rep.info("Generating...")

	dl := newDownloader(a.page, a.pacer, a.cfg, rep)
	return newOrchestrator(detector, dl, a.pacer.Clock(), a.cfg, rep).Run(ctx, prompt, baseline)
}

func (a *Agent) release(ctx context.Context) {
	if err := a.page.Release(context.WithoutCancel(ctx)); err != nil {
		a.logger.Debug("failed to release page handles", zap.Error(err))
	}
}
