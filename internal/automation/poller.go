// internal/automation/poller.go
package automation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fireflybatch/internal/humanoid"
)

// Evaluator is the completion predicate the orchestrator polls.
type Evaluator interface {
	Evaluate(ctx context.Context, prompt string, baseline int) (Detection, error)
}

// Attempter performs one download attempt and returns how many downloads it triggered.
type Attempter interface {
	Attempt(ctx context.Context) (int, error)
}

// Orchestrator waits for a generation to finish and then downloads its results. Each call to
// Run owns its own poll state.
type Orchestrator struct {
	detect   Evaluator
	download Attempter
	clock    humanoid.Clock
	cfg      Config
	log      *reporter
}

func newOrchestrator(detect Evaluator, download Attempter, clock humanoid.Clock, cfg Config, log *reporter) *Orchestrator {
	return &Orchestrator{detect: detect, download: download, clock: clock, cfg: cfg, log: log}
}

// pollState lives for exactly one Run.
type pollState struct {
	start   time.Time
	polls   int
	nextLog time.Time
}

// Run polls until the detector reports ready or the timeout passes. It returns the number of
// downloads triggered. A ready generation that yields no downloads resolves as zero with a nil
// error so the queue keeps moving.
func (o *Orchestrator) Run(ctx context.Context, prompt string, baseline int) (int, error) {
	now := o.clock.Now()
	// nextLog starts at now so the first check is logged.
	st := &pollState{start: now, nextLog: now}

	for {
		// Sleep first: the generate click was just sent and the page needs time to react.
		if err := o.clock.Sleep(ctx, o.cfg.PollInterval); err != nil {
			return 0, err
		}
		st.polls++

		// A failed read is one more "not ready". Only a lost page or a cancelled command ends
		// the loop early.
		det, err := o.detect.Evaluate(ctx, prompt, baseline)
		if err != nil {
			if fatal(err) {
				return 0, err
			}
			o.log.logger.Debug("evaluation failed, treating as not ready", zap.Error(err), zap.Int("poll", st.polls))
		}
		if det.Ready {
			o.log.logger.Debug("generation ready",
				zap.String("reason", string(det.Reason)),
				zap.Int("observed", det.Observed),
				zap.Int("baseline", baseline),
				zap.Int("polls", st.polls))
			o.log.success("Image Generated!")
			return o.downloadWithRetry(ctx)
		}

		// Timeout is measured from the start of Run, not counted in polls, so slow evaluations
		// still respect the bound.
		tick := o.clock.Now()
		elapsed := tick.Sub(st.start)
		if elapsed > o.cfg.Timeout {
			o.log.logger.Debug("poll timed out", zap.Int("polls", st.polls), zap.Duration("elapsed", elapsed))
			return o.timedOut(ctx)
		}

		// Liveness log, at most once per LogInterval.
		if !tick.Before(st.nextLog) {
			o.log.step("Checking Generated Image.....")
			st.nextLog = tick.Add(o.cfg.LogInterval)
		}
	}
}

// downloadWithRetry waits for the results to settle and then makes up to DownloadRetries attempts.
func (o *Orchestrator) downloadWithRetry(ctx context.Context) (int, error) {
	// Ready fires as soon as the first image lands. The rest of the set and its controls
	// render over the next few seconds.
	if o.cfg.StabilizationDelay > 0 {
		o.log.info("Waiting %s for results to settle...", o.cfg.StabilizationDelay)
		if err := o.clock.Sleep(ctx, o.cfg.StabilizationDelay); err != nil {
			return 0, err
		}
	}

	attempts := o.cfg.DownloadRetries
	if attempts < 1 {
		attempts = 1
	}
	// Zero downloads is retried after RetryBackoff. An error from Attempt is already fatal.
	for i := 1; i <= attempts; i++ {
		n, err := o.download.Attempt(ctx)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return n, nil
		}
		if i < attempts {
			o.log.warn("No downloads triggered, retrying (%d/%d)...", i, attempts)
			if err := o.clock.Sleep(ctx, o.cfg.RetryBackoff); err != nil {
				return 0, err
			}
		}
	}

	// Soft failure: the queue moves on to the next prompt.
	o.log.warn("Download failed after %d attempt(s); moving on.", attempts)
	o.log.logger.Info("soft download failure", zap.Error(ErrDownloadFailure))
	return 0, nil
}

// timedOut fails the command, or with FallbackOnTimeout makes one last download attempt since the
// results may have landed without tripping either heuristic.
func (o *Orchestrator) timedOut(ctx context.Context) (int, error) {
	if !o.cfg.FallbackOnTimeout {
		o.log.fail("Image not generated.")
		return 0, fmt.Errorf("%w: no result after %s", ErrTimeout, o.cfg.Timeout)
	}

	n, err := o.download.Attempt(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.log.success("Recovered via fallback download.")
		return n, nil
	}
	o.log.fail("Image not generated / Failed.")
	return 0, fmt.Errorf("%w: failed to download after %s", ErrTimeout, o.cfg.Timeout)
}
