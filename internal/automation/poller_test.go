// internal/automation/poller_test.go
package automation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
)

// scriptedEvaluator reports ready from the readyAt-th poll on (never when readyAt is 0).
type scriptedEvaluator struct {
	calls   int
	readyAt int
	err     error
}

func (s *scriptedEvaluator) Evaluate(ctx context.Context, prompt string, baseline int) (Detection, error) {
	s.calls++
	if s.err != nil {
		return Detection{}, s.err
	}
	if s.readyAt > 0 && s.calls >= s.readyAt {
		return Detection{Ready: true, Reason: ReasonCountIncrease, Observed: baseline + 4}, nil
	}
	return Detection{Observed: baseline}, nil
}

// scriptedAttempter returns results in order, repeating the last one.
type scriptedAttempter struct {
	results []int
	calls   int
}

func (s *scriptedAttempter) Attempt(ctx context.Context) (int, error) {
	i := s.calls
	s.calls++
	if len(s.results) == 0 {
		return 0, nil
	}
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}

func TestOrchestrator_TimeoutAfterBoundedPolls(t *testing.T) {
	for _, cfg := range []Config{GalleryConfig(), func() Config { c := BatchConfig(); c.FallbackOnTimeout = false; return c }()} {
		t.Run(cfg.Preset, func(t *testing.T) {
			h := newHarness(t)
			eval := &scriptedEvaluator{}
			dl := &scriptedAttempter{}

			n, err := newOrchestrator(eval, dl, h.clock, cfg, h.rep).Run(testCtx(), "p", 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTimeout)
			assert.Zero(t, n)

			want := int(math.Ceil(float64(cfg.Timeout) / float64(cfg.PollInterval)))
			assert.InDelta(t, want, eval.calls, 1)
			assert.Equal(t, eval.calls, h.clock.CountSleeps(cfg.PollInterval))
			assert.Zero(t, dl.calls)
			assert.Equal(t, []string{"Image not generated."}, h.messages(schemas.SeverityError))
		})
	}
}

func TestOrchestrator_LivenessLogIsRateLimited(t *testing.T) {
	h := newHarness(t)
	cfg := GalleryConfig()

	_, err := newOrchestrator(&scriptedEvaluator{}, &scriptedAttempter{}, h.clock, cfg, h.rep).Run(testCtx(), "p", 0)
	require.ErrorIs(t, err, ErrTimeout)

	// Logged on the first check, then at most once per five seconds: 2s, 8s, 14s ... 44s.
	checks := h.messages(schemas.SeverityStep)
	assert.Len(t, checks, 8)
	for _, m := range checks {
		assert.Equal(t, "Checking Generated Image.....", m)
	}
}

func TestOrchestrator_RetryBackoff(t *testing.T) {
	h := newHarness(t)
	cfg := GalleryConfig()
	dl := &scriptedAttempter{results: []int{0, 0, 2}}

	n, err := newOrchestrator(&scriptedEvaluator{readyAt: 3}, dl, h.clock, cfg, h.rep).Run(testCtx(), "p", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, dl.calls)
	assert.Equal(t, 2, h.clock.CountSleeps(3*time.Second), "exactly two backoffs")
	assert.Equal(t, 1, h.clock.CountSleeps(5*time.Second), "one stabilization wait")
	assert.Equal(t, 3, h.clock.CountSleeps(cfg.PollInterval))
	assert.Contains(t, h.messages(schemas.SeveritySuccess), "Image Generated!")
}

func TestOrchestrator_ExhaustedRetriesResolveAsZero(t *testing.T) {
	h := newHarness(t)
	cfg := GalleryConfig()
	dl := &scriptedAttempter{results: []int{0}}

	n, err := newOrchestrator(&scriptedEvaluator{readyAt: 1}, dl, h.clock, cfg, h.rep).Run(testCtx(), "p", 0)
	require.NoError(t, err, "a ready generation without downloads must not stall the queue")
	assert.Zero(t, n)
	assert.Equal(t, cfg.DownloadRetries, dl.calls)
	assert.Equal(t, cfg.DownloadRetries-1, h.clock.CountSleeps(cfg.RetryBackoff))
	assert.NotEmpty(t, h.messages(schemas.SeverityWarning))
}

func TestOrchestrator_BatchDownloadsImmediately(t *testing.T) {
	h := newHarness(t)
	cfg := BatchConfig()
	dl := &scriptedAttempter{results: []int{4}}

	n, err := newOrchestrator(&scriptedEvaluator{readyAt: 2}, dl, h.clock, cfg, h.rep).Run(testCtx(), "p", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []time.Duration{cfg.PollInterval, cfg.PollInterval}, h.clock.Sleeps())
}

func TestOrchestrator_FallbackOnTimeout(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		h := newHarness(t)
		dl := &scriptedAttempter{results: []int{4}}

		n, err := newOrchestrator(&scriptedEvaluator{}, dl, h.clock, BatchConfig(), h.rep).Run(testCtx(), "p", 0)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, 1, dl.calls)
		assert.Contains(t, h.messages(schemas.SeveritySuccess), "Recovered via fallback download.")
	})

	t.Run("fails", func(t *testing.T) {
		h := newHarness(t)
		dl := &scriptedAttempter{}

		_, err := newOrchestrator(&scriptedEvaluator{}, dl, h.clock, BatchConfig(), h.rep).Run(testCtx(), "p", 0)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, []string{"Image not generated / Failed."}, h.messages(schemas.SeverityError))
	})

	t.Run("no batch on the page", func(t *testing.T) {
		h := newHarness(t)
		doc := parsePage(t, `<x-toolbar><template shadowrootmode="open">
			<sp-action-button data-testid="batch-action-downloadAll"></sp-action-button>
		</template></x-toolbar>`)
		cfg := BatchConfig()
		orch := newOrchestrator(NewDetector(doc, cfg), newDownloader(doc, h.pacer, cfg, h.rep), h.clock, cfg, h.rep)

		n, err := orch.Run(testCtx(), "p", 0)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Zero(t, n)
		assert.Zero(t, doc.CountEvents("click"))
		assert.Contains(t, h.messages(schemas.SeverityWarning), "No batches found.")
	})
}

func TestOrchestrator_FatalErrorsAbort(t *testing.T) {
	h := newHarness(t)
	eval := &scriptedEvaluator{err: schemas.ErrConnectionLost}

	_, err := newOrchestrator(eval, &scriptedAttempter{}, h.clock, GalleryConfig(), h.rep).Run(testCtx(), "p", 0)
	assert.ErrorIs(t, err, schemas.ErrConnectionLost)
	assert.Equal(t, 1, eval.calls)
}

func TestOrchestrator_TransientErrorsKeepPolling(t *testing.T) {
	h := newHarness(t)
	eval := &scriptedEvaluator{err: errors.New("node detached during query")}

	_, err := newOrchestrator(eval, &scriptedAttempter{}, h.clock, GalleryConfig(), h.rep).Run(testCtx(), "p", 0)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Greater(t, eval.calls, 1)
}

func TestOrchestrator_Cancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := contextWithCancel()
	polls := 0
	h.clock.OnSleep = func(time.Time, time.Duration) {
		polls++
		if polls == 3 {
			cancel()
		}
	}

	_, err := newOrchestrator(&scriptedEvaluator{}, &scriptedAttempter{}, h.clock, GalleryConfig(), h.rep).Run(ctx, "p", 0)
	assert.ErrorIs(t, err, context.Canceled)
}
