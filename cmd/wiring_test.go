// File: cmd/wiring_test.go
package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
	"github.com/xkilldash9x/fireflybatch/internal/automation"
	"github.com/xkilldash9x/fireflybatch/internal/config"
	"github.com/xkilldash9x/fireflybatch/internal/humanoid"
)

func boolp(b bool) *bool { return &b }

func TestAutomationConfig(t *testing.T) {
	t.Run("PresetDefaults", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		ac, err := automationConfig(cfg)
		require.NoError(t, err)
		assert.Equal(t, automation.GalleryConfig(), ac)
	})

	t.Run("Overrides", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Automation.Preset = automation.PresetBatch
		cfg.Automation.Timeout = time.Minute
		cfg.Automation.DownloadRetries = 2
		cfg.Automation.FallbackOnTimeout = boolp(false)
		cfg.Automation.MatchPrefixLen = 24
		cfg.Automation.BatchIncrement = 2
		cfg.Pacing.TypingMin = time.Millisecond
		cfg.Pacing.TypingMax = 2 * time.Millisecond

		ac, err := automationConfig(cfg)
		require.NoError(t, err)
		assert.Equal(t, automation.PresetBatch, ac.Preset)
		assert.Equal(t, time.Minute, ac.Timeout)
		assert.Equal(t, 2, ac.DownloadRetries)
		assert.False(t, ac.FallbackOnTimeout)
		assert.Equal(t, 24, ac.MatchPrefixLen)
		assert.Equal(t, 2, ac.BatchIncrement)
		assert.Equal(t, humanoid.Range{Min: time.Millisecond, Max: 2 * time.Millisecond}, ac.Typing)
		// Untouched values keep the preset's.
		assert.Equal(t, automation.BatchConfig().BatchSelector, ac.BatchSelector)
		assert.Equal(t, automation.BatchConfig().Cooldown, ac.Cooldown)
	})

	t.Run("DetectorOverridesOnGalleryPreset", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Automation.MatchPrefixLen = 30
		cfg.Automation.BatchIncrement = 1

		ac, err := automationConfig(cfg)
		require.NoError(t, err)
		want := automation.GalleryConfig()
		want.MatchPrefixLen = 30
		want.BatchIncrement = 1
		assert.Equal(t, want, ac)
	})

	t.Run("UnknownPreset", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.Automation.Preset = "mosaic"
		_, err := automationConfig(cfg)
		assert.Error(t, err)
	})
}

func TestNewPacer_SeedIsReproducible(t *testing.T) {
	r := humanoid.Range{Min: time.Millisecond, Max: time.Second}
	a := newPacer(config.PacingConfig{Seed: 42})
	b := newPacer(config.PacingConfig{Seed: 42})
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Uniform(r), b.Uniform(r))
	}
}

func TestLogPipeline_RendersUntilClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer

	lp := startLogPipeline(ctx, config.NewDefaultConfig(), &out, zaptest.NewLogger(t))
	lp.bus.Emit(schemas.LogEvent{Message: "Prompt 1/2: \"fox\"", Severity: schemas.SeverityStep})
	// An interrupted run still gets its last words rendered.
	cancel()
	lp.bus.Emit(schemas.LogEvent{Message: "Automation interrupted.", Severity: schemas.SeverityWarning})
	require.NoError(t, lp.close())

	assert.Contains(t, out.String(), `… Prompt 1/2: "fox"`)
	assert.Contains(t, out.String(), "! Automation interrupted.")
}
