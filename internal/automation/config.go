// internal/automation/config.go
package automation

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/fireflybatch/internal/humanoid"
)

// Preset names.
const (
	PresetGallery = "gallery"
	PresetBatch   = "batch"
)

// Config tunes detection, download and pacing. Both page layouts Firefly has shipped are
// expressed as presets of this one struct.
type Config struct {
	Preset string

	// Polling
	Timeout      time.Duration
	PollInterval time.Duration
	LogInterval  time.Duration
	// FallbackOnTimeout makes a timed-out poll try one best-effort download before failing.
	FallbackOnTimeout bool

	// Detection
	BatchIncrement int
	MatchPrefixLen int
	// BatchSelector, when set, switches counting from images to generation batches and scopes
	// downloads to the newest batch.
	BatchSelector string
	// RequireDownloadControl makes count growth only count once the newest batch exposes a
	// download control.
	RequireDownloadControl bool

	// Download
	DownloadRetries    int
	StabilizationDelay time.Duration
	RetryBackoff       time.Duration
	BatchSize          int
	MinImageWidth      float64
	HoverSettle        time.Duration
	PreClickDelay      time.Duration
	PostClickDelay     time.Duration
	ConsentDelay       time.Duration

	// Typing and pacing
	Typing      humanoid.Range
	SettleDelay time.Duration
	Cooldown    humanoid.Range

	// Waiting for the prompt field
	FieldTimeout time.Duration
	WaitInterval time.Duration
}

// base holds the values both presets share.
func base() Config {
	return Config{
		PollInterval:   2 * time.Second,
		LogInterval:    5 * time.Second,
		BatchIncrement: 4,
		MatchPrefixLen: 15,
		RetryBackoff:   3 * time.Second,
		BatchSize:      4,
		MinImageWidth:  100,
		HoverSettle:    time.Second,
		PreClickDelay:  200 * time.Millisecond,
		PostClickDelay: time.Second,
		ConsentDelay:   500 * time.Millisecond,
		SettleDelay:    500 * time.Millisecond,
		Cooldown:       humanoid.Range{Min: time.Second, Max: 3 * time.Second},
		FieldTimeout:   10 * time.Second,
		WaitInterval:   500 * time.Millisecond,
	}
}

// GalleryConfig targets the image gallery layout: image heuristics, a stabilization wait and
// three download attempts.
func GalleryConfig() Config {
	c := base()
	c.Preset = PresetGallery
	c.Timeout = 45 * time.Second
	c.StabilizationDelay = 5 * time.Second
	c.DownloadRetries = 3
	c.Typing = humanoid.Range{Min: 5 * time.Millisecond, Max: 25 * time.Millisecond}
	return c
}

// BatchConfig targets the batch layout: one batch element per run, immediate download and a
// fallback download when polling times out.
func BatchConfig() Config {
	c := base()
	c.Preset = PresetBatch
	c.Timeout = 30 * time.Second
	c.BatchSelector = "firefly-image-generation-batch"
	c.BatchIncrement = 1
	c.RequireDownloadControl = true
	c.DownloadRetries = 1
	c.FallbackOnTimeout = true
	c.Typing = humanoid.Range{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	return c
}

// PresetConfig returns the named preset. An empty name selects the gallery preset.
func PresetConfig(name string) (Config, error) {
	switch name {
	case "", PresetGallery:
		return GalleryConfig(), nil
	case PresetBatch:
		return BatchConfig(), nil
	default:
		return Config{}, fmt.Errorf("unknown automation preset %q (want %q or %q)", name, PresetGallery, PresetBatch)
	}
}

// Validate checks the values that would otherwise stall or spin the poll loop.
func (c Config) Validate() error {
	switch {
	case c.Timeout <= 0:
		return fmt.Errorf("automation: timeout must be positive, got %s", c.Timeout)
	case c.PollInterval <= 0:
		return fmt.Errorf("automation: poll interval must be positive, got %s", c.PollInterval)
	case c.LogInterval <= 0:
		return fmt.Errorf("automation: log interval must be positive, got %s", c.LogInterval)
	case c.BatchIncrement < 1:
		return fmt.Errorf("automation: batch increment must be at least 1, got %d", c.BatchIncrement)
	case c.MatchPrefixLen < 1:
		return fmt.Errorf("automation: match prefix length must be at least 1, got %d", c.MatchPrefixLen)
	case c.DownloadRetries < 1:
		return fmt.Errorf("automation: download retries must be at least 1, got %d", c.DownloadRetries)
	case c.WaitInterval <= 0:
		return fmt.Errorf("automation: wait interval must be positive, got %s", c.WaitInterval)
	case c.Typing.Max < c.Typing.Min:
		return fmt.Errorf("automation: typing delay range is inverted (%s > %s)", c.Typing.Min, c.Typing.Max)
	case c.Cooldown.Max < c.Cooldown.Min:
		return fmt.Errorf("automation: cooldown range is inverted (%s > %s)", c.Cooldown.Min, c.Cooldown.Max)
	}
	return nil
}
