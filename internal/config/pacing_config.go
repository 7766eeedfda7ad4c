// File: internal/config/pacing_config.go
package config

import (
	"fmt"
	"time"
)

// PacingConfig tunes the human-like timing of page interactions. Zero values keep the automation
// preset's timings. A non-zero Seed pins the random source so a run's pauses can be reproduced.
type PacingConfig struct {
	TypingMin   time.Duration `mapstructure:"typing_min" yaml:"typing_min"`
	TypingMax   time.Duration `mapstructure:"typing_max" yaml:"typing_max"`
	CooldownMin time.Duration `mapstructure:"cooldown_min" yaml:"cooldown_min"`
	CooldownMax time.Duration `mapstructure:"cooldown_max" yaml:"cooldown_max"`
	Seed        int64         `mapstructure:"seed" yaml:"seed"`
}

// Validate rejects inverted ranges.
func (p *PacingConfig) Validate() error {
	if p.TypingMax > 0 && p.TypingMin > p.TypingMax {
		return fmt.Errorf("typing_min (%s) exceeds typing_max (%s)", p.TypingMin, p.TypingMax)
	}
	if p.CooldownMax > 0 && p.CooldownMin > p.CooldownMax {
		return fmt.Errorf("cooldown_min (%s) exceeds cooldown_max (%s)", p.CooldownMin, p.CooldownMax)
	}
	if p.TypingMin < 0 || p.CooldownMin < 0 {
		return fmt.Errorf("pacing durations must not be negative")
	}
	return nil
}
