// internal/automation/injector.go
package automation

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/fireflybatch/internal/browser/dom"
	"github.com/xkilldash9x/fireflybatch/internal/humanoid"
)

// Injector types a prompt into a field one character at a time. Each character goes through
// the prototype value setter followed by an input event, so the page's framework sees every
// increment as if it came from the keyboard.
type Injector struct {
	page  dom.Actor
	pacer *humanoid.Pacer
	cfg   Config
}

// NewInjector creates an Injector.
func NewInjector(page dom.Actor, pacer *humanoid.Pacer, cfg Config) *Injector {
	return &Injector{page: page, pacer: pacer, cfg: cfg}
}

// SetPromptText clears field and types text into it, then waits the settle delay.
func (in *Injector) SetPromptText(ctx context.Context, field dom.NodeRef, text string) error {
	if err := in.page.Focus(ctx, field); err != nil {
		return fmt.Errorf("focus prompt field: %w", err)
	}
	// Clearing is silent: no input event until the first character lands.
	if err := in.page.SetNativeValue(ctx, field, ""); err != nil {
		return fmt.Errorf("clear prompt field: %w", err)
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		b.WriteRune(r)
		if err := in.page.SetNativeValue(ctx, field, b.String()); err != nil {
			return fmt.Errorf("set prompt value: %w", err)
		}
		if err := in.page.DispatchInput(ctx, field); err != nil {
			return fmt.Errorf("dispatch input: %w", err)
		}
		if err := in.pacer.Pause(ctx, in.cfg.Typing); err != nil {
			return err
		}
	}
	return in.pacer.Sleep(ctx, in.cfg.SettleDelay)
}
