// internal/automation/trigger.go
package automation

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/fireflybatch/internal/browser/dom"
)

// Trigger activates the generate control.
type Trigger struct {
	page dom.Primitives
	loc  *dom.Locator
}

// NewTrigger creates a Trigger.
func NewTrigger(page dom.Primitives) *Trigger {
	return &Trigger{page: page, loc: dom.NewLocator(page)}
}

// Activate clicks the first generate control found and returns the selector that matched.
// There is no visibility check here.
func (t *Trigger) Activate(ctx context.Context) (string, error) {
	btn, sel, err := t.Locate(ctx)
	if err != nil {
		return "", err
	}
	if btn == dom.NoNode {
		return "", &ElementNotFoundError{Element: "Generate button", Selectors: GenerateSelectors}
	}
	if err := t.page.Click(ctx, btn); err != nil {
		return sel, fmt.Errorf("click generate: %w", err)
	}
	return sel, nil
}

// Locate finds the generate control without clicking it. A miss returns NoNode and a nil error.
func (t *Trigger) Locate(ctx context.Context) (dom.NodeRef, string, error) {
	btn, sel, err := t.loc.FirstOf(ctx, GenerateSelectors, dom.NoNode)
	if err != nil || btn != dom.NoNode {
		return btn, sel, err
	}

	buttons, err := t.loc.FindAll(ctx, GenerateFallbackSelector, dom.NoNode)
	if err != nil {
		return dom.NoNode, "", err
	}
	for _, b := range buttons {
		text, err := t.page.TextContent(ctx, b)
		if err != nil {
			return dom.NoNode, "", err
		}
		if strings.EqualFold(strings.TrimSpace(text), "generate") {
			return b, GenerateFallbackSelector, nil
		}
	}
	return dom.NoNode, "", nil
}
