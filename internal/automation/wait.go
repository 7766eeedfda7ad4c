// internal/automation/wait.go
package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/fireflybatch/internal/browser/dom"
	"github.com/xkilldash9x/fireflybatch/internal/humanoid"
)

// WaitFor polls for selector every interval until it exists anywhere in the deep tree or
// timeout elapses. A timeout yields an *ElementNotFoundError named after element.
func WaitFor(ctx context.Context, loc *dom.Locator, clock humanoid.Clock, element, selector string, timeout, interval time.Duration) (dom.NodeRef, error) {
	start := clock.Now()
	for {
		node, err := loc.FindFirst(ctx, selector, dom.NoNode)
		if err != nil {
			return dom.NoNode, fmt.Errorf("waiting for %s: %w", element, err)
		}
		if node != dom.NoNode {
			return node, nil
		}
		if clock.Now().Sub(start) >= timeout {
			return dom.NoNode, &ElementNotFoundError{Element: element, Selectors: []string{selector}}
		}
		if err := clock.Sleep(ctx, interval); err != nil {
			return dom.NoNode, err
		}
	}
}
