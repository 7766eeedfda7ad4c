// internal/browser/dom/locator.go
package dom

import (
	"context"
	"fmt"
)

// Locator finds elements across nested shadow roots. The current scope is always searched
// first, then each shadow root reachable from it, depth first, in document order.
type Locator struct {
	q Query
}

// NewLocator creates a Locator over q.
func NewLocator(q Query) *Locator {
	return &Locator{q: q}
}

// FindFirst returns the first element matching selector under root (the document when root is
// NoNode). A miss returns NoNode and a nil error.
func (l *Locator) FindFirst(ctx context.Context, selector string, root NodeRef) (NodeRef, error) {
	scope, err := l.scope(ctx, root)
	if err != nil {
		return NoNode, err
	}
	return l.findFirst(ctx, selector, scope)
}

// FindAll returns every element matching selector under root, in discovery order. The result
// is a snapshot taken at call time.
func (l *Locator) FindAll(ctx context.Context, selector string, root NodeRef) ([]NodeRef, error) {
	scope, err := l.scope(ctx, root)
	if err != nil {
		return nil, err
	}
	var out []NodeRef
	if err := l.findAll(ctx, selector, scope, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FirstOf tries each selector in order and returns the first hit along with the selector
// that produced it.
func (l *Locator) FirstOf(ctx context.Context, selectors []string, root NodeRef) (NodeRef, string, error) {
	for _, sel := range selectors {
		node, err := l.FindFirst(ctx, sel, root)
		if err != nil {
			return NoNode, "", err
		}
		if node != NoNode {
			return node, sel, nil
		}
	}
	return NoNode, "", nil
}

func (l *Locator) scope(ctx context.Context, root NodeRef) (NodeRef, error) {
	if root != NoNode {
		return root, nil
	}
	doc, err := l.q.Root(ctx)
	if err != nil {
		return NoNode, fmt.Errorf("locator: resolve document: %w", err)
	}
	return doc, nil
}

func (l *Locator) findFirst(ctx context.Context, selector string, scope NodeRef) (NodeRef, error) {
	if err := ctx.Err(); err != nil {
		return NoNode, err
	}
	node, err := l.q.QuerySelector(ctx, scope, selector)
	if err != nil {
		return NoNode, fmt.Errorf("locator: query %q: %w", selector, err)
	}
	if node != NoNode {
		return node, nil
	}
	roots, err := l.q.ShadowRoots(ctx, scope)
	if err != nil {
		return NoNode, fmt.Errorf("locator: shadow roots: %w", err)
	}
	for _, r := range roots {
		node, err := l.findFirst(ctx, selector, r)
		if err != nil || node != NoNode {
			return node, err
		}
	}
	return NoNode, nil
}

func (l *Locator) findAll(ctx context.Context, selector string, scope NodeRef, out *[]NodeRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	found, err := l.q.QuerySelectorAll(ctx, scope, selector)
	if err != nil {
		return fmt.Errorf("locator: query all %q: %w", selector, err)
	}
	*out = append(*out, found...)

	roots, err := l.q.ShadowRoots(ctx, scope)
	if err != nil {
		return fmt.Errorf("locator: shadow roots: %w", err)
	}
	for _, r := range roots {
		if err := l.findAll(ctx, selector, r, out); err != nil {
			return err
		}
	}
	return nil
}
