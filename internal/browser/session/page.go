// internal/browser/session/page.go
package session

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
	"github.com/xkilldash9x/fireflybatch/internal/browser/dom"
)

//go:embed registry.js
var registryScript string

//go:embed snapshot.js
var snapshotScript string

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// pingTimeout bounds the liveness probe run before each command.
const pingTimeout = 5 * time.Second

// evalFunc evaluates expr in the page. A nil res discards the result; otherwise res receives
// the raw JSON value.
type evalFunc func(ctx context.Context, expr string, res *[]byte) error

// Page is a live browser tab. Every DOM primitive is one script evaluation against a page-side
// registry that maps NodeRefs to nodes.
type Page struct {
	id        string
	ctx       context.Context
	logger    *zap.Logger
	eval      evalFunc
	lost      atomic.Bool
	closeFn   func()
	closeOnce sync.Once
	targetID  target.ID
}

var _ dom.Primitives = (*Page)(nil)

// envelope is the registry's reply shape.
type envelope struct {
	OK      bool                `json:"ok"`
	Value   jsoniter.RawMessage `json:"value"`
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Missing bool                `json:"missing"`
}

// newPage wraps a chromedp tab context. closeFn releases whatever the constructor allocated.
func newPage(tabCtx context.Context, id string, targetID target.ID, logger *zap.Logger, closeFn func()) *Page {
	p := &Page{
		id:       id,
		ctx:      tabCtx,
		logger:   logger,
		closeFn:  closeFn,
		targetID: targetID,
	}
	p.eval = p.evaluate
	chromedp.ListenTarget(tabCtx, p.onTargetEvent)
	return p
}

// onTargetEvent marks the page lost when the inspector detaches or the renderer dies.
func (p *Page) onTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *inspector.EventDetached:
		p.markLost("detached: " + string(e.Reason))
	case *inspector.EventTargetCrashed:
		p.markLost("renderer crashed")
	}
}

func (p *Page) markLost(reason string) {
	if p.lost.CompareAndSwap(false, true) {
		p.logger.Warn("Page connection lost.", zap.String("reason", reason))
	}
}

// ID identifies this page session in logs.
func (p *Page) ID() string { return p.id }

// Context returns the chromedp tab context.
func (p *Page) Context() context.Context { return p.ctx }

func (p *Page) evaluate(ctx context.Context, expr string, res *[]byte) error {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	if res == nil {
		return chromedp.Run(runCtx, chromedp.Evaluate(expr, nil))
	}
	return chromedp.Run(runCtx, chromedp.Evaluate(expr, res))
}

// classify turns a transport failure into ctx.Err, ErrConnectionLost or a wrapped error.
func (p *Page) classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	msg := err.Error()
	switch {
	case p.lost.Load() || p.ctx.Err() != nil,
		strings.Contains(msg, "No target with given id"),
		strings.Contains(msg, "Target closed"),
		strings.Contains(msg, "websocket: close"),
		errors.Is(err, context.Canceled):
		p.markLost(msg)
		return fmt.Errorf("%w: %s: %v", schemas.ErrConnectionLost, op, err)
	case strings.Contains(msg, "Execution context was destroyed"),
		strings.Contains(msg, "Cannot find context with specified id"):
		// The page navigated under us; the registry and every handle went with it.
		return fmt.Errorf("%s: %w", op, dom.ErrStaleNode)
	}
	return fmt.Errorf("evaluate %s: %w", op, err)
}

// install loads the registry into the current document.
func (p *Page) install(ctx context.Context) error {
	if err := p.eval(ctx, registryScript, nil); err != nil {
		return p.classify(ctx, "install", err)
	}
	p.logger.Debug("Installed page registry.")
	return nil
}

// call runs a registry operation and decodes its value into out.
func (p *Page) call(ctx context.Context, op string, out interface{}, args ...interface{}) error {
	if args == nil {
		args = []interface{}{}
	}
	argJSON, err := wire.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode %s arguments: %w", op, err)
	}
	expr := fmt.Sprintf("window.__ffb ? window.__ffb.call(%q, %s) : {missing: true}", op, argJSON)

	for attempt := 0; ; attempt++ {
		var raw []byte
		if err := p.eval(ctx, expr, &raw); err != nil {
			return p.classify(ctx, op, err)
		}
		var env envelope
		if err := wire.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decode %s reply: %w", op, err)
		}
		if env.Missing {
			if attempt > 0 {
				return fmt.Errorf("%s: page registry did not install", op)
			}
			if err := p.install(ctx); err != nil {
				return err
			}
			continue
		}
		switch env.Error {
		case "":
		case "stale":
			return fmt.Errorf("%s %s: %w", op, env.Message, dom.ErrStaleNode)
		case "invalid-selector":
			return fmt.Errorf("%s: %w: %s", op, dom.ErrInvalidSelector, env.Message)
		default:
			return fmt.Errorf("%s: page error: %s", op, env.Message)
		}
		if out == nil || len(env.Value) == 0 {
			return nil
		}
		if err := wire.Unmarshal(env.Value, out); err != nil {
			return fmt.Errorf("decode %s value: %w", op, err)
		}
		return nil
	}
}

// Ping checks the tab still answers. Any failure other than ctx ending is ErrConnectionLost.
func (p *Page) Ping(ctx context.Context) error {
	if p.lost.Load() {
		return schemas.ErrConnectionLost
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	var state string
	if err := p.call(pingCtx, "ping", &state); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, schemas.ErrConnectionLost) {
			return err
		}
		p.markLost(err.Error())
		return fmt.Errorf("%w: %v", schemas.ErrConnectionLost, err)
	}
	return nil
}

func (p *Page) node(ctx context.Context, op string, args ...interface{}) (dom.NodeRef, error) {
	var id string
	if err := p.call(ctx, op, &id, args...); err != nil {
		return dom.NoNode, err
	}
	return dom.NodeRef(id), nil
}

func (p *Page) Root(ctx context.Context) (dom.NodeRef, error) {
	return p.node(ctx, "root")
}

func (p *Page) QuerySelector(ctx context.Context, scope dom.NodeRef, selector string) (dom.NodeRef, error) {
	return p.node(ctx, "qs", string(scope), selector)
}

func (p *Page) QuerySelectorAll(ctx context.Context, scope dom.NodeRef, selector string) ([]dom.NodeRef, error) {
	return p.nodes(ctx, "qsa", string(scope), selector)
}

func (p *Page) ShadowRoots(ctx context.Context, scope dom.NodeRef) ([]dom.NodeRef, error) {
	return p.nodes(ctx, "shadows", string(scope))
}

func (p *Page) nodes(ctx context.Context, op string, args ...interface{}) ([]dom.NodeRef, error) {
	var ids []string
	if err := p.call(ctx, op, &ids, args...); err != nil {
		return nil, err
	}
	refs := make([]dom.NodeRef, len(ids))
	for i, id := range ids {
		refs[i] = dom.NodeRef(id)
	}
	return refs, nil
}

func (p *Page) Attribute(ctx context.Context, node dom.NodeRef, name string) (string, bool, error) {
	var res struct {
		Found bool   `json:"found"`
		Value string `json:"value"`
	}
	if err := p.call(ctx, "attr", &res, string(node), name); err != nil {
		return "", false, err
	}
	return res.Value, res.Found, nil
}

func (p *Page) TextContent(ctx context.Context, node dom.NodeRef) (string, error) {
	var s string
	err := p.call(ctx, "text", &s, string(node))
	return s, err
}

func (p *Page) Value(ctx context.Context, node dom.NodeRef) (string, error) {
	var s string
	err := p.call(ctx, "value", &s, string(node))
	return s, err
}

func (p *Page) Box(ctx context.Context, node dom.NodeRef) (*dom.Box, error) {
	var box *dom.Box
	if err := p.call(ctx, "box", &box, string(node)); err != nil {
		return nil, err
	}
	return box, nil
}

func (p *Page) Focus(ctx context.Context, node dom.NodeRef) error {
	return p.call(ctx, "focus", nil, string(node))
}

func (p *Page) Click(ctx context.Context, node dom.NodeRef) error {
	return p.call(ctx, "click", nil, string(node))
}

func (p *Page) Hover(ctx context.Context, node dom.NodeRef) error {
	return p.call(ctx, "hover", nil, string(node))
}

func (p *Page) ScrollIntoView(ctx context.Context, node dom.NodeRef) error {
	return p.call(ctx, "scroll", nil, string(node))
}

func (p *Page) SetNativeValue(ctx context.Context, node dom.NodeRef, value string) error {
	return p.call(ctx, "setValue", nil, string(node), value)
}

func (p *Page) DispatchInput(ctx context.Context, node dom.NodeRef) error {
	return p.call(ctx, "input", nil, string(node))
}

// Release drops every page-side handle.
func (p *Page) Release(ctx context.Context) error {
	return p.call(ctx, "release", nil)
}

// Snapshot serializes the live document with shadow roots written as declarative templates.
func (p *Page) Snapshot(ctx context.Context) (string, error) {
	var raw []byte
	if err := p.eval(ctx, snapshotScript, &raw); err != nil {
		return "", p.classify(ctx, "snapshot", err)
	}
	var html string
	if err := wire.Unmarshal(raw, &html); err != nil {
		return "", fmt.Errorf("decode snapshot: %w", err)
	}
	return html, nil
}

// Close detaches from the tab. Tabs that were attached to stay open in the browser.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		if p.closeFn != nil {
			p.closeFn()
		}
		p.logger.Debug("Page session closed.")
	})
}

// TargetID is the DevTools target the page is bound to.
func (p *Page) TargetID() target.ID { return p.targetID }
