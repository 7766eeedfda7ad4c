// internal/browser/session/page_test.go
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/chromedp/cdproto/inspector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
	"github.com/xkilldash9x/fireflybatch/internal/browser/dom"
)

// fakeRuntime answers page evaluations from a table keyed by registry op.
type fakeRuntime struct {
	mu        sync.Mutex
	installed bool
	installs  int
	replies   map[string]string
	failWith  error
	exprs     []string
}

func (f *fakeRuntime) eval(ctx context.Context, expr string, res *[]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exprs = append(f.exprs, expr)
	if f.failWith != nil {
		return f.failWith
	}
	if expr == registryScript {
		f.installed = true
		f.installs++
		return nil
	}
	if !f.installed {
		*res = []byte(`{"missing":true}`)
		return nil
	}
	for op, reply := range f.replies {
		if strings.Contains(expr, `call("`+op+`"`) {
			*res = []byte(reply)
			return nil
		}
	}
	*res = []byte(`{"ok":false,"error":"unknown-op","message":"no reply"}`)
	return nil
}

func newTestPage(t *testing.T, f *fakeRuntime) *Page {
	t.Helper()
	p := &Page{
		id:     "test",
		ctx:    context.Background(),
		logger: zaptest.NewLogger(t),
	}
	p.eval = f.eval
	return p
}

func TestPage_InstallsRegistryOnce(t *testing.T) {
	f := &fakeRuntime{replies: map[string]string{
		"root": `{"ok":true,"value":"n1"}`,
	}}
	p := newTestPage(t, f)
	ctx := context.Background()

	root, err := p.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, dom.NodeRef("n1"), root)

	_, err = p.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.installs)
}

func TestPage_RegistryThatNeverInstalls(t *testing.T) {
	p := &Page{id: "test", ctx: context.Background(), logger: zaptest.NewLogger(t)}
	p.eval = func(ctx context.Context, expr string, res *[]byte) error {
		if res != nil {
			*res = []byte(`{"missing":true}`)
		}
		return nil
	}
	_, err := p.Root(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not install")
}

func TestPage_ArgumentsAreEncoded(t *testing.T) {
	f := &fakeRuntime{installed: true, replies: map[string]string{
		"qs": `{"ok":true,"value":"n7"}`,
	}}
	p := newTestPage(t, f)

	ref, err := p.QuerySelector(context.Background(), "n1", `button[data-testid="generate"]`)
	require.NoError(t, err)
	assert.Equal(t, dom.NodeRef("n7"), ref)
	require.Len(t, f.exprs, 1)
	assert.Contains(t, f.exprs[0], `call("qs", ["n1","button[data-testid=\"generate\"]"])`)
}

func TestPage_DecodesValues(t *testing.T) {
	f := &fakeRuntime{installed: true, replies: map[string]string{
		"qsa":     `{"ok":true,"value":["a","b"]}`,
		"shadows": `{"ok":true,"value":[]}`,
		"attr":    `{"ok":true,"value":{"found":true,"value":"disabled"}}`,
		"text":    `{"ok":true,"value":"Generate"}`,
		"value":   `{"ok":true,"value":"a red fox"}`,
	}}
	p := newTestPage(t, f)
	ctx := context.Background()

	refs, err := p.QuerySelectorAll(ctx, "n1", "img")
	require.NoError(t, err)
	assert.Equal(t, []dom.NodeRef{"a", "b"}, refs)

	roots, err := p.ShadowRoots(ctx, "n1")
	require.NoError(t, err)
	assert.Empty(t, roots)

	v, found, err := p.Attribute(ctx, "a", "aria-disabled")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "disabled", v)

	text, err := p.TextContent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Generate", text)

	val, err := p.Value(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a red fox", val)
}

func TestPage_Box(t *testing.T) {
	t.Run("Rendered", func(t *testing.T) {
		f := &fakeRuntime{installed: true, replies: map[string]string{
			"box": `{"ok":true,"value":{"x":10,"y":20,"width":100,"height":40}}`,
		}}
		box, err := newTestPage(t, f).Box(context.Background(), "a")
		require.NoError(t, err)
		require.NotNil(t, box)
		assert.Equal(t, dom.Box{X: 10, Y: 20, Width: 100, Height: 40}, *box)
	})

	t.Run("Hidden", func(t *testing.T) {
		f := &fakeRuntime{installed: true, replies: map[string]string{
			"box": `{"ok":true,"value":null}`,
		}}
		box, err := newTestPage(t, f).Box(context.Background(), "a")
		require.NoError(t, err)
		assert.Nil(t, box)
	})
}

func TestPage_ErrorEnvelopes(t *testing.T) {
	f := &fakeRuntime{installed: true, replies: map[string]string{
		"click": `{"ok":false,"error":"stale","message":"n9"}`,
		"qs":    `{"ok":false,"error":"invalid-selector","message":"'[[' is not a valid selector"}`,
		"hover": `{"ok":false,"error":"script","message":"boom"}`,
	}}
	p := newTestPage(t, f)
	ctx := context.Background()

	err := p.Click(ctx, "n9")
	assert.ErrorIs(t, err, dom.ErrStaleNode)

	_, err = p.QuerySelector(ctx, "n1", "[[")
	assert.ErrorIs(t, err, dom.ErrInvalidSelector)

	err = p.Hover(ctx, "n1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page error: boom")
	assert.NotErrorIs(t, err, dom.ErrStaleNode)
}

func TestPage_Classify(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		wantLost  bool
		wantStale bool
	}{
		{name: "TargetClosed", err: errors.New("Target closed"), wantLost: true},
		{name: "NoTarget", err: errors.New("No target with given id found"), wantLost: true},
		{name: "Websocket", err: errors.New("websocket: close 1006"), wantLost: true},
		{name: "Canceled", err: context.Canceled, wantLost: true},
		{name: "Navigation", err: errors.New("Execution context was destroyed."), wantStale: true},
		{name: "MissingContext", err: errors.New("Cannot find context with specified id"), wantStale: true},
		{name: "Other", err: errors.New("exception thrown")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPage(t, &fakeRuntime{})
			err := p.classify(context.Background(), "click", tc.err)
			assert.Equal(t, tc.wantLost, errors.Is(err, schemas.ErrConnectionLost))
			assert.Equal(t, tc.wantStale, errors.Is(err, dom.ErrStaleNode))
			assert.Equal(t, tc.wantLost, p.lost.Load())
		})
	}

	t.Run("CallerContextWins", func(t *testing.T) {
		p := newTestPage(t, &fakeRuntime{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := p.classify(ctx, "click", errors.New("Target closed"))
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, p.lost.Load())
	})
}

func TestPage_Ping(t *testing.T) {
	t.Run("Alive", func(t *testing.T) {
		f := &fakeRuntime{installed: true, replies: map[string]string{
			"ping": `{"ok":true,"value":"complete"}`,
		}}
		assert.NoError(t, newTestPage(t, f).Ping(context.Background()))
	})

	t.Run("ScriptFailureIsLost", func(t *testing.T) {
		f := &fakeRuntime{installed: true, replies: map[string]string{
			"ping": `{"ok":false,"error":"script","message":"document gone"}`,
		}}
		p := newTestPage(t, f)
		err := p.Ping(context.Background())
		assert.ErrorIs(t, err, schemas.ErrConnectionLost)
		assert.True(t, p.lost.Load())

		// Once lost, the page does not evaluate again.
		before := len(f.exprs)
		assert.ErrorIs(t, p.Ping(context.Background()), schemas.ErrConnectionLost)
		assert.Len(t, f.exprs, before)
	})

	t.Run("Canceled", func(t *testing.T) {
		f := &fakeRuntime{failWith: context.Canceled}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := newTestPage(t, f).Ping(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, schemas.ErrConnectionLost)
	})
}

func TestPage_Snapshot(t *testing.T) {
	p := newTestPage(t, &fakeRuntime{})
	p.eval = func(ctx context.Context, expr string, res *[]byte) error {
		require.Equal(t, snapshotScript, expr)
		*res = []byte(`"<html><body><p>hi</p></body></html>"`)
		return nil
	}
	html, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<html><body><p>hi</p></body></html>", html)
}

func TestPage_CloseRunsOnce(t *testing.T) {
	calls := 0
	p := newTestPage(t, &fakeRuntime{})
	p.closeFn = func() { calls++ }
	p.Close()
	p.Close()
	assert.Equal(t, 1, calls)
}

func TestPage_DetachMarksLostOnce(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := &Page{id: "test", ctx: context.Background(), logger: zap.New(core)}
	p.eval = (&fakeRuntime{}).eval

	p.onTargetEvent(&inspector.EventDetached{Reason: "target_closed"})
	p.onTargetEvent(&inspector.EventTargetCrashed{})

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "detached: target_closed", logs.All()[0].ContextMap()["reason"])
	assert.ErrorIs(t, p.Ping(context.Background()), schemas.ErrConnectionLost)
}
