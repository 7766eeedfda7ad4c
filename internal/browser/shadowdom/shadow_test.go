package shadowdom

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/fireflybatch/internal/browser/dom"
)

// --- Helpers ---

// Helper to parse HTML and return the body content.
func parseHTML(h string) *html.Node {
	doc, err := html.Parse(strings.NewReader("<html><body>" + h + "</body></html>"))
	if err != nil {
		panic(err)
	}
	// Navigate to body (doc -> html -> body)
	return doc.FirstChild.FirstChild.NextSibling
}

// Helper to find the first element node child.
func firstElement(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func mustParse(t *testing.T, h string) *Document {
	t.Helper()
	d, err := ParseString("<html><body>" + h + "</body></html>")
	require.NoError(t, err)
	return d
}

// --- Tests for Internal Helpers (White-box testing) ---

func TestGetAttr(t *testing.T) {
	body := parseHTML(`<div id="test" CLASS="TestClass"></div>`)
	node := firstElement(body)

	assert.Equal(t, "test", getAttr(node, "id"))
	assert.Equal(t, "TestClass", getAttr(node, "class"), "getAttr should be case-insensitive")
	assert.Equal(t, "", getAttr(node, "missing"))
	assert.Equal(t, "", getAttr(nil, "id"))
}

func TestDetectShadowHost(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected bool
	}{
		{"Valid Host Open", `<div><template shadowrootmode="open"></template></div>`, true},
		{"Valid Host Closed", `<div><template shadowrootmode="closed"></template></div>`, true},
		{"Case Insensitive", `<div><template ShadowRootMode="open"></template></div>`, true},
		{"No Template", `<div><span></span></div>`, false},
		{"Template Without Attribute", `<div><template></template></div>`, false},
		{"Nested (Invalid)", `<div><span><template shadowrootmode="open"></template></span></div>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := firstElement(parseHTML(tt.html))
			assert.Equal(t, tt.expected, detectShadowHost(host))
		})
	}
}

func TestInstantiateShadowRootDetachesTemplate(t *testing.T) {
	host := firstElement(parseHTML(`<div><template shadowrootmode="open"><h1>Shadow</h1></template><p>light</p></div>`))

	root := instantiateShadowRoot(host)
	require.NotNil(t, root)
	assert.Equal(t, shadowRootData, root.Data)
	assert.Equal(t, "h1", firstElement(root).Data)

	// The template is gone from the light tree, the light child stays.
	assert.Equal(t, "p", firstElement(host).Data)
	assert.Nil(t, firstElement(host).NextSibling)
}

// --- Document behaviour ---

func TestQueryDoesNotCrossShadowBoundary(t *testing.T) {
	ctx := context.Background()
	d := mustParse(t, `<x-host><template shadowrootmode="open"><button id="inner">Go</button></template></x-host>`)
	root, err := d.Root(ctx)
	require.NoError(t, err)

	hit, err := d.QuerySelector(ctx, root, "#inner")
	require.NoError(t, err)
	assert.Equal(t, dom.NoNode, hit)

	roots, err := d.ShadowRoots(ctx, root)
	require.NoError(t, err)
	require.Len(t, roots, 1)

	hit, err = d.QuerySelector(ctx, roots[0], "#inner")
	require.NoError(t, err)
	assert.NotEqual(t, dom.NoNode, hit)
}

func TestShadowRootsIncludeScopeHost(t *testing.T) {
	ctx := context.Background()
	d := mustParse(t, `<x-batch id="b"><template shadowrootmode="open"><span>in</span></template></x-batch>`)
	root, _ := d.Root(ctx)
	batch, err := d.QuerySelector(ctx, root, "#b")
	require.NoError(t, err)

	roots, err := d.ShadowRoots(ctx, batch)
	require.NoError(t, err)
	assert.Len(t, roots, 1, "the scope element's own shadow root is reachable")
}

func TestInvalidSelector(t *testing.T) {
	ctx := context.Background()
	d := mustParse(t, `<div></div>`)
	root, _ := d.Root(ctx)
	_, err := d.QuerySelectorAll(ctx, root, "div[")
	assert.ErrorIs(t, err, dom.ErrInvalidSelector)
}

func TestBoxAndVisibility(t *testing.T) {
	ctx := context.Background()
	d := mustParse(t, `
		<img id="big" width="512" src="https://cdn/x.png">
		<div style="display: none"><button id="hidden-btn">x</button></div>
		<x-host hidden><template shadowrootmode="open"><button id="in-hidden-host">y</button></template></x-host>`)
	root, _ := d.Root(ctx)

	big, _ := d.QuerySelector(ctx, root, "#big")
	box, err := d.Box(ctx, big)
	require.NoError(t, err)
	require.NotNil(t, box)
	assert.Equal(t, 512.0, box.Width)

	hidden, _ := d.QuerySelector(ctx, root, "#hidden-btn")
	box, err = d.Box(ctx, hidden)
	require.NoError(t, err)
	assert.Nil(t, box)

	roots, _ := d.ShadowRoots(ctx, root)
	require.Len(t, roots, 1)
	inner, _ := d.QuerySelector(ctx, roots[0], "#in-hidden-host")
	visible, err := dom.Visible(ctx, d, inner)
	require.NoError(t, err)
	assert.False(t, visible, "a hidden shadow host hides its shadow content")
}

func TestActionsAreRecorded(t *testing.T) {
	ctx := context.Background()
	d := mustParse(t, `<textarea aria-label="Prompt">old</textarea>`)
	root, _ := d.Root(ctx)
	ta, _ := d.QuerySelector(ctx, root, "textarea")

	v, err := d.Value(ctx, ta)
	require.NoError(t, err)
	assert.Equal(t, "old", v)

	require.NoError(t, d.Focus(ctx, ta))
	require.NoError(t, d.SetNativeValue(ctx, ta, "n"))
	require.NoError(t, d.DispatchInput(ctx, ta))

	v, _ = d.Value(ctx, ta)
	assert.Equal(t, "n", v)
	assert.Equal(t, 1, d.CountEvents("input"))
	assert.Equal(t, []string{"focus", "set-value", "input"}, eventTypes(d.Events()))
}

func TestClickHooksAndFailures(t *testing.T) {
	ctx := context.Background()
	d := mustParse(t, `<div id="grid"></div><button id="ok">ok</button><button id="bad" data-click-error="boom">bad</button>`)
	root, _ := d.Root(ctx)
	grid, _ := d.QuerySelector(ctx, root, "#grid")

	d.OnClick(func(doc *Document, node dom.NodeRef) error {
		return doc.AppendHTML(grid, `<img src="https://cdn/1.png">`)
	})

	ok, _ := d.QuerySelector(ctx, root, "#ok")
	require.NoError(t, d.Click(ctx, ok))
	imgs, err := d.QuerySelectorAll(ctx, root, "img")
	require.NoError(t, err)
	assert.Len(t, imgs, 1)

	bad, _ := d.QuerySelector(ctx, root, "#bad")
	assert.Error(t, d.Click(ctx, bad))
	assert.Equal(t, 1, d.CountEvents("click"))
}

func TestReleaseInvalidatesHandles(t *testing.T) {
	ctx := context.Background()
	d := mustParse(t, `<p id="a">x</p>`)
	root, _ := d.Root(ctx)
	p, _ := d.QuerySelector(ctx, root, "#a")

	require.NoError(t, d.Release(ctx))
	_, err := d.TextContent(ctx, p)
	assert.ErrorIs(t, err, dom.ErrStaleNode)
}

func eventTypes(evs []Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}
