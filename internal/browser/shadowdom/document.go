// internal/browser/shadowdom/document.go
//
// Package shadowdom is an in-memory page built on golang.org/x/net/html. Declarative shadow
// roots (<template shadowrootmode="open|closed">) are detached from their host's child list
// into separate fragments, so selectors behave the way they do in a browser: they never cross
// a shadow boundary unless the caller descends explicitly. The document records every action
// dispatched against it, which makes it a deterministic stand-in for a live tab.
package shadowdom

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/fireflybatch/internal/browser/dom"
)

const shadowRootData = "#shadow-root"

// Default layout size for elements that carry no explicit width/height attributes.
const (
	defaultWidth  = 200
	defaultHeight = 40
)

// Event is one action recorded against the document.
type Event struct {
	Type  string
	Node  dom.NodeRef
	Value string
}

// ClickHook runs after an element is clicked. It may mutate the document. A returned error
// is reported as the click failing.
type ClickHook func(d *Document, node dom.NodeRef) error

// Document implements dom.Primitives over a parsed HTML tree.
type Document struct {
	mu sync.Mutex

	root    *html.Node
	shadows map[*html.Node]*html.Node // host -> shadow root
	hosts   map[*html.Node]*html.Node // shadow root -> host

	refs map[dom.NodeRef]*html.Node
	ids  map[*html.Node]dom.NodeRef
	seq  int

	values    map[*html.Node]string
	focused   *html.Node
	events    []Event
	hooks     []ClickHook
	selectors map[string]cascadia.Selector
}

var _ dom.Primitives = (*Document)(nil)

// Parse builds a Document from HTML.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("shadowdom: parse: %w", err)
	}
	d := &Document{
		root:      root,
		shadows:   make(map[*html.Node]*html.Node),
		hosts:     make(map[*html.Node]*html.Node),
		refs:      make(map[dom.NodeRef]*html.Node),
		ids:       make(map[*html.Node]dom.NodeRef),
		values:    make(map[*html.Node]string),
		selectors: make(map[string]cascadia.Selector),
	}
	d.attachShadowRoots(root)
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// ParseFile reads a saved page snapshot from disk.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shadowdom: read snapshot: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// OnClick registers a hook that runs after every successful click.
func (d *Document) OnClick(h ClickHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, h)
}

// Events returns a copy of the recorded events.
func (d *Document) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// CountEvents returns how many events of the given type were recorded.
func (d *Document) CountEvents(typ string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ev := range d.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// -- Shadow root instantiation --

// detectShadowHost reports whether n has a direct <template shadowrootmode> child.
func detectShadowHost(n *html.Node) bool {
	return shadowTemplate(n) != nil
}

func shadowTemplate(n *html.Node) *html.Node {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "template" {
			mode := strings.ToLower(getAttr(c, "shadowrootmode"))
			if mode == "open" || mode == "closed" {
				return c
			}
		}
	}
	return nil
}

// instantiateShadowRoot moves the declarative template's content into a detached fragment and
// removes the template from the host.
func instantiateShadowRoot(host *html.Node) *html.Node {
	tmpl := shadowTemplate(host)
	if tmpl == nil {
		return nil
	}
	root := &html.Node{Type: html.DocumentNode, Data: shadowRootData}
	for c := tmpl.FirstChild; c != nil; {
		next := c.NextSibling
		tmpl.RemoveChild(c)
		root.AppendChild(c)
		c = next
	}
	host.RemoveChild(tmpl)
	return root
}

// attachShadowRoots walks n (including newly created fragments) and instantiates every
// declarative shadow root it finds. Caller must hold d.mu or own d exclusively.
func (d *Document) attachShadowRoots(n *html.Node) {
	if n.Type == html.ElementNode && detectShadowHost(n) {
		if sr := instantiateShadowRoot(n); sr != nil {
			d.shadows[n] = sr
			d.hosts[sr] = n
			d.attachShadowRoots(sr)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.attachShadowRoots(c)
	}
}

// -- Handles --

func (d *Document) ref(n *html.Node) dom.NodeRef {
	if n == nil {
		return dom.NoNode
	}
	if id, ok := d.ids[n]; ok {
		return id
	}
	d.seq++
	id := dom.NodeRef("n" + strconv.Itoa(d.seq))
	d.ids[n] = id
	d.refs[id] = n
	return id
}

func (d *Document) node(ref dom.NodeRef) (*html.Node, error) {
	n, ok := d.refs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", dom.ErrStaleNode, ref)
	}
	return n, nil
}

func (d *Document) compile(selector string) (cascadia.Selector, error) {
	if s, ok := d.selectors[selector]; ok {
		return s, nil
	}
	s, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", dom.ErrInvalidSelector, selector, err)
	}
	d.selectors[selector] = s
	return s, nil
}

// -- dom.Query --

// Root returns the document node.
func (d *Document) Root(ctx context.Context) (dom.NodeRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ref(d.root), nil
}

// QuerySelector returns the first descendant of scope matching selector.
func (d *Document) QuerySelector(ctx context.Context, scope dom.NodeRef, selector string) (dom.NodeRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	matches, err := d.match(scope, selector, true)
	if err != nil || len(matches) == 0 {
		return dom.NoNode, err
	}
	return d.ref(matches[0]), nil
}

// QuerySelectorAll returns every descendant of scope matching selector.
func (d *Document) QuerySelectorAll(ctx context.Context, scope dom.NodeRef, selector string) ([]dom.NodeRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	matches, err := d.match(scope, selector, false)
	if err != nil {
		return nil, err
	}
	out := make([]dom.NodeRef, 0, len(matches))
	for _, m := range matches {
		out = append(out, d.ref(m))
	}
	return out, nil
}

func (d *Document) match(scope dom.NodeRef, selector string, first bool) ([]*html.Node, error) {
	n, err := d.node(scope)
	if err != nil {
		return nil, err
	}
	sel, err := d.compile(selector)
	if err != nil {
		return nil, err
	}
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		for _, m := range sel.MatchAll(c) {
			out = append(out, m)
			if first {
				return out, nil
			}
		}
	}
	return out, nil
}

// ShadowRoots returns the shadow roots hosted by scope and by every element inside it.
func (d *Document) ShadowRoots(ctx context.Context, scope dom.NodeRef) ([]dom.NodeRef, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(scope)
	if err != nil {
		return nil, err
	}
	var out []dom.NodeRef
	if sr, ok := d.shadows[n]; ok {
		out = append(out, d.ref(sr))
	}
	var walk func(*html.Node)
	walk = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if sr, ok := d.shadows[c]; ok {
				out = append(out, d.ref(sr))
			}
			walk(c)
		}
	}
	walk(n)
	return out, nil
}

// -- dom.Inspector --

// Attribute returns the named attribute of node.
func (d *Document) Attribute(ctx context.Context, ref dom.NodeRef, name string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ref)
	if err != nil {
		return "", false, err
	}
	v, ok := lookupAttr(n, name)
	return v, ok, nil
}

// TextContent returns the concatenated text of node's light-DOM descendants.
func (d *Document) TextContent(ctx context.Context, ref dom.NodeRef) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ref)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	collectText(n, &b)
	return b.String(), nil
}

// Value returns the current form value of node.
func (d *Document) Value(ctx context.Context, ref dom.NodeRef) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ref)
	if err != nil {
		return "", err
	}
	return d.value(n), nil
}

func (d *Document) value(n *html.Node) string {
	if v, ok := d.values[n]; ok {
		return v
	}
	if n.Type == html.ElementNode && n.Data == "textarea" {
		var b strings.Builder
		collectText(n, &b)
		return b.String()
	}
	return getAttr(n, "value")
}

// Box returns the layout box of node, or nil when it is not rendered.
func (d *Document) Box(ctx context.Context, ref dom.NodeRef) (*dom.Box, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ref)
	if err != nil {
		return nil, err
	}
	if n.Type != html.ElementNode || !d.rendered(n) {
		return nil, nil
	}
	return &dom.Box{
		Width:  floatAttr(n, "width", defaultWidth),
		Height: floatAttr(n, "height", defaultHeight),
	}, nil
}

// rendered walks up through light-DOM parents and shadow hosts up to the document.
func (d *Document) rendered(n *html.Node) bool {
	for cur := n; cur != nil; {
		if cur == d.root {
			return true
		}
		if cur.Type == html.ElementNode && hiddenElement(cur) {
			return false
		}
		if cur.Parent != nil {
			cur = cur.Parent
			continue
		}
		host, ok := d.hosts[cur]
		if !ok {
			return false // detached
		}
		cur = host
	}
	return false
}

// -- dom.Actor --

// Focus records focus on node.
func (d *Document) Focus(ctx context.Context, ref dom.NodeRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ref)
	if err != nil {
		return err
	}
	d.focused = n
	d.record("focus", ref, "")
	return nil
}

// Click records a click and runs the click hooks. An element carrying data-click-error fails.
func (d *Document) Click(ctx context.Context, ref dom.NodeRef) error {
	d.mu.Lock()
	n, err := d.node(ref)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if msg, ok := lookupAttr(n, "data-click-error"); ok {
		d.mu.Unlock()
		return fmt.Errorf("shadowdom: click failed: %s", msg)
	}
	d.record("click", ref, "")
	hooks := make([]ClickHook, len(d.hooks))
	copy(hooks, d.hooks)
	d.mu.Unlock()

	for _, h := range hooks {
		if err := h(d, ref); err != nil {
			return err
		}
	}
	return nil
}

// Hover records a synthesized pointer enter.
func (d *Document) Hover(ctx context.Context, ref dom.NodeRef) error {
	return d.simple("pointerenter", ref, "")
}

// ScrollIntoView records a scroll.
func (d *Document) ScrollIntoView(ctx context.Context, ref dom.NodeRef) error {
	return d.simple("scroll", ref, "")
}

// SetNativeValue stores value as the node's form value.
func (d *Document) SetNativeValue(ctx context.Context, ref dom.NodeRef, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ref)
	if err != nil {
		return err
	}
	d.values[n] = value
	d.record("set-value", ref, value)
	return nil
}

// DispatchInput records an input event carrying the node's current value.
func (d *Document) DispatchInput(ctx context.Context, ref dom.NodeRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ref)
	if err != nil {
		return err
	}
	d.record("input", ref, d.value(n))
	return nil
}

// Release invalidates every handle issued so far.
func (d *Document) Release(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs = make(map[dom.NodeRef]*html.Node)
	d.ids = make(map[*html.Node]dom.NodeRef)
	return nil
}

func (d *Document) simple(typ string, ref dom.NodeRef, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.node(ref); err != nil {
		return err
	}
	d.record(typ, ref, value)
	return nil
}

func (d *Document) record(typ string, ref dom.NodeRef, value string) {
	d.events = append(d.events, Event{Type: typ, Node: ref, Value: value})
}

// -- Mutation --

// AppendHTML parses fragment and appends it to parent. Declarative shadow roots inside the
// fragment are instantiated.
func (d *Document) AppendHTML(parent dom.NodeRef, fragment string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.node(parent)
	if err != nil {
		return err
	}
	ctxNode := p
	if p.Type != html.ElementNode {
		ctxNode = &html.Node{Type: html.ElementNode, Data: "body"}
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctxNode)
	if err != nil {
		return fmt.Errorf("shadowdom: parse fragment: %w", err)
	}
	for _, n := range nodes {
		p.AppendChild(n)
		d.attachShadowRoots(n)
	}
	return nil
}

// SetAttribute sets or replaces an attribute on node.
func (d *Document) SetAttribute(ref dom.NodeRef, name, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ref)
	if err != nil {
		return err
	}
	for i := range n.Attr {
		if strings.EqualFold(n.Attr[i].Key, name) {
			n.Attr[i].Val = value
			return nil
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
	return nil
}

// Remove detaches node from its parent.
func (d *Document) Remove(ref dom.NodeRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.node(ref)
	if err != nil {
		return err
	}
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	return nil
}

// -- helpers --

func getAttr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func hiddenElement(n *html.Node) bool {
	if _, ok := lookupAttr(n, "hidden"); ok {
		return true
	}
	style := strings.ReplaceAll(strings.ToLower(getAttr(n, "style")), " ", "")
	return strings.Contains(style, "display:none")
}

func floatAttr(n *html.Node, key string, def float64) float64 {
	v, ok := lookupAttr(n, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "px"), 64)
	if err != nil {
		return def
	}
	return f
}
