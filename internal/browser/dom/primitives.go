// internal/browser/dom/primitives.go
package dom

import (
	"context"
	"errors"
)

// NodeRef is an opaque handle to a node owned by a Primitives implementation. Handles are
// only meaningful to the implementation that issued them and only until Release is called.
type NodeRef string

// NoNode is the zero NodeRef, returned when nothing matched.
const NoNode NodeRef = ""

// ErrInvalidSelector is returned when a selector cannot be parsed by the backend.
var ErrInvalidSelector = errors.New("invalid selector")

// ErrStaleNode is returned when a handle no longer refers to a live node.
var ErrStaleNode = errors.New("stale node reference")

// Box is the rendered layout box of an element in CSS pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Query is the part of the page the locator walks. Neither query method crosses a shadow
// boundary; ShadowRoots exposes the boundaries so callers can descend explicitly.
type Query interface {
	// Root returns the document node.
	Root(ctx context.Context) (NodeRef, error)
	// QuerySelector returns the first descendant of scope matching selector, or NoNode.
	QuerySelector(ctx context.Context, scope NodeRef, selector string) (NodeRef, error)
	// QuerySelectorAll returns every descendant of scope matching selector in document order.
	QuerySelectorAll(ctx context.Context, scope NodeRef, selector string) ([]NodeRef, error)
	// ShadowRoots returns the shadow roots hosted by scope itself and by the elements inside
	// scope, in document order. Roots nested inside those shadow roots are not included.
	ShadowRoots(ctx context.Context, scope NodeRef) ([]NodeRef, error)
}

// Inspector reads element state.
type Inspector interface {
	Attribute(ctx context.Context, node NodeRef, name string) (string, bool, error)
	TextContent(ctx context.Context, node NodeRef) (string, error)
	Value(ctx context.Context, node NodeRef) (string, error)
	// Box returns nil when the element has no layout box (display:none, detached, hidden).
	Box(ctx context.Context, node NodeRef) (*Box, error)
}

// Actor mutates the page the way a user would.
type Actor interface {
	Focus(ctx context.Context, node NodeRef) error
	Click(ctx context.Context, node NodeRef) error
	// Hover synthesizes pointer and mouse enter/over events on the element.
	Hover(ctx context.Context, node NodeRef) error
	ScrollIntoView(ctx context.Context, node NodeRef) error
	// SetNativeValue writes the value through the element prototype's setter, bypassing any
	// accessor a framework installed on the instance.
	SetNativeValue(ctx context.Context, node NodeRef, value string) error
	// DispatchInput fires a bubbling "input" event on the element.
	DispatchInput(ctx context.Context, node NodeRef) error
}

// Primitives is the full page contract the automation core runs against.
type Primitives interface {
	Query
	Inspector
	Actor
	// Release drops every handle issued so far.
	Release(ctx context.Context) error
}

// Visible reports whether node currently has a layout box.
func Visible(ctx context.Context, in Inspector, node NodeRef) (bool, error) {
	box, err := in.Box(ctx, node)
	if err != nil {
		return false, err
	}
	return box != nil, nil
}
