// internal/automation/probe.go
package automation

import (
	"context"
	"fmt"
	"io"

	"github.com/xkilldash9x/fireflybatch/internal/browser/dom"
)

// ProbeReport is a read-only look at the page from the automation's point of view. It answers
// "would a prompt run find what it needs" without typing or clicking anything.
type ProbeReport struct {
	Preset string

	PromptField     bool
	PromptValue     string
	GenerateControl string // selector that matched, empty when none did

	Count        int // what the completion detector counts as the baseline
	RemoteImages int
	Batches      int

	BulkDownload     bool
	DownloadControls int
	ConsentDialogs   []string
}

// Probe inspects page with cfg's selectors.
func Probe(ctx context.Context, page dom.Primitives, cfg Config) (ProbeReport, error) {
	loc := dom.NewLocator(page)
	rep := ProbeReport{Preset: cfg.Preset}

	field, err := loc.FindFirst(ctx, PromptFieldSelector, dom.NoNode)
	if err != nil {
		return rep, fmt.Errorf("probe prompt field: %w", err)
	}
	if field != dom.NoNode {
		rep.PromptField = true
		if rep.PromptValue, err = page.Value(ctx, field); err != nil {
			return rep, fmt.Errorf("probe prompt value: %w", err)
		}
	}

	btn, sel, err := NewTrigger(page).Locate(ctx)
	if err != nil {
		return rep, fmt.Errorf("probe generate control: %w", err)
	}
	if btn != dom.NoNode {
		rep.GenerateControl = sel
	}

	if rep.Count, err = NewDetector(page, cfg).Count(ctx); err != nil {
		return rep, err
	}
	imgs, err := remoteImages(ctx, page, loc, dom.NoNode)
	if err != nil {
		return rep, fmt.Errorf("probe images: %w", err)
	}
	rep.RemoteImages = len(imgs)

	scope := dom.NoNode
	if cfg.BatchSelector != "" {
		batches, err := loc.FindAll(ctx, cfg.BatchSelector, dom.NoNode)
		if err != nil {
			return rep, fmt.Errorf("probe batches: %w", err)
		}
		rep.Batches = len(batches)
		if scope, err = newestBatch(ctx, loc, cfg.BatchSelector); err != nil {
			return rep, err
		}
	}
	if cfg.BatchSelector == "" || scope != dom.NoNode {
		bulk, _, err := loc.FirstOf(ctx, BulkDownloadSelectors, scope)
		if err != nil {
			return rep, fmt.Errorf("probe bulk download: %w", err)
		}
		rep.BulkDownload = bulk != dom.NoNode
		controls, err := downloadControls(ctx, page, loc, scope)
		if err != nil {
			return rep, fmt.Errorf("probe download controls: %w", err)
		}
		rep.DownloadControls = len(controls)
	}

	for _, idiom := range ConsentIdioms {
		node, err := loc.FindFirst(ctx, idiom.Selector, dom.NoNode)
		if err != nil {
			return rep, fmt.Errorf("probe consent %s: %w", idiom.Name, err)
		}
		if node != dom.NoNode {
			rep.ConsentDialogs = append(rep.ConsentDialogs, idiom.Name)
		}
	}
	return rep, nil
}

// Ready reports whether a prompt could be submitted right now.
func (r ProbeReport) Ready() bool {
	return r.PromptField && r.GenerateControl != ""
}

// WriteTo prints the report as aligned "label: value" lines.
func (r ProbeReport) WriteTo(w io.Writer) (int64, error) {
	yesNo := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}
	generate := r.GenerateControl
	if generate == "" {
		generate = "not found"
	}
	consent := "none"
	if len(r.ConsentDialogs) > 0 {
		consent = fmt.Sprint(r.ConsentDialogs)
	}

	lines := [][2]string{
		{"preset", r.Preset},
		{"prompt field", yesNo(r.PromptField)},
		{"prompt value", fmt.Sprintf("%q", r.PromptValue)},
		{"generate control", generate},
		{"baseline count", fmt.Sprint(r.Count)},
		{"remote images", fmt.Sprint(r.RemoteImages)},
		{"batches", fmt.Sprint(r.Batches)},
		{"bulk download", yesNo(r.BulkDownload)},
		{"download controls", fmt.Sprint(r.DownloadControls)},
		{"consent dialogs", consent},
		{"ready", yesNo(r.Ready())},
	}
	var total int64
	for _, l := range lines {
		n, err := fmt.Fprintf(w, "%-18s %s\n", l[0]+":", l[1])
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
