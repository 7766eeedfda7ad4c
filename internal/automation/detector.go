// internal/automation/detector.go
package automation

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/fireflybatch/internal/browser/dom"
)

// Reason names the heuristic that declared a generation complete.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonMatchedPrompt Reason = "matched_prompt"
	ReasonCountIncrease Reason = "count_increase"
)

// Detection is one evaluation of the page.
type Detection struct {
	Ready    bool
	Reason   Reason
	Observed int
}

// Detector decides whether a generation has finished. It only reads the page.
type Detector struct {
	page dom.Inspector
	loc  *dom.Locator
	cfg  Config
}

// NewDetector creates a Detector.
func NewDetector(page dom.Primitives, cfg Config) *Detector {
	return &Detector{page: page, loc: dom.NewLocator(page), cfg: cfg}
}

// Count returns the number of qualifying elements: generation batches when the config names a
// batch selector, otherwise images with a remote source. Capture it before clicking generate.
func (d *Detector) Count(ctx context.Context) (int, error) {
	if d.cfg.BatchSelector != "" {
		batches, err := d.loc.FindAll(ctx, d.cfg.BatchSelector, dom.NoNode)
		if err != nil {
			return 0, fmt.Errorf("count batches: %w", err)
		}
		return len(batches), nil
	}
	imgs, err := d.remoteImages(ctx, dom.NoNode)
	if err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return len(imgs), nil
}

// Evaluate checks both heuristics against baseline, the Count taken before generation.
func (d *Detector) Evaluate(ctx context.Context, prompt string, baseline int) (Detection, error) {
	matched, err := d.matchPrompt(ctx, prompt)
	if err != nil {
		return Detection{}, err
	}
	count, err := d.Count(ctx)
	if err != nil {
		return Detection{}, err
	}
	det := Detection{Observed: count}
	if matched {
		det.Ready, det.Reason = true, ReasonMatchedPrompt
		return det, nil
	}
	if count < baseline+d.cfg.BatchIncrement {
		return det, nil
	}
	if d.cfg.RequireDownloadControl && d.cfg.BatchSelector != "" {
		newest, err := newestBatch(ctx, d.loc, d.cfg.BatchSelector)
		if err != nil {
			return det, err
		}
		ok, err := hasDownloadControl(ctx, d.page, d.loc, newest)
		if err != nil || !ok {
			return det, err
		}
	}
	det.Ready, det.Reason = true, ReasonCountIncrease
	return det, nil
}

// matchPrompt looks for a remote image whose alt text carries the prompt key.
func (d *Detector) matchPrompt(ctx context.Context, prompt string) (bool, error) {
	key := promptKey(prompt, d.cfg.MatchPrefixLen)
	if key == "" {
		return false, nil
	}
	imgs, err := d.remoteImages(ctx, dom.NoNode)
	if err != nil {
		return false, fmt.Errorf("match prompt: %w", err)
	}
	for _, img := range imgs {
		alt, _, err := d.page.Attribute(ctx, img, "alt")
		if err != nil {
			return false, err
		}
		if strings.Contains(strings.ToLower(alt), key) {
			return true, nil
		}
	}
	return false, nil
}

func (d *Detector) remoteImages(ctx context.Context, scope dom.NodeRef) ([]dom.NodeRef, error) {
	return remoteImages(ctx, d.page, d.loc, scope)
}

// promptKey is the lowercased first n characters of prompt. The last word is dropped when at
// least two words remain without it: the cut can split a word and alt text may inflect it
// ("jumps" vs "jumping"), while a one-word key like "a" would match unrelated images.
func promptKey(prompt string, n int) string {
	runes := []rune(strings.ToLower(strings.TrimSpace(prompt)))
	if len(runes) > n {
		runes = runes[:n]
	}
	words := strings.Fields(string(runes))
	if len(words) > 2 {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func remoteImages(ctx context.Context, page dom.Inspector, loc *dom.Locator, scope dom.NodeRef) ([]dom.NodeRef, error) {
	all, err := loc.FindAll(ctx, ImageSelector, scope)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, img := range all {
		src, _, err := page.Attribute(ctx, img, "src")
		if err != nil {
			return nil, err
		}
		if isRemoteSource(src) {
			out = append(out, img)
		}
	}
	return out, nil
}

// newestBatch returns the last batch element in discovery order, or NoNode.
func newestBatch(ctx context.Context, loc *dom.Locator, selector string) (dom.NodeRef, error) {
	batches, err := loc.FindAll(ctx, selector, dom.NoNode)
	if err != nil {
		return dom.NoNode, fmt.Errorf("find batches: %w", err)
	}
	if len(batches) == 0 {
		return dom.NoNode, nil
	}
	return batches[len(batches)-1], nil
}

// hasDownloadControl reports whether scope holds a bulk or per-item download control,
// rendered or not. A NoNode scope is never ready.
func hasDownloadControl(ctx context.Context, page dom.Inspector, loc *dom.Locator, scope dom.NodeRef) (bool, error) {
	if scope == dom.NoNode {
		return false, nil
	}
	bulk, _, err := loc.FirstOf(ctx, BulkDownloadSelectors, scope)
	if err != nil || bulk != dom.NoNode {
		return bulk != dom.NoNode, err
	}
	controls, err := downloadControls(ctx, page, loc, scope)
	return len(controls) > 0, err
}

// downloadControls returns every control under scope labelled with a download keyword.
func downloadControls(ctx context.Context, page dom.Inspector, loc *dom.Locator, scope dom.NodeRef) ([]dom.NodeRef, error) {
	all, err := loc.FindAll(ctx, DownloadControlSelector, scope)
	if err != nil {
		return nil, err
	}
	var out []dom.NodeRef
	for _, c := range all {
		for _, attr := range downloadLabelAttrs {
			v, ok, err := page.Attribute(ctx, c, attr)
			if err != nil {
				return nil, err
			}
			if ok && isDownloadLabel(v) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}
