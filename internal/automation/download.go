// internal/automation/download.go
package automation

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fireflybatch/internal/browser/dom"
	"github.com/xkilldash9x/fireflybatch/internal/humanoid"
)

// ConsentResult reports what the post-download dialog check saw.
type ConsentResult struct {
	Found   bool
	Handled bool
	Idiom   string
}

// Downloader triggers downloads for the newest results.
type Downloader struct {
	page  dom.Primitives
	loc   *dom.Locator
	pacer *humanoid.Pacer
	cfg   Config
	log   *reporter
}

// newDownloader creates a Downloader reporting progress through log.
func newDownloader(page dom.Primitives, pacer *humanoid.Pacer, cfg Config, log *reporter) *Downloader {
	return &Downloader{page: page, loc: dom.NewLocator(page), pacer: pacer, cfg: cfg, log: log}
}

// Attempt tries the bulk control, then per-item controls, and returns how many downloads were
// triggered. The bulk path reports the fixed batch size. Only fatal errors are returned.
func (d *Downloader) Attempt(ctx context.Context) (int, error) {
	scope, err := d.scope(ctx)
	if err != nil {
		return 0, err
	}
	// A batch layout with no batch has nothing of ours to download. Searching the whole
	// document instead would pick up unrelated controls.
	if d.cfg.BatchSelector != "" && scope == dom.NoNode {
		d.log.warn("No batches found.")
		return 0, nil
	}

	// Bulk first. It covers the whole batch in one click and only falls through to the
	// per-item path when no bulk control exists or its click failed.
	n, done, err := d.bulk(ctx, scope)
	if err != nil || done {
		return n, err
	}
	return d.individual(ctx, scope)
}

// scope is the newest batch when the layout has batches, otherwise the whole document.
// NoNode with a batch selector set means no batch exists yet.
func (d *Downloader) scope(ctx context.Context) (dom.NodeRef, error) {
	if d.cfg.BatchSelector == "" {
		return dom.NoNode, nil
	}
	newest, err := newestBatch(ctx, d.loc, d.cfg.BatchSelector)
	if err != nil && fatal(err) {
		return dom.NoNode, err
	}
	return newest, nil
}

func (d *Downloader) bulk(ctx context.Context, scope dom.NodeRef) (int, bool, error) {
	btn, _, err := d.loc.FirstOf(ctx, BulkDownloadSelectors, scope)
	if err != nil {
		if fatal(err) {
			return 0, false, err
		}
		d.log.logger.Debug("bulk download lookup failed", zap.Error(err))
		return 0, false, nil
	}
	if btn == dom.NoNode {
		return 0, false, nil
	}

	d.log.info("Downloading image...")
	// A failed click is soft: the caller still gets to try the per-item controls.
	if err := d.page.Click(ctx, btn); err != nil {
		if fatal(err) {
			return 0, false, err
		}
		d.log.warn("Download all failed: %v", err)
		return 0, false, nil
	}
	if _, err := d.handleConsent(ctx); err != nil {
		return 0, false, err
	}
	return d.cfg.BatchSize, true, nil
}

func (d *Downloader) individual(ctx context.Context, scope dom.NodeRef) (int, error) {
	if err := d.revealControls(ctx, scope); err != nil {
		return 0, err
	}

	controls, err := d.visibleControls(ctx, scope)
	if err != nil || len(controls) == 0 {
		return 0, err
	}

	d.log.info("Downloading image...")
	count := 0
	// Each control gets its own pacing and consent check. A click that fails is skipped so one
	// detached tile does not cost the rest of the batch.
	for _, btn := range controls {
		if err := d.page.ScrollIntoView(ctx, btn); err != nil {
			if fatal(err) {
				return count, err
			}
			continue
		}
		if err := d.pacer.Sleep(ctx, d.cfg.PreClickDelay); err != nil {
			return count, err
		}
		if err := d.page.Click(ctx, btn); err != nil {
			if fatal(err) {
				return count, err
			}
			d.log.logger.Debug("download click failed, skipping", zap.Error(err))
			continue
		}
		count++
		if _, err := d.handleConsent(ctx); err != nil {
			return count, err
		}
		if err := d.pacer.Sleep(ctx, d.cfg.PostClickDelay); err != nil {
			return count, err
		}
	}
	return count, nil
}

// revealControls hovers every result image; per-item download buttons only render on hover.
func (d *Downloader) revealControls(ctx context.Context, scope dom.NodeRef) error {
	imgs, err := remoteImages(ctx, d.page, d.loc, scope)
	if err != nil {
		if fatal(err) {
			return err
		}
		imgs = nil
	}
	for _, img := range imgs {
		box, err := d.page.Box(ctx, img)
		if err != nil {
			if fatal(err) {
				return err
			}
			continue
		}
		if box == nil || box.Width <= d.cfg.MinImageWidth {
			continue
		}
		if err := d.page.Hover(ctx, img); err != nil && fatal(err) {
			return err
		}
	}
	return d.pacer.Sleep(ctx, d.cfg.HoverSettle)
}

func (d *Downloader) visibleControls(ctx context.Context, scope dom.NodeRef) ([]dom.NodeRef, error) {
	all, err := downloadControls(ctx, d.page, d.loc, scope)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		return nil, nil
	}
	var out []dom.NodeRef
	for _, c := range all {
		ok, err := dom.Visible(ctx, d.page, c)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			continue
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// handleConsent dismisses the first visible confirmation dialog. Absence is not an error.
func (d *Downloader) handleConsent(ctx context.Context) (ConsentResult, error) {
	var res ConsentResult
	// Idioms are ordered by how often the page shows them. Only the first visible one is clicked.
	for _, idiom := range ConsentIdioms {
		btn, err := d.loc.FindFirst(ctx, idiom.Selector, dom.NoNode)
		if err != nil {
			if fatal(err) {
				return res, err
			}
			continue
		}
		if btn == dom.NoNode {
			continue
		}
		res.Found = true
		res.Idiom = idiom.Name
		visible, err := dom.Visible(ctx, d.page, btn)
		if err != nil && fatal(err) {
			return res, err
		}
		// Dialogs stay in the DOM after closing, hidden.
		if !visible {
			continue
		}
		if err := d.page.Click(ctx, btn); err != nil {
			if fatal(err) {
				return res, err
			}
			d.log.warn("Could not confirm %s dialog: %v", idiom.Name, err)
			return res, nil
		}
		res.Handled = true
		d.log.info("Confirmed %s dialog.", idiom.Name)
		return res, d.pacer.Sleep(ctx, d.cfg.ConsentDelay)
	}
	if res.Found {
		d.log.logger.Debug("consent dialog present but hidden", zap.String("idiom", res.Idiom))
	}
	return res, nil
}
