// internal/automation/selectors.go
package automation

import "strings"

// Selectors for the Firefly text-to-image page.
const (
	PromptFieldSelector = `textarea[aria-label="Prompt"]`
	ImageSelector       = "img"

	// Buttons scanned for the literal text "generate" when no structural selector matches.
	GenerateFallbackSelector = "button, sp-button"

	// Controls that may carry a per-image download action.
	DownloadControlSelector = `button, sp-button, sp-action-button, [role="button"]`
)

// GenerateSelectors are tried in order.
var GenerateSelectors = []string{
	`[data-testid="generate-image-generate-button"]`,
	`[data-testid="refresh-button"]`,
	`firefly-image-generation-generate-button button`,
	`[aria-label="Generate"]`,
}

// BulkDownloadSelectors locate the "download all" control of a batch.
var BulkDownloadSelectors = []string{
	`[data-testid="batch-action-downloadAll"]`,
	`[aria-label="Download all"]`,
}

// DownloadKeywords match download labels in the locales Firefly ships.
var DownloadKeywords = []string{
	"download",
	"unduh",
	"herunterladen",
	"télécharger",
	"descargar",
	"scarica",
	"baixar",
}

// downloadLabelAttrs are the attributes inspected for a download keyword.
var downloadLabelAttrs = []string{"aria-label", "data-testid", "label", "title"}

// ConsentIdiom is one known shape of the confirmation dialog shown after a download.
type ConsentIdiom struct {
	Name     string
	Selector string
}

// ConsentIdioms are checked in order after every download activation.
var ConsentIdioms = []ConsentIdiom{
	{Name: "content-credentials", Selector: `.cai-modal sp-button[variant="accent"]`},
	{Name: "dialog", Selector: `sp-dialog sp-button[variant="primary"]`},
}

func isDownloadLabel(s string) bool {
	s = strings.ToLower(s)
	for _, kw := range DownloadKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func isRemoteSource(src string) bool {
	return strings.HasPrefix(strings.TrimSpace(src), "http")
}
