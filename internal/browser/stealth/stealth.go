// internal/browser/stealth/stealth.go
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

const (
	personaPlaceholder = "__FFB_PERSONA__"
	personaDecl        = "const persona = " + personaPlaceholder + ";"
)

// Persona defines the browser characteristics to present. Empty fields leave the browser's own
// value in place, so a headful browser keeps the user's real user agent and timezone.
type Persona struct {
	UserAgent string   `json:"userAgent,omitempty"`
	Platform  string   `json:"platform,omitempty"`
	Languages []string `json:"languages,omitempty"`
	Timezone  string   `json:"timezone,omitempty"`
	Locale    string   `json:"locale,omitempty"`
}

// DefaultPersona only pins the language list.
var DefaultPersona = Persona{
	Languages: []string{"en-US", "en"},
}

// Script returns the evasions script with the persona embedded.
func Script(p Persona) (string, error) {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode persona: %w", err)
	}
	decl := strings.Replace(personaDecl, personaPlaceholder, string(data), 1)
	return strings.Replace(evasionsScript, personaDecl, decl, 1), nil
}

// acceptLanguage renders languages as an Accept-Language value with descending weights.
func acceptLanguage(langs []string) string {
	parts := make([]string, 0, len(langs))
	for i, l := range langs {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, q))
	}
	return strings.Join(parts, ",")
}

// Apply builds the CDP actions that make an automated browser look like a user-operated one.
// Run it on a tab before navigating.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.Strings("languages", p.Languages),
	)

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := Script(p)
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}
	if p.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(p.UserAgent)
		if p.Platform != "" {
			ua = ua.WithPlatform(p.Platform)
		}
		tasks = append(tasks, ua)
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if len(p.Languages) > 0 {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage(p.Languages),
		}))
	}
	return tasks
}
