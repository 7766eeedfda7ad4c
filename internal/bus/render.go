// internal/bus/render.go
package bus

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
)

var severityGlyph = map[schemas.Severity]string{
	schemas.SeverityStep:    "…",
	schemas.SeverityInfo:    "i",
	schemas.SeveritySuccess: "✓",
	schemas.SeverityWarning: "!",
	schemas.SeverityError:   "✗",
}

// Render writes each event from events to w as "[hh:mm:ss] glyph message", stamping the time
// as it renders. It returns when events is closed or ctx ends.
func Render(ctx context.Context, events <-chan schemas.LogEvent, w io.Writer, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintln(w, FormatLine(ev, now())); err != nil {
				return err
			}
		}
	}
}

// FormatLine renders a single event.
func FormatLine(ev schemas.LogEvent, at time.Time) string {
	glyph, ok := severityGlyph[ev.Severity]
	if !ok {
		glyph = "-"
	}
	return fmt.Sprintf("[%s] %s %s", at.Format("15:04:05"), glyph, ev.Message)
}
