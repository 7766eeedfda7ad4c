// internal/automation/helpers_test.go
package automation

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
	"github.com/xkilldash9x/fireflybatch/internal/browser/dom"
	"github.com/xkilldash9x/fireflybatch/internal/browser/shadowdom"
	"github.com/xkilldash9x/fireflybatch/internal/humanoid"
	"github.com/xkilldash9x/fireflybatch/internal/mocks"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// harness bundles a fake clock, a seeded pacer and a recording sink.
type harness struct {
	clock *mocks.FakeClock
	pacer *humanoid.Pacer
	sink  *mocks.RecordingSink
	rep   *reporter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := mocks.NewFakeClock(epoch)
	sink := &mocks.RecordingSink{}
	return &harness{
		clock: clock,
		pacer: humanoid.NewPacer(clock, rand.New(rand.NewSource(1))),
		sink:  sink,
		rep:   newReporter(sink, zaptest.NewLogger(t), "cmd-test"),
	}
}

func (h *harness) messages(sev schemas.Severity) []string {
	var out []string
	for _, ev := range h.sink.Events() {
		if ev.Severity == sev {
			out = append(out, ev.Message)
		}
	}
	return out
}

func parsePage(t *testing.T, body string) *shadowdom.Document {
	t.Helper()
	doc, err := shadowdom.ParseString("<html><body>" + body + "</body></html>")
	require.NoError(t, err)
	return doc
}

// images renders n remote result images with neutral alt text.
func images(start, n int) string {
	var b strings.Builder
	for i := start; i < start+n; i++ {
		fmt.Fprintf(&b, `<img alt="result %d" width="512" src="https://cdn.example/img/%d.jpg">`, i, i)
	}
	return b.String()
}

func mustFind(t *testing.T, doc *shadowdom.Document, selector string) dom.NodeRef {
	t.Helper()
	node, err := dom.NewLocator(doc).FindFirst(testCtx(), selector, dom.NoNode)
	require.NoError(t, err)
	require.NotEqual(t, dom.NoNode, node, "selector %q", selector)
	return node
}

func contextWithCancel() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}
