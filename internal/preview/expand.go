package preview

import (
	"log/slog"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultExpandDelay is how long a spliced card is left alone before its
// expand control is triggered.
const DefaultExpandDelay = 300 * time.Millisecond

// ExpandSelectors are tried in order; the first control found wins.
var ExpandSelectors = []string{
	".quote-controls .quote-toggle",
	".onebox .expand-quote",
	"button.expand",
	".show-more",
	"[data-expand]",
}

// Expander triggers "show more / expand quote" controls inside spliced
// preview cards so truncated previews display in full.
type Expander struct {
	Delay     time.Duration
	Selectors []string // Defaults to ExpandSelectors
	Logger    *slog.Logger
}

func (e *Expander) selectors() []string {
	if len(e.Selectors) == 0 {
		return ExpandSelectors
	}
	return e.Selectors
}

func (e *Expander) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Expand triggers the first expand control found in card. It reports
// whether a control was found.
func (e *Expander) Expand(card *goquery.Selection) bool {
	for _, sel := range e.selectors() {
		ctrl := card.Find(sel).First()
		if ctrl.Length() == 0 {
			continue
		}
		trigger(card, ctrl)
		return true
	}
	return false
}

// trigger applies the effect of activating ctrl: the card is marked
// expanded and truncated or hidden content becomes visible.
func trigger(card, ctrl *goquery.Selection) {
	ctrl.SetAttr("aria-expanded", "true")
	card.Find(".collapsed, .truncated").AddSelection(card).RemoveClass("collapsed", "truncated")
	card.AddClass("expanded")
	card.Find("[hidden]").RemoveAttr("hidden")
}

// Schedule runs Expand on card after the configured delay on its own
// goroutine. mu guards the document the card belongs to. The returned channel
// is closed once the attempt has finished; failures are logged, never
// returned.
func (e *Expander) Schedule(card *goquery.Selection, mu sync.Locker) <-chan struct{} {
	done := make(chan struct{})
	delay := e.Delay
	if delay <= 0 {
		delay = DefaultExpandDelay
	}

	time.AfterFunc(delay, func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				e.logger().Warn("expand attempt panicked", "panic", r)
			}
		}()

		mu.Lock()
		defer mu.Unlock()
		if !e.Expand(card) {
			e.logger().Debug("no expand control in preview card")
		}
	})
	return done
}
