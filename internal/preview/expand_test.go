package preview

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

func cardSelection(t *testing.T, markup string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		t.Fatal(err)
	}
	return doc.Find("body").Children().First()
}

func TestExpand(t *testing.T) {
	card := cardSelection(t, `<aside class="quote collapsed rehydrated-media">
		<div class="quote-controls"><button class="quote-toggle" aria-expanded="false"></button></div>
		<blockquote><p>visible</p><div class="truncated" hidden><p>rest</p></div></blockquote>
	</aside>`)

	e := &Expander{}
	if !e.Expand(card) {
		t.Fatal("Expand() should find the quote toggle")
	}

	if card.HasClass("collapsed") || !card.HasClass("expanded") {
		t.Errorf("card classes = %q, want expanded and not collapsed", card.AttrOr("class", ""))
	}
	if got := card.Find(".quote-toggle").AttrOr("aria-expanded", ""); got != "true" {
		t.Errorf("aria-expanded = %q, want true", got)
	}
	if card.Find("[hidden]").Length() != 0 {
		t.Error("hidden content should be revealed")
	}
	if card.Find(".truncated").Length() != 0 {
		t.Error("truncated class should be removed")
	}
}

func TestExpandSelectorOrder(t *testing.T) {
	card := cardSelection(t, `<aside class="onebox">
		<a class="show-more" href="#">more</a>
		<button class="expand">expand</button>
	</aside>`)

	e := &Expander{}
	e.Expand(card)

	if _, ok := card.Find("button.expand").Attr("aria-expanded"); !ok {
		t.Error("button.expand precedes .show-more and should be the triggered control")
	}
	if _, ok := card.Find(".show-more").Attr("aria-expanded"); ok {
		t.Error("only the first matching control is triggered")
	}
}

func TestExpandNoControl(t *testing.T) {
	card := cardSelection(t, `<aside class="onebox"><p>short</p></aside>`)
	before, _ := goquery.OuterHtml(card)

	e := &Expander{}
	if e.Expand(card) {
		t.Error("Expand() should report no control")
	}
	after, _ := goquery.OuterHtml(card)
	if before != after {
		t.Errorf("card changed without a control:\n%s\n%s", before, after)
	}
}

func TestSchedule(t *testing.T) {
	card := cardSelection(t, `<aside class="onebox collapsed"><button class="expand"></button></aside>`)

	var mu sync.Mutex
	e := &Expander{Delay: time.Millisecond}
	done := e.Schedule(card, &mu)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled expand did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	if !card.HasClass("expanded") {
		t.Error("scheduled expand should have expanded the card")
	}
}
