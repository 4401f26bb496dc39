package rehydrate

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"embedwrap/internal/embed"
)

// blockStrategy locates content blocks under a root. Strategies are tried in
// order and the first one with a match wins, which tolerates markup drift in
// the host's wrapper.
type blockStrategy struct {
	name     string
	selector string
}

var blockStrategies = []blockStrategy{
	{"wrap-no-email", ".wrap.no-email"},
	{"data-wrap-no-email", "[data-wrap].no-email"},
	{"div-no-email", "div.no-email"},
	{"any-no-email", ".no-email"},
}

// findBlocks returns the outermost content blocks under root (root included)
// for the first strategy that matches anything, and that strategy's name.
func findBlocks(root *goquery.Selection) ([]*goquery.Selection, string) {
	for _, st := range blockStrategies {
		matches := root.Filter(st.selector).AddSelection(root.Find(st.selector))
		if matches.Length() == 0 {
			continue
		}
		return outermost(matches), st.name
	}
	return nil, ""
}

// outermost drops blocks nested inside another matched block so every link
// belongs to exactly one block.
func outermost(matches *goquery.Selection) []*goquery.Selection {
	set := make(map[*html.Node]bool, matches.Length())
	for _, n := range matches.Nodes {
		set[n] = true
	}

	var blocks []*goquery.Selection
	matches.Each(func(_ int, s *goquery.Selection) {
		for p := s.Get(0).Parent; p != nil; p = p.Parent {
			if set[p] {
				return
			}
		}
		blocks = append(blocks, s)
	})
	return blocks
}

// processedSelector matches containers produced by earlier passes, and
// previews the forum already rendered.
var processedSelector = "." + embed.MarkerClass + ", .video-wrapper, .onebox, aside.quote"

// skipRule short-circuits processing of a link. Rules run in order.
type skipRule struct {
	name string
	skip func(c *candidate) bool
}

var skipRules = []skipRule{
	{"processed", func(c *candidate) bool {
		return c.sel.Closest(processedSelector).Length() > 0
	}},
	{"fragment", func(c *candidate) bool {
		return isSameDocument(c.href, c.rawHref, c.page)
	}},
	{"heading", func(c *candidate) bool {
		return c.sel.Closest("h1, h2, h3, h4, h5, h6").Length() > 0
	}},
	{"upload", func(c *candidate) bool {
		return strings.HasPrefix(strings.ToLower(c.rawHref), "upload:")
	}},
	{"image", func(c *candidate) bool {
		return c.sel.Find("img").Length() > 0
	}},
}

// skipReason returns the name of the first matching skip rule, or "".
func skipReason(c *candidate) string {
	for _, r := range skipRules {
		if r.skip(c) {
			return r.name
		}
	}
	return ""
}

// isSameDocument reports whether href points at the current page itself,
// ignoring the fragment.
func isSameDocument(href, rawHref string, page *url.URL) bool {
	if strings.HasPrefix(strings.TrimSpace(rawHref), "#") {
		return true
	}
	if page == nil {
		return false
	}
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	return stripFragment(u) == stripFragment(page)
}

func stripFragment(u *url.URL) string {
	cp := *u
	cp.Fragment = ""
	cp.RawFragment = ""
	return cp.String()
}
