package rehydrate

import (
	"net/url"
	"testing"
)

func TestIsStandalone(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"alone in paragraph", `<p><a href="x">x</a></p>`, true},
		{"alone in div", `<div><a href="x">x</a></div>`, true},
		{"whitespace around", "<p>\n  <a href=\"x\">x</a>\n</p>", true},
		{"line break after", `<p><a href="x">x</a><br></p>`, true},
		{"comment beside", `<p><!-- note --><a href="x">x</a></p>`, true},
		{"text before", `<p>see <a href="x">x</a></p>`, false},
		{"sibling element", `<p><a href="x">x</a><span>!</span></p>`, false},
		{"list item parent", `<ul><li><a href="x">x</a></li></ul>`, false},
		{"wrapped in strong", `<p><strong><a href="x">x</a></strong></p>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parse(t, tt.body)
			if got := IsStandalone(doc.Find("a").First()); got != tt.want {
				t.Errorf("IsStandalone() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSkipReason(t *testing.T) {
	page, _ := url.Parse(pageURL)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"plain", `<p><a href="https://example.org/a">a</a></p>`, ""},
		{"processed container", `<div class="rehydrated-media"><a href="https://example.org/a">a</a></div>`, "processed"},
		{"legacy video wrapper", `<div class="video-wrapper"><a href="https://example.org/a">a</a></div>`, "processed"},
		{"cooked onebox", `<aside class="onebox"><header><a href="https://example.org/a">a</a></header></aside>`, "processed"},
		{"hash only", `<p><a href="#top">top</a></p>`, "fragment"},
		{"same page", `<p><a href="https://forum.example.com/t/launch/1#post_3">post 3</a></p>`, "fragment"},
		{"same page relative", `<p><a href="/t/launch/1#reply">reply</a></p>`, "fragment"},
		{"heading", `<h3>Title <a href="https://example.org/a">a</a></h3>`, "heading"},
		{"upload", `<p><a href="UPLOAD://abc.mp4">clip</a></p>`, "upload"},
		{"image link", `<p><a href="https://example.org/big.png"><img src="https://example.org/small.png"></a></p>`, "image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parse(t, tt.body)
			c := newCandidate(doc.Find("a").First(), page)
			if got := skipReason(c); got != tt.want {
				t.Errorf("skipReason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFindBlocksStrategyOrder(t *testing.T) {
	doc := parse(t, `<div class="no-email" id="plain"></div><section class="wrap no-email" id="wrapped"></section>`)

	blocks, strategy := findBlocks(doc.Selection)
	if strategy != "wrap-no-email" {
		t.Errorf("strategy = %q, want wrap-no-email", strategy)
	}
	if len(blocks) != 1 || blocks[0].AttrOr("id", "") != "wrapped" {
		t.Errorf("expected only the wrapped block, got %d blocks", len(blocks))
	}
}
