package rehydrate

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// paragraphLike are the containers a link may stand alone in.
var paragraphLike = map[string]bool{"p": true, "div": true}

// IsStandalone reports whether link sits on its own line: its parent is a
// paragraph-like block whose only non-whitespace content is the link.
// Line breaks and comments are allowed; any other text or element is not.
func IsStandalone(link *goquery.Selection) bool {
	if link.Length() == 0 {
		return false
	}
	n := link.Get(0)
	parent := n.Parent
	if parent == nil || parent.Type != html.ElementNode || !paragraphLike[parent.Data] {
		return false
	}

	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c == n {
			continue
		}
		switch c.Type {
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				return false
			}
		case html.ElementNode:
			if c.Data != "br" {
				return false
			}
		}
	}
	return true
}
