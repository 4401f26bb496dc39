package httputil

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// numericIDPattern matches purely numeric IDs.
var numericIDPattern = regexp.MustCompile(`^[0-9]+$`)

// ValidateURL checks that a URL is well-formed, absolute and uses HTTP(S).
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("only HTTP(S) URLs are allowed, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}

// ValidateNumericID checks that an ID is purely numeric.
func ValidateNumericID(id string) error {
	if id == "" {
		return fmt.Errorf("numeric ID cannot be empty")
	}
	if !numericIDPattern.MatchString(id) {
		return fmt.Errorf("expected numeric ID, got %q", id)
	}
	return nil
}

// BuildURL constructs a URL from base and path components, encoding each path segment.
func BuildURL(base string, pathSegments ...string) string {
	u := strings.TrimRight(base, "/")
	for _, seg := range pathSegments {
		u += "/" + url.PathEscape(seg)
	}
	return u
}

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// markupPolicy is the UGC policy widened for preview cards: class and data
// attributes drive card styling and the expand controls.
func markupPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowElements("aside", "article", "header", "footer", "section", "button")
		p.AllowAttrs("class").Globally()
		p.AllowDataAttributes()
		p.AllowAttrs("aria-expanded", "aria-label", "hidden", "title").Globally()
		p.AllowAttrs("type").OnElements("button")
		policy = p
	})
	return policy
}

// SanitizeHTML strips scripts, event handlers and other active content from
// remote markup before it is spliced into a post.
func SanitizeHTML(markup string) string {
	return markupPolicy().Sanitize(markup)
}
