// Package preview fetches link-preview ("onebox") cards from the forum and
// synthesises quote previews for local topic links.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/singleflight"

	"embedwrap/internal/embed"
	"embedwrap/internal/httputil"
	"embedwrap/internal/media"
)

var (
	// ErrPreviewFailed reports a transport or server failure that left no
	// usable body.
	ErrPreviewFailed = errors.New("preview fetch failed")

	// ErrTopicIncomplete reports a topic response without a title or first post.
	ErrTopicIncomplete = errors.New("topic response incomplete")
)

// Options configures a Fetcher.
type Options struct {
	Client      *http.Client // Defaults to httputil.NewClient(0)
	Credentials httputil.Credentials
	Logger      *slog.Logger
}

// Fetcher requests rendered previews from the forum's onebox endpoint.
type Fetcher struct {
	base   string // e.g. "https://forum.example.com"
	client *http.Client
	creds  httputil.Credentials
	logger *slog.Logger

	// Identical in-flight requests share one round trip.
	group singleflight.Group
}

// NewFetcher creates a Fetcher for the forum at base.
func NewFetcher(base string, opts Options) *Fetcher {
	f := &Fetcher{
		base:   strings.TrimRight(base, "/"),
		client: opts.Client,
		creds:  opts.Credentials,
		logger: opts.Logger,
	}
	if f.client == nil {
		f.client = httputil.NewClient(0)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Fetch returns a preview card for target, or nil when the endpoint answered
// with an empty body. A failed response that still carries markup is used as
// if it had succeeded.
//
// The shared round trip is detached from the caller's cancellation, so one
// caller giving up does not fail the others waiting on the same URL; the
// client timeout still bounds it. A cancelled caller returns at once.
func (f *Fetcher) Fetch(ctx context.Context, target string) (*media.Fragment, error) {
	flight := context.WithoutCancel(ctx)
	ch := f.group.DoChan(target, func() (interface{}, error) {
		return f.fetch(flight, target)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrPreviewFailed, ctx.Err())
	case res = <-ch:
	}

	if res.Shared {
		f.logger.Debug("shared onebox fetch", "url", target)
	}
	if res.Err != nil {
		return nil, res.Err
	}
	frag, _ := res.Val.(*media.Fragment)
	if frag == nil {
		return nil, nil
	}
	// Callers own their fragment; shared results must not alias.
	cp := *frag
	return &cp, nil
}

func (f *Fetcher) endpoint(target string) string {
	q := url.Values{}
	q.Set("url", target)
	q.Set("refresh", "false")
	return f.base + "/onebox?" + q.Encode()
}

func (f *Fetcher) fetch(ctx context.Context, target string) (*media.Fragment, error) {
	resp, err := httputil.GetHTML(ctx, f.client, f.endpoint(target), f.creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPreviewFailed, err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPreviewFailed, err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	markup := strings.TrimSpace(string(body))

	if markup == "" {
		if ok {
			f.logger.Debug("onebox returned empty body", "url", target)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: status %d with empty body", ErrPreviewFailed, resp.StatusCode)
	}
	if !ok {
		f.logger.Debug("using degraded onebox body", "url", target, "status", resp.StatusCode)
	}

	return Card(markup, target)
}

// Card sanitises markup and turns it into a preview card whose root element
// carries the processed marker. Markup with several top-level nodes is wrapped
// in a single container. Returns nil when nothing renderable survives.
func Card(markup, source string) (*media.Fragment, error) {
	clean := strings.TrimSpace(httputil.SanitizeHTML(markup))
	if clean == "" {
		return nil, nil
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(clean), body)
	if err != nil {
		return nil, fmt.Errorf("parsing preview markup: %w", err)
	}

	var roots []*html.Node
	for _, n := range nodes {
		if n.Type == html.TextNode && strings.TrimSpace(n.Data) == "" {
			continue
		}
		roots = append(roots, n)
	}
	if len(roots) == 0 {
		return nil, nil
	}

	var root *html.Node
	if len(roots) == 1 && roots[0].Type == html.ElementNode {
		root = roots[0]
	} else {
		root = &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
		for _, n := range roots {
			root.AppendChild(n)
		}
		goquery.NewDocumentFromNode(root).AddClass("onebox-wrapper")
	}
	goquery.NewDocumentFromNode(root).AddClass(embed.MarkerClass)

	var b strings.Builder
	if err := html.Render(&b, root); err != nil {
		return nil, fmt.Errorf("rendering preview: %w", err)
	}

	return &media.Fragment{Kind: media.PreviewCard, HTML: b.String(), Source: source}, nil
}
