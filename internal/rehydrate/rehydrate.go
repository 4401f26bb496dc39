// Package rehydrate replaces plain links inside a post's "no-email" content
// block with inline media: native video players, YouTube/Vimeo embeds and
// preview cards.
//
// A pass is idempotent. Everything it produces sits inside a container
// carrying embed.MarkerClass, and links at or below such a container are
// never touched again, so the host may run it any number of times on the
// same tree.
package rehydrate

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"embedwrap/internal/classify"
	"embedwrap/internal/embed"
	"embedwrap/internal/media"
	"embedwrap/internal/preview"
)

// TopicMode selects how local topic links are previewed.
type TopicMode string

const (
	// TopicRemote delegates topic previews to the onebox endpoint.
	TopicRemote TopicMode = "remote"
	// TopicLocal renders a quote from the topic's JSON.
	TopicLocal TopicMode = "local"
)

// Classifier maps a URL to its media classification.
type Classifier interface {
	Classify(rawURL, documentOrigin string) media.Classification
}

// PreviewFetcher returns a preview card for a URL, or nil when there is none.
type PreviewFetcher interface {
	Fetch(ctx context.Context, url string) (*media.Fragment, error)
}

// TopicPreviewer renders a quote card for a local topic.
type TopicPreviewer interface {
	Fetch(ctx context.Context, id, link string) (*media.Fragment, error)
}

// Options configures a Rehydrator.
type Options struct {
	Classifier Classifier     // Defaults to classify.Default()
	Previews   PreviewFetcher // nil disables preview cards
	Topics     TopicPreviewer // Used in TopicLocal mode
	TopicMode  TopicMode      // Defaults to TopicRemote

	// TopicInline lets topic links embedded in prose be previewed. By default
	// only standalone topic links are.
	TopicInline bool

	Expander         *preview.Expander // nil disables auto-expand of cards
	BlockConcurrency int               // Blocks processed at once; <= 0 means 1
	Logger           *slog.Logger
}

// Rehydrator runs rehydration passes.
type Rehydrator struct {
	opts   Options
	logger *slog.Logger

	// mu serialises every read and write of the DOM across passes, so
	// overlapping passes over the same tree behave like sequential ones.
	// It is released while a link waits on the network.
	mu sync.Mutex
}

// New creates a Rehydrator.
func New(opts Options) *Rehydrator {
	if opts.Classifier == nil {
		opts.Classifier = classify.Default()
	}
	if opts.TopicMode == "" {
		opts.TopicMode = TopicRemote
	}
	if opts.BlockConcurrency <= 0 {
		opts.BlockConcurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Rehydrator{opts: opts, logger: logger}
}

// Stats counts what a pass did with the links it saw.
type Stats struct {
	Blocks   int
	Links    int
	Replaced int
	Skipped  int // Matched a skip rule
	Left     int // No strategy applied, or nothing to show
	Failed   int // A fetch or splice failed; the link was left in place
}

func (s *Stats) add(o Stats) {
	s.Blocks += o.Blocks
	s.Links += o.Links
	s.Replaced += o.Replaced
	s.Skipped += o.Skipped
	s.Left += o.Left
	s.Failed += o.Failed
}

// Pass is the result of one Rehydrate call.
type Pass struct {
	r *Rehydrator

	mu      sync.Mutex
	stats   Stats
	pending []<-chan struct{}
}

// Stats returns the counters of the pass.
func (p *Pass) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Wait blocks until every auto-expand attempt scheduled by the pass has run,
// or ctx is done.
func (p *Pass) Wait(ctx context.Context) error {
	p.mu.Lock()
	pending := append([]<-chan struct{}(nil), p.pending...)
	p.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Do runs fn while no pass is touching the DOM. Hosts use it to serialise a
// tree that may still have auto-expand attempts pending.
func (p *Pass) Do(fn func()) {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	fn()
}

// candidate is a link under consideration.
type candidate struct {
	sel     *goquery.Selection
	rawHref string
	href    string // Resolved against the page URL when possible
	text    string
	page    *url.URL
}

// plan is what to do with a link, decided while holding the DOM lock.
type plan struct {
	frag    *media.Fragment // Built without I/O
	topicID string          // Render a local topic quote
	onebox  bool            // Fetch a remote preview card (also the topic fallback)
	reason  string
}

// Rehydrate processes every content block under root. pageURL is the URL of
// the page the post is rendered on; it resolves relative links and identifies
// local topic links. Rehydrate never fails: per-link problems are logged and
// the link is left as it was.
func (r *Rehydrator) Rehydrate(ctx context.Context, root *goquery.Selection, pageURL string) *Pass {
	p := &Pass{r: r}
	if root == nil || root.Length() == 0 {
		return p
	}

	var page *url.URL
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		page = u
	}

	r.mu.Lock()
	blocks, strategy := findBlocks(root)
	linkSets := make([][]*goquery.Selection, len(blocks))
	for i, b := range blocks {
		b.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			linkSets[i] = append(linkSets[i], s)
		})
	}
	r.mu.Unlock()

	if len(blocks) == 0 {
		r.logger.Debug("no content block found")
		return p
	}
	r.logger.Debug("content blocks found", "count", len(blocks), "strategy", strategy)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.BlockConcurrency)
	for _, links := range linkSets {
		g.Go(func() error {
			var st Stats
			st.Blocks = 1
			for _, link := range links {
				r.processLink(gctx, p, root, page, link, &st)
			}
			p.mu.Lock()
			p.stats.add(st)
			p.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return p
}

// processLink runs one link through skip rules, classification, strategy
// selection and splicing. Failures stay with the link.
func (r *Rehydrator) processLink(ctx context.Context, p *Pass, root *goquery.Selection, page *url.URL, link *goquery.Selection, st *Stats) {
	st.Links++
	defer func() {
		if rec := recover(); rec != nil {
			st.Failed++
			r.logger.Error("link processing panicked", "panic", rec)
		}
	}()

	c, pl, skip := r.prepare(root, page, link)
	if skip != "" {
		st.Skipped++
		if c != nil {
			r.logger.Debug("skipping link", "href", c.rawHref, "rule", skip)
		}
		return
	}

	frag, err := r.execute(ctx, c, pl)
	if err != nil {
		st.Failed++
		r.logger.Debug("no embed for link", "href", c.href, "reason", pl.reason, "error", err)
		return
	}
	if frag == nil {
		st.Left++
		r.logger.Debug("leaving link", "href", c.href, "reason", pl.reason)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !attached(link, root) {
		// The host replaced the block while we were fetching.
		st.Left++
		r.logger.Debug("link detached during fetch", "href", c.href)
		return
	}
	spliced, err := splice(link, *frag)
	if err != nil {
		st.Failed++
		r.logger.Warn("splicing embed", "href", c.href, "error", err)
		return
	}
	st.Replaced++
	r.logger.Debug("replaced link", "href", c.href, "kind", frag.Kind.String(), "reason", pl.reason)

	if frag.Kind == media.PreviewCard && r.opts.Expander != nil && spliced != nil {
		done := r.opts.Expander.Schedule(spliced, &r.mu)
		p.mu.Lock()
		p.pending = append(p.pending, done)
		p.mu.Unlock()
	}
}

// prepare applies the skip rules to link and plans its replacement. skip
// names the rule that excluded the link, if any.
func (r *Rehydrator) prepare(root *goquery.Selection, page *url.URL, link *goquery.Selection) (c *candidate, pl plan, skip string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !attached(link, root) {
		return nil, plan{}, "detached"
	}
	c = newCandidate(link, page)
	if rule := skipReason(c); rule != "" {
		return c, plan{}, rule
	}
	return c, r.plan(c), ""
}

func newCandidate(link *goquery.Selection, page *url.URL) *candidate {
	raw := strings.TrimSpace(link.AttrOr("href", ""))
	href := raw
	if page != nil {
		if ref, err := url.Parse(raw); err == nil {
			href = page.ResolveReference(ref).String()
		}
	}
	return &candidate{
		sel:     link,
		rawHref: raw,
		href:    href,
		text:    strings.TrimSpace(link.Text()),
		page:    page,
	}
}

// plan picks the strategy for c by priority: local topic, YouTube, Vimeo,
// native video, then a generic preview for standalone bare URLs.
func (r *Rehydrator) plan(c *candidate) plan {
	origin := ""
	if c.page != nil {
		origin = c.page.Scheme + "://" + c.page.Host
	}
	cl := r.opts.Classifier.Classify(c.href, origin)
	r.logger.Debug("classified link", "href", c.href, "kind", cl.Kind.String(), "rule", cl.Rule)

	switch {
	case cl.Kind == media.LocalCrossReference:
		if !r.opts.TopicInline && !IsStandalone(c.sel) {
			return plan{reason: "inline topic link"}
		}
		if r.opts.TopicMode == TopicLocal && cl.ID != "" && r.opts.Topics != nil {
			return plan{topicID: cl.ID, onebox: true, reason: "topic quote"}
		}
		return plan{onebox: true, reason: "topic preview"}

	case cl.Provider == media.ProviderYouTube:
		if frag, ok := embed.YouTube(c.href); ok {
			return plan{frag: &frag, reason: "youtube"}
		}
		return r.genericPlan(c, "youtube without id")

	case cl.Provider == media.ProviderVimeo:
		if frag, ok := embed.Vimeo(c.href); ok {
			return plan{frag: &frag, reason: "vimeo"}
		}
		return r.genericPlan(c, "vimeo without id")

	case cl.Kind == media.DirectVideoFile || cl.Kind == media.KnownVideoPlatform:
		frag := embed.VideoPlayer(c.href)
		return plan{frag: &frag, reason: cl.Rule}
	}

	return r.genericPlan(c, "generic")
}

// genericPlan fetches a preview only for a standalone link whose text is the
// URL itself; links inside prose are never replaced.
func (r *Rehydrator) genericPlan(c *candidate, reason string) plan {
	if !IsStandalone(c.sel) {
		return plan{reason: reason + ", inline"}
	}
	if c.text != c.href && c.text != c.rawHref && !strings.Contains(c.text, "http") {
		return plan{reason: reason + ", labelled link"}
	}
	return plan{onebox: true, reason: reason}
}

// execute carries out pl, performing any network I/O. It is called without
// the DOM lock.
func (r *Rehydrator) execute(ctx context.Context, c *candidate, pl plan) (*media.Fragment, error) {
	if pl.frag != nil {
		return pl.frag, nil
	}

	if pl.topicID != "" {
		frag, err := r.opts.Topics.Fetch(ctx, pl.topicID, c.href)
		if err == nil && frag != nil {
			return frag, nil
		}
		r.logger.Debug("topic quote failed, falling back to onebox", "topic", pl.topicID, "error", err)
	}

	if pl.onebox && r.opts.Previews != nil {
		frag, err := r.opts.Previews.Fetch(ctx, c.href)
		if err != nil {
			return nil, fmt.Errorf("fetching preview: %w", err)
		}
		return frag, nil
	}
	return nil, nil
}

// splice replaces link with the fragment's markup. Cards replace the link
// directly; other fragments go inside the processed container. A paragraph
// holding nothing but the link is replaced as a whole, since the block-level
// markup cannot live inside a <p>. It returns the inserted root element.
func splice(link *goquery.Selection, frag media.Fragment) (*goquery.Selection, error) {
	target := link
	if p := link.Parent(); p.Is("p") && IsStandalone(link) {
		target = p
	}
	n := target.Get(0)

	var parent *html.Node
	if n.Parent != nil && n.Parent.Type == html.ElementNode {
		parent = n.Parent
	}
	nodes, err := html.ParseFragment(strings.NewReader(embed.Wrap(frag)), parent)
	if err != nil {
		return nil, fmt.Errorf("parsing fragment: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("empty fragment")
	}

	target.ReplaceWithNodes(nodes...)

	for _, node := range nodes {
		if node.Type == html.ElementNode {
			return goquery.NewDocumentFromNode(node).Selection, nil
		}
	}
	return nil, nil
}

// attached reports whether link is still part of the tree under root.
func attached(link *goquery.Selection, root *goquery.Selection) bool {
	if link.Length() == 0 || root.Length() == 0 {
		return false
	}
	top := root.Get(0)
	for n := link.Get(0); n != nil; n = n.Parent {
		if n == top {
			return true
		}
	}
	return false
}
