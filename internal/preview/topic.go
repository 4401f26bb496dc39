package preview

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"embedwrap/internal/embed"
	"embedwrap/internal/httputil"
	"embedwrap/internal/media"
)

// avatarSize replaces the {size} token of an avatar template.
const avatarSize = "48"

// TopicOptions configures a TopicFetcher.
type TopicOptions struct {
	Timeout     time.Duration
	Retries     int
	Credentials httputil.Credentials
	Logger      *slog.Logger
}

// TopicFetcher fetches a local topic as JSON and renders a quote-style
// preview for it locally.
type TopicFetcher struct {
	base   string
	client *retryablehttp.Client
	creds  httputil.Credentials
	logger *slog.Logger
}

// NewTopicFetcher creates a TopicFetcher for the forum at base.
func NewTopicFetcher(base string, opts TopicOptions) *TopicFetcher {
	client := retryablehttp.NewClient()
	client.HTTPClient = httputil.NewClient(opts.Timeout)
	client.RetryMax = opts.Retries
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil // Disable retryable client logging

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &TopicFetcher{
		base:   strings.TrimRight(base, "/"),
		client: client,
		creds:  opts.Credentials,
		logger: logger,
	}
}

// Topic holds the fields of a topic response used by the quote preview.
type Topic struct {
	ID             string
	Title          string
	CategoryID     int64
	CategoryName   string
	Username       string
	PostNumber     int64
	AvatarTemplate string
	Cooked         string
}

// Fetch loads topic id and returns a quote preview card linking to link
// (the topic URL when link is empty).
func (t *TopicFetcher) Fetch(ctx context.Context, id, link string) (*media.Fragment, error) {
	if err := httputil.ValidateNumericID(id); err != nil {
		return nil, fmt.Errorf("invalid topic ID: %w", err)
	}

	topic, err := t.fetchTopic(ctx, id)
	if err != nil {
		return nil, err
	}
	if link == "" {
		link = httputil.BuildURL(t.base, "t", id)
	}

	return &media.Fragment{Kind: media.PreviewCard, HTML: t.render(topic, link), Source: link}, nil
}

func (t *TopicFetcher) fetchTopic(ctx context.Context, id string) (*Topic, error) {
	apiURL := httputil.BuildURL(t.base, "t", id+".json")

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httputil.SetHeaders(req.Request, "application/json", t.creds)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s: %w", ErrPreviewFailed, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: topic %s: unexpected status %d", ErrPreviewFailed, id, resp.StatusCode)
	}

	body, err := httputil.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPreviewFailed, err)
	}

	return parseTopic(id, body)
}

// parseTopic extracts the quote fields from a /t/<id>.json body.
func parseTopic(id string, body []byte) (*Topic, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: topic %s: invalid JSON", ErrTopicIncomplete, id)
	}
	r := gjson.ParseBytes(body)

	post := r.Get("post_stream.posts.0")
	topic := &Topic{
		ID:             id,
		Title:          r.Get("title").String(),
		CategoryID:     r.Get("category_id").Int(),
		CategoryName:   r.Get("category.name").String(),
		Username:       post.Get("username").String(),
		PostNumber:     post.Get("post_number").Int(),
		AvatarTemplate: post.Get("avatar_template").String(),
		Cooked:         post.Get("cooked").String(),
	}
	if topic.CategoryName == "" {
		topic.CategoryName = r.Get("category_name").String()
	}

	if topic.Title == "" || !post.Exists() {
		return nil, fmt.Errorf("%w: topic %s", ErrTopicIncomplete, id)
	}
	if topic.PostNumber == 0 {
		topic.PostNumber = 1
	}
	return topic, nil
}

// render builds the quote markup. Every interpolated value is escaped and
// the cooked body is sanitised.
func (t *TopicFetcher) render(topic *Topic, link string) string {
	var b strings.Builder

	fmt.Fprintf(&b, `<aside class="quote %s" data-topic="%s" data-post="%d" data-username="%s">`,
		embed.MarkerClass, html.EscapeString(topic.ID), topic.PostNumber, html.EscapeString(topic.Username))
	b.WriteString(`<div class="title">`)

	if avatar := t.avatarURL(topic.AvatarTemplate); avatar != "" {
		fmt.Fprintf(&b, `<img class="avatar" src="%s" width="24" height="24" alt="" loading="lazy">`,
			html.EscapeString(avatar))
	}
	fmt.Fprintf(&b, `<a href="%s">%s</a>`, html.EscapeString(link), html.EscapeString(topic.Title))

	if topic.CategoryName != "" {
		fmt.Fprintf(&b, ` <span class="badge-category" data-category-id="%d">%s</span>`,
			topic.CategoryID, html.EscapeString(topic.CategoryName))
	}

	b.WriteString(`</div><blockquote>`)
	b.WriteString(httputil.SanitizeHTML(topic.Cooked))
	b.WriteString(`</blockquote></aside>`)

	return b.String()
}

// avatarURL substitutes the size token and resolves the template against
// the forum base.
func (t *TopicFetcher) avatarURL(template string) string {
	if template == "" {
		return ""
	}
	ref, err := url.Parse(strings.ReplaceAll(template, "{size}", avatarSize))
	if err != nil {
		return ""
	}
	base, err := url.Parse(t.base + "/")
	if err != nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
