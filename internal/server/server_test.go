package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"embedwrap/internal/config"
	"embedwrap/internal/preview"
	"embedwrap/internal/rehydrate"
)

const post = `<div class="wrap no-email">
<p><a href="https://cdn.example.com/clip.mp4">https://cdn.example.com/clip.mp4</a></p>
<p><a href="https://example.org/article">https://example.org/article</a></p>
<p>Inline <a href="https://example.org/inline">link</a> stays.</p>
</div>`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	forum := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<aside class="onebox collapsed"><p>Article preview</p><button class="expand">more</button></aside>`))
	}))
	t.Cleanup(forum.Close)

	r := rehydrate.New(rehydrate.Options{
		Previews: preview.NewFetcher(forum.URL, preview.Options{Logger: logger}),
		Expander: &preview.Expander{Delay: time.Millisecond, Logger: logger},
		Logger:   logger,
	})
	s := New(r, Options{
		PageURL:    "https://forum.example.com/t/launch/1",
		Settle:     time.Second,
		OnlyStream: config.Default().OnlyStream,
		Logger:     logger,
	})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestRehydrateEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/rehydrate", "text/html", strings.NewReader(post))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := resp.Header.Get("X-Rehydrated-Links"); got != "2" {
		t.Errorf("X-Rehydrated-Links = %q, want 2", got)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Find(".video-wrapper video").Length() != 1 {
		t.Error("expected a video player")
	}
	card := doc.Find("aside.onebox")
	if card.Length() != 1 {
		t.Fatal("expected a preview card")
	}
	if !card.HasClass("expanded") {
		t.Errorf("card should be expanded before the response, class = %q", card.AttrOr("class", ""))
	}
	if doc.Find(`a[href="https://example.org/inline"]`).Length() != 1 {
		t.Error("inline link should be left in place")
	}
}

func TestRehydrateEndpointRejectsBadPageURL(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/rehydrate?page_url=javascript:alert(1)", "text/html", strings.NewReader(post))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestRegistration(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/registration")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got struct {
		MarkerClass string `json:"marker_class"`
		OnlyStream  *bool  `json:"only_stream"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.MarkerClass != "rehydrated-media" {
		t.Errorf("marker_class = %q", got.MarkerClass)
	}
	// The hook applies to every post unless configured otherwise.
	if got.OnlyStream == nil || *got.OnlyStream {
		t.Errorf("only_stream = %v, want false", got.OnlyStream)
	}
}

func TestRehydrateEndpointMethod(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/rehydrate")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
