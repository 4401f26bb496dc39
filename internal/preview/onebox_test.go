package preview

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"embedwrap/internal/embed"
	"embedwrap/internal/media"
)

const oneboxBody = `<aside class="onebox allowlistedgeneric"><header class="source"><a href="https://example.com/post">example.com</a></header><article class="onebox-body"><h3>Launch notes</h3><p>All the details.</p></article></aside>`

// oneboxServer answers /onebox with the given status and body and records
// the last query it saw.
func oneboxServer(t *testing.T, status int, body string, lastQuery *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/onebox" {
			http.NotFound(w, r)
			return
		}
		if lastQuery != nil {
			lastQuery.Store(r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchSuccess(t *testing.T) {
	var query atomic.Value
	srv := oneboxServer(t, http.StatusOK, oneboxBody, &query)
	f := NewFetcher(srv.URL, Options{})

	frag, err := f.Fetch(context.Background(), "https://example.com/post")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if frag == nil {
		t.Fatal("Fetch() returned nil fragment for a non-empty body")
	}
	if frag.Kind != media.PreviewCard {
		t.Errorf("Kind = %v, want card", frag.Kind)
	}
	if got, _ := query.Load().(string); got != "refresh=false&url=https%3A%2F%2Fexample.com%2Fpost" {
		t.Errorf("query = %q", got)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(frag.HTML))
	if err != nil {
		t.Fatal(err)
	}
	card := doc.Find("aside.onebox")
	if card.Length() != 1 {
		t.Fatalf("expected the onebox aside, got %q", frag.HTML)
	}
	if !card.HasClass(embed.MarkerClass) {
		t.Errorf("card root should carry %q, got %q", embed.MarkerClass, frag.HTML)
	}
}

func TestFetchEmptyBody(t *testing.T) {
	srv := oneboxServer(t, http.StatusOK, "  \n ", nil)
	f := NewFetcher(srv.URL, Options{})

	frag, err := f.Fetch(context.Background(), "https://example.com/post")
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if frag != nil {
		t.Errorf("Fetch() = %+v, want nil for an empty body", frag)
	}
}

func TestFetchDegradedBodyMatchesSuccess(t *testing.T) {
	ok := oneboxServer(t, http.StatusOK, oneboxBody, nil)
	failed := oneboxServer(t, http.StatusInternalServerError, oneboxBody, nil)

	want, err := NewFetcher(ok.URL, Options{}).Fetch(context.Background(), "https://example.com/post")
	if err != nil {
		t.Fatalf("200 Fetch() error: %v", err)
	}
	got, err := NewFetcher(failed.URL, Options{}).Fetch(context.Background(), "https://example.com/post")
	if err != nil {
		t.Fatalf("500 Fetch() error: %v", err)
	}
	if got == nil || *got != *want {
		t.Errorf("degraded card = %+v, want %+v", got, want)
	}
}

func TestFetchFailureWithoutBody(t *testing.T) {
	srv := oneboxServer(t, http.StatusBadGateway, "", nil)
	f := NewFetcher(srv.URL, Options{})

	frag, err := f.Fetch(context.Background(), "https://example.com/post")
	if !errors.Is(err, ErrPreviewFailed) {
		t.Errorf("err = %v, want ErrPreviewFailed", err)
	}
	if frag != nil {
		t.Errorf("frag = %+v, want nil", frag)
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := oneboxServer(t, http.StatusOK, oneboxBody, nil)
	base := srv.URL
	srv.Close()

	frag, err := NewFetcher(base, Options{}).Fetch(context.Background(), "https://example.com/post")
	if !errors.Is(err, ErrPreviewFailed) {
		t.Errorf("err = %v, want ErrPreviewFailed", err)
	}
	if frag != nil {
		t.Errorf("frag = %+v, want nil", frag)
	}
}

func TestFetchSharedFlightOutlivesCancelledCaller(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		w.Write([]byte(oneboxBody))
	}))
	t.Cleanup(srv.Close)
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	f := NewFetcher(srv.URL, Options{})
	const target = "https://example.com/post"

	ctx1, cancel1 := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx1, target)
		first <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("request never reached the server")
	}

	type result struct {
		frag *media.Fragment
		err  error
	}
	second := make(chan result, 1)
	go func() {
		frag, err := f.Fetch(context.Background(), target)
		second <- result{frag, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel1()
	select {
	case err := <-first:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	unblock()
	select {
	case res := <-second:
		if res.err != nil || res.frag == nil {
			t.Errorf("second caller = %v, %v; want a card", res.frag, res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
}

func TestFetchSendsCredentials(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Api-Key") != "secret" || r.Header.Get("Api-Username") != "system" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(oneboxBody))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, Options{})
	f.creds.APIKey, f.creds.APIUsername = "secret", "system"

	frag, err := f.Fetch(context.Background(), "https://example.com/post")
	if err != nil || frag == nil {
		t.Fatalf("Fetch() = %v, %v; want a card", frag, err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want a single round trip", calls.Load())
	}
}

func TestCard(t *testing.T) {
	tests := []struct {
		name    string
		markup  string
		wantNil bool
		wrapped bool
	}{
		{"single root", `<aside class="onebox"><p>x</p></aside>`, false, false},
		{"several roots", `<p>one</p><p>two</p>`, false, true},
		{"bare text", `just text`, false, true},
		{"only script", `<script>alert(1)</script>`, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag, err := Card(tt.markup, "https://example.com")
			if err != nil {
				t.Fatalf("Card() error: %v", err)
			}
			if (frag == nil) != tt.wantNil {
				t.Fatalf("Card() = %+v, wantNil %v", frag, tt.wantNil)
			}
			if frag == nil {
				return
			}
			doc, _ := goquery.NewDocumentFromReader(strings.NewReader(frag.HTML))
			root := doc.Find("body").Children().First()
			if !root.HasClass(embed.MarkerClass) {
				t.Errorf("root %q lacks marker", frag.HTML)
			}
			if root.HasClass("onebox-wrapper") != tt.wrapped {
				t.Errorf("wrapped = %v, want %v (%q)", root.HasClass("onebox-wrapper"), tt.wrapped, frag.HTML)
			}
		})
	}
}
