// Package server exposes the rewriter as a render hook over HTTP: the host
// posts a rendered post body and gets the rehydrated markup back.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"embedwrap/internal/embed"
	"embedwrap/internal/httputil"
	"embedwrap/internal/rehydrate"
)

// Options configures a Server.
type Options struct {
	PageURL    string        // Used when a request carries no page_url
	Settle     time.Duration // Longest wait for auto-expand before responding
	OnlyStream bool          // Reported on /registration
	Logger     *slog.Logger
}

// Server is the render-hook HTTP server.
type Server struct {
	r      *rehydrate.Rehydrator
	opts   Options
	logger *slog.Logger
	router chi.Router
}

// New creates a Server around r.
func New(r *rehydrate.Rehydrator, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{r: r, opts: opts, logger: logger}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.logRequests)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	router.Get("/registration", s.handleRegistration)
	router.Post("/rehydrate", s.handleRehydrate)

	s.router = router
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("render hook listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleRegistration(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"marker_class": embed.MarkerClass,
		"only_stream":  s.opts.OnlyStream,
		"error_event":  embed.ErrorEvent,
	})
}

func (s *Server) handleRehydrate(w http.ResponseWriter, req *http.Request) {
	body := http.MaxBytesReader(w, req.Body, httputil.MaxBodySize)
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "post body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "reading post body", http.StatusBadRequest)
		return
	}

	pageURL := req.URL.Query().Get("page_url")
	if pageURL == "" {
		pageURL = s.opts.PageURL
	}
	if pageURL != "" {
		if err := httputil.ValidateURL(pageURL); err != nil {
			http.Error(w, fmt.Sprintf("page_url: %v", err), http.StatusBadRequest)
			return
		}
	}

	post := doc.Find("body")
	pass := s.r.Rehydrate(req.Context(), post, pageURL)

	settleCtx, cancel := context.WithTimeout(req.Context(), s.opts.Settle)
	defer cancel()
	if err := pass.Wait(settleCtx); err != nil {
		s.logger.Debug("responding before auto-expand settled", "error", err)
	}

	var out string
	pass.Do(func() {
		out, err = post.Html()
	})
	if err != nil {
		http.Error(w, "rendering post", http.StatusInternalServerError)
		return
	}

	st := pass.Stats()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Rehydrated-Links", fmt.Sprint(st.Replaced))
	w.Write([]byte(out))
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}
