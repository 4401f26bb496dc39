// Package httputil provides a hardened HTTP client for the forum endpoints
// and input sanitisation utilities for remote markup.
package httputil

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

const userAgent = "embedwrap/1.0 (+link-rehydration)"

// MaxBodySize caps how much of a remote response body is read.
const MaxBodySize = 5 * 1024 * 1024

// Credentials are optional forum API credentials sent with every request.
type Credentials struct {
	APIKey      string
	APIUsername string
}

// NewClient creates a hardened HTTP client with secure defaults.
// A zero timeout leaves the transport's own limits in charge.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTransport(),
	}
}

// NewTransport returns the transport shared by all clients in this module.
func NewTransport() *http.Transport {
	return &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		DisableCompression:  false,
		MaxIdleConnsPerHost: 5,
	}
}

// SetHeaders applies the standard request headers.
func SetHeaders(req *http.Request, accept string, creds Credentials) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)
	if creds.APIKey != "" {
		req.Header.Set("Api-Key", creds.APIKey)
		if creds.APIUsername != "" {
			req.Header.Set("Api-Username", creds.APIUsername)
		}
	}
}

// GetHTML performs a GET request asking for an HTML fragment.
// Any status is returned to the caller; non-2xx bodies may still be usable.
func GetHTML(ctx context.Context, client *http.Client, url string, creds Credentials) (*http.Response, error) {
	if err := ValidateURL(url); err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	SetHeaders(req, "text/html, */*;q=0.1", creds)

	return client.Do(req)
}

// ReadBody reads at most MaxBodySize bytes of the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}
