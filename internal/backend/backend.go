// Package backend wraps the remote costing platform's REST surface.
//
// costbridge treats the backend as an opaque RPC target: only the status code
// and parsed JSON body of a call matter here. Every call is authenticated
// with a caller-supplied bearer token and bounded by a fixed timeout; a
// timed-out call's remote side effects are not rolled back.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/costbridge/costbridge/internal/apperr"
)

// DefaultTimeout bounds every backend round trip.
const DefaultTimeout = 10 * time.Second

// Opts holds configuration options for the backend client.
type Opts struct {
	// BaseURL is the root of the costing platform's REST API.
	BaseURL string
	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Option defines a configuration option for the backend client.
type Option func(*Opts)

// WithBaseURL sets the costing platform API root.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithTimeout overrides the backend call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithHTTPClient overrides the HTTP client used for backend calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// Client is a bearer-authenticated JSON client for the costing platform.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client, applying any provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL not set")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	slog.Debug("backend.NewClient: backend client created", "baseURL", cfg.BaseURL, "timeout", timeout)
	return &Client{baseURL: strings.TrimRight(cfg.BaseURL, "/"), httpClient: httpClient}, nil
}

// Do performs one bearer-authenticated call against the backend and returns
// its status code and raw JSON body. Transport failures, including timeouts,
// wrap as unexpected; non-2xx responses are returned to the caller as data,
// not errors, because the audit layer derives the job status from them.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, token string) (int, json.RawMessage, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return 0, nil, apperr.Wrap(apperr.KindUnexpected, "building backend request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Client.Do: backend call failed", "error", err, "method", method, "path", path)
		return 0, nil, apperr.Wrap(apperr.KindUnexpected, "backend call failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, apperr.Wrap(apperr.KindUnexpected, "reading backend response", err)
	}
	slog.Debug("Client.Do: backend call completed", "method", method, "path", path, "status", resp.StatusCode)
	return resp.StatusCode, json.RawMessage(raw), nil
}
