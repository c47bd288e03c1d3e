// Package idp wraps the external identity provider's OAuth-style token
// endpoint for costbridge.
//
// It supports the three grants the system needs: user_token (trading the
// caller's bearer credential for a refresh token), refresh_token, and
// password (for the technical user). Calls use a fixed timeout; a timed-out
// exchange fails, it is never retried here.
package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/costbridge/costbridge/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultTimeout bounds every token endpoint round trip.
const DefaultTimeout = 10 * time.Second

// Opts holds configuration options for the identity provider client.
type Opts struct {
	// TokenURL is the full URL of the OAuth token endpoint.
	TokenURL string
	// ClientID and ClientSecret authenticate costbridge itself against the
	// token endpoint.
	ClientID     string
	ClientSecret string
	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Option defines a configuration option for the identity provider client.
type Option func(*Opts)

// WithTokenURL sets the OAuth token endpoint URL.
func WithTokenURL(u string) Option {
	return func(o *Opts) {
		o.TokenURL = u
	}
}

// WithClientCredentials sets the client id and secret used on every grant.
func WithClientCredentials(id, secret string) Option {
	return func(o *Opts) {
		o.ClientID = id
		o.ClientSecret = secret
	}
}

// WithTimeout overrides the token endpoint timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithHTTPClient overrides the HTTP client used for exchanges.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// Token is the parsed result of a successful grant.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Client talks to the identity provider's token endpoint.
type Client struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewClient creates an identity provider client, applying any provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token endpoint URL not set")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	slog.Debug("idp.NewClient: identity provider client created", "tokenURL_set", cfg.TokenURL != "", "timeout", timeout)
	return &Client{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
	}, nil
}

// UserTokenGrant trades the caller's bearer credential for a refresh token.
// A rejected credential maps to the session-expired kind so the routing layer
// can tell the caller to re-authenticate.
func (c *Client) UserTokenGrant(ctx context.Context, authorization string) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "user_token")
	form.Set("client_id", c.clientID)
	form.Set("response_type", "token")
	return c.exchange(ctx, form, authorization)
}

// RefreshTokenGrant trades a refresh token for an access token.
func (c *Client) RefreshTokenGrant(ctx context.Context, refreshToken string) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.exchange(ctx, form, "")
}

// PasswordGrant obtains an access token for the technical user.
func (c *Client) PasswordGrant(ctx context.Context, username, password string) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", username)
	form.Set("password", password)
	return c.exchange(ctx, form, "")
}

func (c *Client) exchange(ctx context.Context, form url.Values, authorization string) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, apperr.Wrap(apperr.KindUnexpected, "building token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	} else if c.clientID != "" {
		req.SetBasicAuth(c.clientID, c.clientSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Client.exchange: token request failed", "error", err, "grant", form.Get("grant_type"))
		return Token{}, apperr.Wrap(apperr.KindUnexpected, "token exchange request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, apperr.Wrap(apperr.KindUnexpected, "reading token response", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		slog.Warn("Client.exchange: credentials rejected", "status", resp.StatusCode, "grant", form.Get("grant_type"))
		return Token{}, apperr.New(apperr.KindSessionExpired, "identity provider rejected the credential")
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("Client.exchange: token endpoint error", "status", resp.StatusCode, "grant", form.Get("grant_type"))
		return Token{}, apperr.Newf(apperr.KindUnexpected, "token endpoint returned status %d", resp.StatusCode)
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return Token{}, apperr.Wrap(apperr.KindUnexpected, "parsing token response", err)
	}
	if tok.AccessToken == "" {
		return Token{}, apperr.New(apperr.KindUnexpected, "token response missing access_token")
	}
	slog.Debug("Client.exchange: token obtained", "grant", form.Get("grant_type"), "expiresIn", tok.ExpiresIn)
	return tok, nil
}

// ExtractUserID reads the user identity claim from a bearer token without
// verifying its signature. Verification belongs to the platform's router;
// costbridge only needs a stable cache key per application user.
func ExtractUserID(authorization string) (string, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(authorization), "Bearer"))
	if raw == "" {
		return "", apperr.New(apperr.KindSessionExpired, "missing bearer token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", apperr.Wrap(apperr.KindSessionExpired, "malformed bearer token", err)
	}
	if v, ok := claims["user_name"].(string); ok && v != "" {
		return v, nil
	}
	if v, ok := claims["sub"].(string); ok && v != "" {
		return v, nil
	}
	return "", apperr.New(apperr.KindSessionExpired, "bearer token carries no user identity")
}
