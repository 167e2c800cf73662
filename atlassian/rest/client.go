// Package rest holds the HTTP plumbing shared by the Confluence and Jira
// clients: base URL resolution, basic authentication with an API token,
// JSON encoding and error classification.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 4 << 10
	defaultUA       = "mcp-atlassian-go"
	maxResponseBody = 32 << 20
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// ErrNotConfigured is returned by New when the base URL or credentials are
// missing.
var ErrNotConfigured = errors.New("rest: client not configured")

// Client issues authenticated JSON requests against one Atlassian site.
// It is safe for concurrent use.
type Client struct {
	base     *url.URL
	username string
	token    string
	hc       *http.Client
	ua       string
	log      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.ua = ua
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New builds a Client for baseURL (for example https://acme.atlassian.net/wiki).
func New(baseURL, username, token string, opts ...Option) (*Client, error) {
	if baseURL == "" || username == "" || token == "" {
		return nil, ErrNotConfigured
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("rest: invalid base url %q: %w", baseURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("rest: base url must use http or https, got %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c := &Client{
		base:     u,
		username: username,
		token:    token,
		hc:       &http.Client{Timeout: defaultTimeout},
		ua:       defaultUA,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the site base URL with a trailing slash.
func (c *Client) BaseURL() string { return c.base.String() }

// URL resolves a relative path against the base URL, for links returned to
// clients.
func (c *Client) URL(path string) string {
	return c.base.ResolveReference(&url.URL{Path: strings.TrimPrefix(path, "/")}).String()
}

// GetJSON performs GET path?query and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// PostJSON sends body as JSON and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	start := time.Now()
	u := c.base.ResolveReference(&url.URL{Path: strings.TrimPrefix(path, "/")})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return fmt.Errorf("rest: build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.token)
	req.Header.Set("Accept", jsonMediaType.String())
	req.Header.Set("User-Agent", c.ua)
	if body != nil {
		req.Header.Set("Content-Type", jsonMediaType.String())
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.WarnContext(ctx, "rest.request.fail", slog.String("method", method), slog.String("path", u.Path), slog.String("err", err.Error()))
		return &APIError{Method: method, Path: u.Path, Err: err}
	}
	defer resp.Body.Close()

	logAttrs := []any{
		slog.String("method", method),
		slog.String("path", u.Path),
		slog.Int("status", resp.StatusCode),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.log.WarnContext(ctx, "rest.response.error", append(logAttrs, slog.String("body", string(snippet)))...)
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       u.Path,
			RetryAfter: resp.Header.Get("Retry-After"),
			body:       string(snippet),
		}
	}
	c.log.DebugContext(ctx, "rest.response.ok", logAttrs...)

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, err := contenttype.ParseMediaType(ct)
		if err != nil || !mt.Matches(jsonMediaType) {
			return &APIError{StatusCode: resp.StatusCode, Method: method, Path: u.Path, Err: fmt.Errorf("unexpected content type %q", ct)}
		}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Method: method, Path: u.Path, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
