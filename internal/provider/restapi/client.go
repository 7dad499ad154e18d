// Package restapi is the JSON-over-HTTP client shared by the REST based
// provider adapters.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yairfalse/instantiate/internal/provider"
)

// DefaultTimeout bounds a single vendor request.
const DefaultTimeout = 30 * time.Second

// Signer authenticates an outgoing request. body is the exact payload
// that will be sent, for signature schemes that hash it.
type Signer func(req *http.Request, body []byte) error

// Client performs authenticated JSON requests against one vendor API.
type Client struct {
	vendor     provider.Kind
	baseURL    string
	httpClient *http.Client
	signer     Signer
	headers    http.Header
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithBearer authenticates with a static bearer token.
func WithBearer(token string) Option {
	return WithSigner(func(req *http.Request, _ []byte) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	})
}

// WithSigner authenticates every request with fn.
func WithSigner(fn Signer) Option {
	return func(c *Client) {
		c.signer = fn
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// New creates a client for the given vendor rooted at baseURL.
func New(vendor provider.Kind, baseURL string, opts ...Option) *Client {
	c := &Client{
		vendor:     vendor,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the root the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Get performs a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post sends in as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, in, out)
}

// Put sends in as JSON and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, in, out)
}

// Delete performs a DELETE, ignoring any response body.
func (c *Client) Delete(ctx context.Context, path string, query url.Values) error {
	return c.Do(ctx, http.MethodDelete, path, query, nil, nil)
}

// Do performs a request with an optional JSON body and decodes a JSON
// response into out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = b
	}
	return c.DoRaw(ctx, method, path, query, "application/json", body, out)
}

// DoRaw performs a request with a raw body of the given content type.
func (c *Client) DoRaw(ctx context.Context, method, path string, query url.Values, contentType string, body []byte, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.signer != nil {
		if err := c.signer(req, body); err != nil {
			return provider.Wrap(provider.AuthenticationFailed, c.vendor, method+" "+path, fmt.Errorf("%s: sign request: %w", c.vendor, err))
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.Wrap(provider.VendorError, c.vendor, method+" "+path, fmt.Errorf("%s: %s %s: %w", c.vendor, method, path, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: truncate(string(respBody), 200)}
		kind := provider.VendorError
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = provider.AuthenticationFailed
		}
		return provider.Wrap(kind, c.vendor, method+" "+path, fmt.Errorf("%s: %w", c.vendor, se))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: decode %s response: %w", c.vendor, path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
