// Package remote is the HTTP JSON transport the sync engine talks to.
//
// A Client shares one cookie jar across calls so that session cookies set
// by the remote (for example on login) are carried by every later load,
// post and delete. Engine-level default headers are added to every
// request; per-call headers are merged over them.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// DefaultTimeout bounds one remote call.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBodySize bounds how much of a response body is read.
const DefaultMaxBodySize int64 = 32 << 20

// ErrBodyTooLarge is returned when a response body exceeds the client's
// limit.
var ErrBodyTooLarge = errors.New("response body too large")

// maxErrorBody is how much of a failed response body StatusError keeps.
const maxErrorBody = 512

// Client performs JSON calls against the remote.
type Client struct {
	httpClient *http.Client
	headers    http.Header
	logger     *slog.Logger
	maxBody    int64
}

// Option configures a Client.
type Option func(*Client)

// WithHeader adds a default header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Add(key, value)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMaxBodySize sets the largest response body the client reads. Values
// below one keep the default.
func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithHTTPClient replaces the underlying client. Its Jar is kept if set,
// otherwise the client's shared jar is installed on it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc.Jar == nil {
			hc.Jar = c.httpClient.Jar
		}
		c.httpClient = hc
	}
}

// WithLogger sets the logger for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client with an empty cookie jar.
func New(opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout, Jar: jar},
		headers:    make(http.Header),
		logger:     slog.Default(),
		maxBody:    DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Jar returns the shared cookie jar.
func (c *Client) Jar() http.CookieJar {
	return c.httpClient.Jar
}

// Load GETs url and returns the rows. A single JSON object is normalized
// into a one-element slice; null yields no rows.
func (c *Client) Load(ctx context.Context, url string, header http.Header) ([]map[string]any, error) {
	data, err := c.do(ctx, http.MethodGet, url, nil, header)
	if err != nil {
		return nil, err
	}
	raw, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("GET %s: element %d is %T, want object", url, i, item)
			}
			rows = append(rows, m)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("GET %s: response is %T, want array or object", url, raw)
	}
}

// Post sends body as JSON and returns the canonical row from the response.
// An empty response body yields a nil map.
func (c *Client) Post(ctx context.Context, url string, body map[string]any, header http.Header) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("POST %s: encoding body: %w", url, err)
	}
	data, err := c.do(ctx, http.MethodPost, url, payload, header)
	if err != nil {
		return nil, err
	}
	raw, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", url, err)
	}
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case []any:
		if len(v) == 1 {
			if m, ok := v[0].(map[string]any); ok {
				return m, nil
			}
		}
	}
	return nil, fmt.Errorf("POST %s: response is %T, want object", url, raw)
}

// Delete issues DELETE url.
func (c *Client) Delete(ctx context.Context, url string, header http.Header) error {
	_, err := c.do(ctx, http.MethodDelete, url, nil, header)
	return err
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, header http.Header) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: creating request: %w", method, url, err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading response: %w", method, url, err)
	}
	c.logger.DebugContext(ctx, "remote call",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := data
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody]
		}
		return nil, &StatusError{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       string(excerpt),
		}
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("%s %s: %w: over %d bytes", method, url, ErrBodyTooLarge, c.maxBody)
	}
	return data, nil
}

// decode parses JSON keeping numbers as json.Number.
func decode(data []byte) (any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return v, nil
}
