// Package whatsapp provides a client for the external capability-check API
// that reports whether phone numbers are reachable on WhatsApp.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/dealer-sync/internal/resilience"
)

// maxResponseBytes bounds a check response body.
const maxResponseBytes = 4 << 20

// Client checks numbers against the messaging platform.
type Client interface {
	// Check posts one batch of numbers and returns a Verdict per number in
	// request order. Numbers without a recognizable verdict come back as
	// OutcomeUnrecognized.
	Check(ctx context.Context, numbers []string) ([]Verdict, error)
}

// checkRequest is the body of POST /check.
type checkRequest struct {
	Numbers []string `json:"numbers"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets the API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithInstance scopes checks to a named sender instance: POST /check/{instance}.
func WithInstance(name string) Option {
	return func(c *httpClient) {
		c.instance = name
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

type httpClient struct {
	apiKey   string
	baseURL  string
	instance string
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a capability-check client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "http://localhost:8080",
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) endpoint() string {
	if c.instance == "" {
		return c.baseURL + "/check"
	}
	return c.baseURL + "/check/" + url.PathEscape(c.instance)
}

// Check implements Client. Responses of 408, 429 and 5xx, and network
// failures, are returned as resilience.TransientError.
func (c *httpClient) Check(ctx context.Context, numbers []string) ([]Verdict, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "whatsapp: rate limit wait")
	}

	payload, err := json.Marshal(checkRequest{Numbers: numbers})
	if err != nil {
		return nil, eris.Wrap(err, "whatsapp: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "whatsapp: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "whatsapp: check request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "whatsapp: read response"), 0)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := eris.Errorf("whatsapp: unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	return DecodeVerdicts(body, numbers), nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
