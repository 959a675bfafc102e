package source

import (
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

	"golang.org/x/time/rate"

	"adminreports/internal/config"
	"adminreports/internal/infrastructure"
)

var (
	// ErrUnavailable is wrapped by every transport failure and non-2xx response
	ErrUnavailable = errors.New("source unavailable")
	// ErrUnauthenticated is wrapped when the credential is missing or rejected
	ErrUnauthenticated = errors.New("source rejected credential")
)

// StatusError is returned for non-2xx upstream responses
type StatusError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream %s returned %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s returned %d: %s", e.Path, e.StatusCode, e.Body)
}

// Unwrap classifies the status: 401/403 are credential failures, the rest unavailability
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthenticated
	}
	return ErrUnavailable
}

// maxErrorBody bounds how much of an error response is kept for logs
const maxErrorBody = 512

// Client performs authenticated JSON GET requests against the upstream API
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *infrastructure.ReportMetrics
	logger     *slog.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithMetrics records upstream request counts
func WithMetrics(m *infrastructure.ReportMetrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the logger used by the client and everything built on it
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates an upstream client from the source configuration
func NewClient(cfg config.SourceConfig, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid source base url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     infrastructure.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "source_client"))
	return c, nil
}

// GetJSON fetches path with the given query and decodes the body with UseNumber.
// endpoint labels the request in metrics.
func (c *Client) GetJSON(ctx context.Context, token, endpoint, path string, query url.Values) (interface{}, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("no credential for %s: %w", path, ErrUnauthenticated)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	target := c.resolve(path, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if traceID := infrastructure.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Request-ID", traceID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.UpstreamRequest(ctx, endpoint, 0)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("request %s: %w: %w", path, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	c.metrics.UpstreamRequest(ctx, endpoint, resp.StatusCode)
	c.logger.DebugContext(ctx, "upstream_request",
		slog.String("endpoint", endpoint),
		slog.String("url", target),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Path:       path,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var payload interface{}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode %s: %w: %w", path, ErrUnavailable, err)
	}
	return payload, nil
}

// resolve joins an escaped path onto the base url
func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	raw := strings.TrimRight(c.baseURL.EscapedPath(), "/") + "/" + strings.TrimLeft(path, "/")
	if decoded, err := url.PathUnescape(raw); err == nil {
		u.Path, u.RawPath = decoded, raw
	} else {
		u.Path, u.RawPath = raw, ""
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}
