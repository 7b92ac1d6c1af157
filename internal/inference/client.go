// Package inference is the HTTP client for the external MMM inference
// service. Bayesian sampling and budget optimization happen on the service;
// this package owns request construction, transport tuning and decoding.
package inference

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
)

// Transport timeouts. Posterior sampling is slow by nature, so the overall
// request timeout is generous and controlled separately via Config.Timeout.
const (
	dialTimeout        = 5 * time.Second
	tlsHandshake       = 5 * time.Second
	idleConnTimeout    = 90 * time.Second
	defaultHTTPTimeout = 30 * time.Minute
)

// Config configures the inference client.
type Config struct {
	// BaseURL is the service root, e.g. http://localhost:8600.
	BaseURL string
	// Timeout bounds a single request end to end.
	Timeout time.Duration
}

// Client calls the inference service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// StatusError is returned for non-2xx service responses.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference service returned %d: %s", e.Status, e.Body)
}

// NewClient creates a client. A nil logger discards output.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("inference service URL is not configured")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid inference service URL: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}

	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        10,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshake,
	}

	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Transport: transport, Timeout: timeout},
		logger:  logger,
	}, nil
}

// SamplePrior draws from the model's prior distribution.
func (c *Client) SamplePrior(ctx context.Context, req *SampleRequest) (*DrawSet, error) {
	var out DrawSet
	if err := c.post(ctx, "/v1/sample/prior", req, &out); err != nil {
		return nil, fmt.Errorf("prior sampling failed: %w", err)
	}
	out.Kind = "prior"
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("prior sampling returned malformed draws: %w", err)
	}
	return &out, nil
}

// SamplePosterior fits the model and draws from the posterior.
func (c *Client) SamplePosterior(ctx context.Context, req *SampleRequest) (*DrawSet, error) {
	var out DrawSet
	if err := c.post(ctx, "/v1/sample/posterior", req, &out); err != nil {
		return nil, fmt.Errorf("posterior sampling failed: %w", err)
	}
	out.Kind = "posterior"
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("posterior sampling returned malformed draws: %w", err)
	}
	return &out, nil
}

// Optimize runs the constrained budget optimization.
func (c *Client) Optimize(ctx context.Context, req *OptimizeRequest) (*OptimizeResult, error) {
	var out OptimizeResult
	if err := c.post(ctx, "/v1/optimize", req, &out); err != nil {
		return nil, fmt.Errorf("budget optimization failed: %w", err)
	}
	if len(out.Allocations) == 0 {
		return nil, fmt.Errorf("budget optimization returned no allocations")
	}
	return &out, nil
}

// Health checks service availability.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inference service unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Status: resp.StatusCode, Body: readBody(resp.Body)}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	c.logger.Debug("calling inference service", "path", path, "bytes", len(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: readBody(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	c.logger.Debug("inference call complete", "path", path, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(bytes.TrimSpace(b))
}
