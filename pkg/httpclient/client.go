// Package httpclient is the JSON client used for upstream payment gateways. Every attempt is
// traced, carries the caller's correlation id and trace context, and can be routed through
// a circuit breaker and a retry policy.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/middleware"
	"github.com/richxcame/escrow-settlement/pkg/resilience"
	"github.com/richxcame/escrow-settlement/pkg/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// maxResponseBody caps what is read from an upstream; gateway replies are a few hundred bytes
const maxResponseBody = 1 << 20

// HTTPError is a non-2xx upstream reply
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client sends JSON requests to one base URL
type Client struct {
	hc      *http.Client
	baseURL string
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	tracer  string
}

// Option configures a Client
type Option func(*Client)

// WithRetry retries failed attempts under config. Without a checker, IsRetryable decides.
func WithRetry(config resilience.RetryConfig) Option {
	if config.RetryableChecker == nil {
		config.RetryableChecker = IsRetryable
	}
	return func(c *Client) { c.retry = &config }
}

// WithBreaker routes every attempt through breaker
func WithBreaker(breaker *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = breaker }
}

// WithTracer names the tracer for spans and the retry metrics operation
func WithTracer(name string) Option {
	return func(c *Client) { c.tracer = name }
}

// NewClient creates a client for baseURL with a per-attempt timeout
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		hc:      &http.Client{Timeout: timeout},
		baseURL: baseURL,
		tracer:  "httpclient",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get sends a GET and returns the response body
func (c *Client) Get(ctx context.Context, path string, headers map[string]string) ([]byte, error) {
	return c.send(ctx, http.MethodGet, path, nil, headers)
}

// Post sends body as JSON and returns the response body
func (c *Client) Post(ctx context.Context, path string, body interface{}, headers map[string]string) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}
	return c.send(ctx, http.MethodPost, path, payload, headers)
}

// PostJSON posts body and decodes the reply into out when out is non-nil
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}, headers map[string]string, out interface{}) error {
	raw, err := c.Post(ctx, path, body, headers)
	if err != nil || out == nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, headers map[string]string) ([]byte, error) {
	attempt := func(ctx context.Context) (interface{}, error) {
		if c.breaker == nil {
			return c.roundTrip(ctx, method, path, payload, headers)
		}
		return c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			return c.roundTrip(ctx, method, path, payload, headers)
		})
	}

	var (
		out interface{}
		err error
	)
	if c.retry != nil {
		out, err = resilience.RetryWithName(ctx, *c.retry, attempt, c.tracer+".http")
	} else {
		out, err = attempt(ctx)
	}
	if err != nil {
		return nil, err
	}
	body, _ := out.([]byte)
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, headers map[string]string) ([]byte, error) {
	url := c.baseURL + path
	var body []byte

	_, err := tracing.TraceHTTPClient(ctx, c.tracer, method, url, func(ctx context.Context) (int, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return 0, fmt.Errorf("build request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if id := logger.CorrelationIDFromContext(ctx); id != "" {
			req.Header.Set(middleware.CorrelationIDHeader, id)
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return 0, fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return resp.StatusCode, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return resp.StatusCode, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// IsRetryable reports whether err is worth another attempt: transport failures and
// retryable statuses, never an open breaker or a cancelled caller
func IsRetryable(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, context.Canceled):
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return resilience.IsRetryableHTTPStatus(httpErr.StatusCode)
	}
	return true
}

// IsClientError reports whether the upstream rejected the request itself (4xx other than 408/429)
func IsClientError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) &&
		httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 &&
		!resilience.IsRetryableHTTPStatus(httpErr.StatusCode)
}
