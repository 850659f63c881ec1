// Package fal is the HTTP client for the fal.ai synchronous model endpoints.
package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Static errors for fal client operations.
var (
	// ErrAPIKeyRequired is returned when no API key is configured.
	ErrAPIKeyRequired = errors.New("fal: API key is required")
	// ErrModelRequired is returned when the model ID is empty.
	ErrModelRequired = errors.New("fal: model is required")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("fal: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("fal: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("fal: request failed")
)

const modelPrefix = "fal-ai/"

// Client runs a model and returns the media it produced.
type Client interface {
	Run(ctx context.Context, model string, params map[string]any) (Result, error)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	// retryServerErrors also retries 5xx answers and dropped connections.
	// Each model run is billed, so these are off by default.
	retryServerErrors bool
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the fal API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimRight(url, "/")
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// WithRetryServerErrors makes 5xx responses and connections lost after
// the request was sent retryable. Only rate limits and refused
// connections are retried otherwise.
func WithRetryServerErrors(enabled bool) ClientOption {
	return func(hc *HTTPClient) {
		hc.retryServerErrors = enabled
	}
}

// NewClient creates a new fal HTTP client.
// Request deadlines come from the caller's context; the default HTTP
// client has no timeout of its own.
func NewClient(apiKey string, opts ...ClientOption) (*HTTPClient, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	c := &HTTPClient{
		apiKey:      apiKey,
		baseURL:     "https://fal.run",
		httpClient:  &http.Client{},
		maxRetries:  2,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Endpoint returns the URL that runs model. Bare model names are
// placed under the fal-ai namespace.
func (c *HTTPClient) Endpoint(model string) string {
	if !strings.HasPrefix(model, modelPrefix) {
		model = modelPrefix + model
	}
	return c.baseURL + "/" + model
}

// Run posts params to the model endpoint and decodes the media URL from
// the response.
func (c *HTTPClient) Run(ctx context.Context, model string, params map[string]any) (Result, error) {
	if model == "" {
		return Result{}, ErrModelRequired
	}

	bodyBytes, err := json.Marshal(params)
	if err != nil {
		return Result{}, fmt.Errorf("fal: marshal request: %w", err)
	}

	respBody, err := c.doRequestWithRetry(ctx, http.MethodPost, c.Endpoint(model), bodyBytes)
	if err != nil {
		return Result{}, err
	}

	return DecodeMediaURL(respBody)
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fal: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}

		respBody, err := c.doRequest(ctx, method, url, body)
		if err == nil {
			return respBody, nil
		}

		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
	}

	return nil, fmt.Errorf("fal: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request and returns the response body.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("fal: create request: %w", err)
	}

	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRequestFailed, err)
		// A refused dial never reached the provider, so it was not billed.
		if isDialError(err) || c.retryServerErrors {
			return nil, &retryableError{err: err}
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.serverError(fmt.Errorf("fal: read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return nil, c.serverError(fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, truncate(respBody)))
		}
		// 429 (rate limit) is retryable
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, truncate(respBody))}
		}
		return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, truncate(respBody))
	}

	return respBody, nil
}

// serverError marks err retryable when server errors are retried.
func (c *HTTPClient) serverError(err error) error {
	if c.retryServerErrors {
		return &retryableError{err: err}
	}
	return err
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
