// Package client is the HTTP client for the swap backend: token exchange,
// quotes, transaction preparation, submission and status.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/swapper/service/metrics"
	"github.com/brojonat/swapper/service/swaperr"
	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxRetries    = 3
	DefaultRetryInterval = 250 * time.Millisecond
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status is worth another attempt: request
// timeouts, rate limiting and server errors. Other 4xx never are.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// Is lets retryable API errors match swaperr.ErrNetwork.
func (e *APIError) Is(target error) bool {
	return target == swaperr.ErrNetwork && e.Retryable()
}

// Client is the HTTP client for the swap backend.
type Client struct {
	baseURL       string
	bare          *http.Client
	authed        *http.Client
	tokens        TokenSource
	logger        *slog.Logger
	metrics       *metrics.Metrics
	maxRetries    int
	retryInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTokenSource makes authenticated calls carry a bearer token from ts.
// Without it, authenticated calls are sent without an Authorization header.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithMaxRetries sets how many times a retryable failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryInterval sets the initial backoff interval.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) { c.retryInterval = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a new swap backend client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	c := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		bare:          httpClient,
		authed:        httpClient,
		logger:        logger,
		maxRetries:    DefaultMaxRetries,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.tokens != nil {
		authed := *httpClient
		authed.Transport = &authTransport{base: httpClient.Transport, tokens: c.tokens, logger: c.logger}
		c.authed = &authed
	}

	return c
}

// doJSON performs one logical call, retrying transport failures and
// retryable statuses with exponential backoff. endpoint is the metrics label.
func (c *Client) doJSON(ctx context.Context, hc *http.Client, method, path, endpoint string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	start := time.Now()
	statusCode := 0

	operation := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := hc.Do(req)
		if err != nil {
			statusCode = 0
			if ctx.Err() != nil ||
				errors.Is(err, swaperr.ErrRefreshFailed) ||
				errors.Is(err, swaperr.ErrAttestationUnavailable) {
				return backoff.Permanent(fmt.Errorf("request failed: %w", err))
			}
			return fmt.Errorf("%w: %w", swaperr.ErrNetwork, err)
		}
		defer resp.Body.Close()
		statusCode = resp.StatusCode

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := parseErrorResponse(resp)
			if apiErr.Retryable() {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
			}
		}
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.retryInterval
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.maxRetries)), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		reason := "transport"
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			reason = fmt.Sprintf("status_%d", apiErr.StatusCode)
		}
		c.logger.WarnContext(ctx, "backend request failed, retrying",
			"endpoint", endpoint,
			"reason", reason,
			"error", err,
			"backoff", wait,
		)
		c.metrics.RecordBackendRetry(endpoint, reason)
	})

	c.metrics.RecordBackendRequest(endpoint, statusCode, time.Since(start).Seconds())
	return err
}

// parseErrorResponse reads {"error": "..."} bodies, falling back to the raw text.
func parseErrorResponse(resp *http.Response) *APIError {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
