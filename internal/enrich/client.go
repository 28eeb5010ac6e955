package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"caravan/internal/config"
)

const (
	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryMaxDelay  = 30 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 5
)

// Client wraps the media enrichment API.
type Client struct {
	cfg        config.Enrichment
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count (defaults to 5).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs an enrichment client using the supplied configuration.
func NewClient(cfg config.Enrichment, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:              cfg,
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	if cfg.RetryMaxAttempts > 0 {
		client.retryMaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryBaseDelayMS > 0 {
		client.retryBaseDelay = time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://api.kiuli.com/enrich/v1/media"
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}
	return client
}

// Request describes one media unit submitted for enrichment.
type Request struct {
	SourceURL   string `json:"sourceUrl"`
	MediaKind   string `json:"mediaKind"`
	SubjectName string `json:"subjectName,omitempty"`
	Region      string `json:"region,omitempty"`
	Season      string `json:"season,omitempty"`
}

// Result is the enrichment payload for one media unit.
type Result struct {
	AltText    string   `json:"altText"`
	Caption    string   `json:"caption"`
	Labels     []string `json:"labels"`
	Confidence float64  `json:"confidence"`
}

type enrichmentRequest struct {
	Model string  `json:"model"`
	Media Request `json:"media"`
}

type enrichmentResponse struct {
	Result *Result `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("enrich request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// ExhaustedError reports that every retry attempt failed. Last holds the
// final attempt's error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("enrich: failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Enrich submits a media unit and returns its labels and captions. Transient
// failures are retried up to the configured attempt budget; retry state is
// local to the call.
func (c *Client) Enrich(ctx context.Context, request Request) (Result, error) {
	var empty Result
	if strings.TrimSpace(request.SourceURL) == "" {
		return empty, errors.New("enrich: source url required")
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return empty, errors.New("enrich: api key required")
	}

	attempts := c.retryAttempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := c.sendOnce(ctx, request)
		if err == nil {
			return result, nil
		}
		lastErr = err

		delay, retry := c.retryDelay(ctx, err, attempt)
		if !retry {
			return empty, err
		}
		if attempt == attempts {
			break
		}
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return empty, sleepErr
		}
	}

	return empty, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

// HealthCheck verifies the API key and endpoint are usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return errors.New("enrich health: api key required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL, nil)
	if err != nil {
		return fmt.Errorf("enrich health: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("enrich health: http error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return &httpStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (c *Client) sendOnce(ctx context.Context, request Request) (Result, error) {
	var empty Result
	payload := enrichmentRequest{Model: c.cfg.Model, Media: request}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return empty, fmt.Errorf("enrich request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return empty, fmt.Errorf("enrich request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, fmt.Errorf("enrich request: http error (timeout=%s): %w", c.timeoutDuration(), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty, fmt.Errorf("enrich request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return empty, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}

	var decoded enrichmentResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return empty, &malformedResponseError{cause: err}
	}
	if decoded.Error != nil {
		return empty, &malformedResponseError{cause: fmt.Errorf("api error: %s", strings.TrimSpace(decoded.Error.Message))}
	}
	if decoded.Result == nil {
		return empty, &malformedResponseError{cause: errors.New("missing result")}
	}
	return *decoded.Result, nil
}

// malformedResponseError marks a 2xx response we could not use. These are
// terminal: the upstream answered, so retrying the same payload cannot help.
type malformedResponseError struct {
	cause error
}

func (e *malformedResponseError) Error() string {
	return fmt.Sprintf("enrich request: decode response: %v", e.cause)
}

func (e *malformedResponseError) Unwrap() error {
	return e.cause
}

func (c *Client) timeoutDuration() time.Duration {
	if c == nil || c.httpClient == nil || c.httpClient.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.httpClient.Timeout
}

func (c *Client) retryAttempts() int {
	if c == nil || c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

// retryDelay decides whether a failed attempt should be retried and with what
// delay. Rate-limit responses wait at least as long as the server asked;
// other upstream errors double each attempt; network failures grow linearly.
func (c *Client) retryDelay(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if err == nil || ctx == nil || ctx.Err() != nil {
		return 0, false
	}

	var malformed *malformedResponseError
	if errors.As(err, &malformed) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			delay := c.backoffDelay(attempt)
			if statusErr.RetryAfter > delay {
				delay = statusErr.RetryAfter
			}
			return delay, true
		}
		return c.backoffDelay(attempt), true
	}

	// Anything else at this point is a transport failure (connection refused,
	// DNS, per-attempt client timeout). The ctx guard above already handled
	// caller cancellation, so these all get the linear path.
	return c.linearDelay(attempt), true
}

// backoffDelay returns base*2^(attempt-1) capped at the max delay.
func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.retryBaseDelay
	if base <= 0 {
		return 0
	}
	maxDelay := c.maxDelay()

	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

// linearDelay returns base*attempt capped at the max delay.
func (c *Client) linearDelay(attempt int) time.Duration {
	base := c.retryBaseDelay
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	return c.capDelay(base * time.Duration(attempt))
}

func (c *Client) maxDelay() time.Duration {
	if c != nil && c.retryMaxDelay > 0 {
		return c.retryMaxDelay
	}
	return defaultRetryMaxDelay
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if maxDelay := c.maxDelay(); delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
