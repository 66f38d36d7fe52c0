// Package client provides the transactional email provider HTTP client with
// classified retries and request metrics.
package client

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for provider operations.
var (
	providerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_provider_requests_total",
		Help: "Total email provider requests by status",
	}, []string{"status"})

	providerRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outreach_provider_request_duration_seconds",
		Help:    "Email provider request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	providerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_provider_errors_total",
		Help: "Total email provider errors by class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_provider_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outreach_provider_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_provider_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// ErrorClass represents a classification of provider errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (except 429).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// DefaultBaseURL is the provider API root.
const DefaultBaseURL = "https://api.resend.com"

// Email is a send request.
type Email struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
	Tags    []Tag    `json:"tags,omitempty"`

	// IdempotencyKey is sent as a header; the provider returns the original
	// message for a repeated key instead of sending twice.
	IdempotencyKey string `json:"-"`
}

// Tag is a provider-side message label.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SendResponse is the provider's acknowledgement.
type SendResponse struct {
	ID string `json:"id"`
}

// Client is the email provider client.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the provider API
	BaseURL string

	// APIKey for Bearer authentication (REQUIRED)
	APIKey string

	// User-Agent header
	UserAgent string

	// Timeout per HTTP attempt
	Timeout time.Duration

	// Retry applies one policy to every retriable class when MaxAttempts > 1.
	// The zero value sends once; a failed send is left for a retry run.
	Retry RetryConfig

	// RetryPerClass enables the built-in per-class policies when Retry is unset.
	RetryPerClass bool
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		APIKey:    apiKey,
		UserAgent: "outreach-dispatcher/0.1.0",
		Timeout:   30 * time.Second,
	}
}

// New creates a new provider client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = "outreach-dispatcher/0.1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "provider-client").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SendEmail posts one message. By default it makes a single attempt; with a
// retry policy configured, retriable failures are retried with backoff and
// the Idempotency-Key makes a retry after an unacknowledged success harmless.
func (c *Client) SendEmail(ctx context.Context, email Email) (*SendResponse, error) {
	if len(email.To) == 0 {
		return nil, fmt.Errorf("email has no recipient")
	}

	payload, err := json.Marshal(email)
	if err != nil {
		return nil, fmt.Errorf("marshal email: %w", err)
	}

	var out *SendResponse
	err = retryWithBackoff(ctx, c.retryPolicy, func() error {
		resp, err := c.do(ctx, payload, email.IdempotencyKey)
		if err != nil {
			return err
		}
		out = resp
		return nil
	}, classify)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) retryPolicy(class ErrorClass) RetryConfig {
	switch {
	case c.config.Retry.MaxAttempts > 1:
		return c.config.Retry
	case c.config.RetryPerClass:
		return RetryConfigForErrorClass(class)
	default:
		return RetryConfig{MaxAttempts: 1}
	}
}

// do performs a single attempt.
func (c *Client) do(ctx context.Context, payload []byte, idempotencyKey string) (*SendResponse, error) {
	startTime := time.Now()
	defer func() {
		providerRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		providerErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		providerRequestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Warn().Err(err).Msg("Provider request failed")
		return nil, &ProviderError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		providerErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &ProviderError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
	}

	providerRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		perr := c.classifyResponse(resp, body)
		providerErrorsTotal.WithLabelValues(string(perr.ErrorClass)).Inc()
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(perr.ErrorClass)).
			Str("message", perr.Message).
			Msg("Provider rejected request")
		return nil, perr
	}

	var out SendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		// Accepted but unparseable; the send happened, report without an ID.
		c.logger.Warn().Err(err).Int("status", resp.StatusCode).Msg("Unparseable provider response")
		return &SendResponse{}, nil
	}

	c.logger.Debug().Str("message_id", out.ID).Msg("Provider accepted message")
	return &out, nil
}

// classifyResponse builds the typed error for a non-2xx response.
func (c *Client) classifyResponse(resp *http.Response, body []byte) *ProviderError {
	perr := &ProviderError{
		StatusCode: resp.StatusCode,
		ErrorClass: classifyStatus(resp.StatusCode),
		Message:    resp.Status,
	}

	var apiErr struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		perr.Name = apiErr.Name
		perr.Message = apiErr.Message
	}

	if perr.ErrorClass == ErrorClassRateLimit {
		perr.RetryAfter = parseRetryAfter(resp.Header)
	}
	return perr
}

// classifyStatus categorizes an HTTP status for observability and retry handling.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// classify extracts the class from an attempt error.
func classify(err error) ErrorClass {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.ErrorClass
	}
	return ErrorClassNetwork
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date.
func parseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
