// Package groq implements llm.Client using Groq's OpenAI-compatible
// Chat Completions API, with a start-to-start rate gate and bounded retries.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1/chat/completions"
	DefaultModel       = "llama-3.3-70b-versatile"
	DefaultTemperature = 0.7
	DefaultMinInterval = 500 * time.Millisecond
	DefaultTimeout     = 60 * time.Second
	DefaultMaxAttempts = 3
)

// ErrInvalidResponse is returned when a successful response carries no choices.
var ErrInvalidResponse = errors.New("invalid API response")

// StatusError is a non-2xx reply from the completion endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// Client implements llm.Client using the Groq Chat Completions API.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	timeout     time.Duration
	maxAttempts int

	client    *http.Client
	gate      *Gate
	retryable func(error) bool
	backoff   func(attempt int) time.Duration
	sleep     sleepFunc
	logger    *log.Logger

	// Settings for the private gate; unused when WithGate supplies one.
	minInterval time.Duration
	now         func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the model identifier.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTemperature sets the sampling temperature, clamped to [0, 1].
func WithTemperature(t float64) Option {
	return func(c *Client) {
		switch {
		case t < 0:
			t = 0
		case t > 1:
			t = 1
		}
		c.temperature = t
	}
}

// WithMinInterval overrides the minimum start-to-start spacing between
// requests. It has no effect when WithGate is also given.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) { c.minInterval = d }
}

// WithGate makes the client share g with other clients so that their
// combined request starts respect one interval. The gate keeps its own
// interval and clock regardless of option order.
func WithGate(g *Gate) Option {
	return func(c *Client) {
		if g != nil {
			c.gate = g
		}
	}
}

// WithBaseURL points the client at a different completions endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout sets the overall timeout applied to each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxAttempts sets the total number of attempts (initial call included).
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryPolicy decides whether a failed attempt is retried.
// The default retries every error.
func WithRetryPolicy(fn func(error) bool) Option {
	return func(c *Client) {
		if fn != nil {
			c.retryable = fn
		}
	}
}

// WithLogger sets the logger used for attempt and backoff diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces the time source and the sleep used by the retry backoff
// and by the client's private rate gate. A shared gate is not affected.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New creates a client for the Groq API.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		model:       DefaultModel,
		baseURL:     DefaultBaseURL,
		temperature: DefaultTemperature,
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		client:      &http.Client{Timeout: DefaultTimeout},
		minInterval: DefaultMinInterval,
		now:         time.Now,
		retryable:   RetryAll,
		backoff:     LinearBackoff,
		sleep:       sleepContext,
		logger:      log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.gate == nil {
		c.gate = &Gate{interval: c.minInterval, now: c.now, sleep: c.sleep}
	}
	return c
}

// Model returns the model identifier sent with every request.
func (c *Client) Model() string { return c.model }

// Temperature returns the sampling temperature sent with every request.
func (c *Client) Temperature() float64 { return c.temperature }

// LinearBackoff waits 2s after the first failure, 4s after the second, and so on.
func LinearBackoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * 2 * time.Second
}

// RetryAll retries every failure regardless of cause.
func RetryAll(error) bool { return true }

// RetryTransient retries network errors, malformed replies, timeouts, 429 and
// 5xx statuses, and fails fast on every other non-2xx status (401, 400, ...).
func RetryTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests ||
			se.StatusCode == http.StatusRequestTimeout ||
			se.StatusCode >= 500
	}
	return true
}

// Complete sends system and user messages and returns the first choice's
// content. Every attempt passes through the rate gate first.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.gate.Wait(ctx); err != nil {
			return "", fmt.Errorf("waiting for rate gate: %w", err)
		}

		c.logger.Debug("dispatching completion", "model", c.model, "attempt", attempt+1, "max_tokens", maxTokens)
		text, err := c.complete(ctx, system, user, maxTokens)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", fmt.Errorf("completion canceled: %w", err)
		}
		if !c.retryable(err) {
			return "", fmt.Errorf("groq: %w", err)
		}
		if attempt == c.maxAttempts-1 {
			break
		}

		delay := c.backoff(attempt)
		c.logger.Warn("completion attempt failed, retrying", "attempt", attempt+1, "delay", delay, "err", err)
		if err := c.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("backing off after %v: %w", lastErr, err)
		}
	}
	return "", fmt.Errorf("API failed after %d tries: %w", c.maxAttempts, lastErr)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var result chatResponse
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
		MaxTokens:   maxTokens,
	}
	err := doJSONRoundTrip(ctx, c.client, http.MethodPost, c.baseURL,
		map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + c.apiKey,
		},
		reqBody, &result)
	if err != nil {
		return "", err
	}

	if len(result.Choices) == 0 {
		return "", ErrInvalidResponse
	}
	return result.Choices[0].Message.Content, nil
}

func doJSONRoundTrip(
	ctx context.Context,
	client *http.Client,
	method, url string,
	headers map[string]string,
	reqBody any,
	respBody any,
) error {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
