// Package chat is the judge transport: an OpenAI-compatible chat
// completions client with JSON response mode, randomized exponential
// backoff and a process-wide rate limit.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/internal/httpclient"
	"github.com/teranos/pact/logger"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 6
	DefaultMinBackoff  = time.Second
	DefaultMaxBackoff  = 60 * time.Second
	DefaultTimeout     = 120 * time.Second
)

// Config holds client settings. Zero values take the defaults above.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature *float64
	MaxTokens   *int
	Title       string // X-Title header; OpenRouter shows it on the dashboard

	Timeout           time.Duration
	MaxAttempts       int
	MinBackoff        time.Duration
	MaxBackoff        time.Duration
	RequestsPerSecond float64 // 0 disables the limiter
	BlockPrivateIP    bool

	Logger *zap.SugaredLogger
}

// Client talks to one chat completions endpoint.
type Client struct {
	baseURL    string
	config     Config
	httpClient *httpclient.Client
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client from config.
func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.MinBackoff <= 0 {
		config.MinBackoff = DefaultMinBackoff
	}
	if config.MaxBackoff < config.MinBackoff {
		config.MaxBackoff = max(DefaultMaxBackoff, config.MinBackoff)
	}
	if config.Title == "" {
		config.Title = "pact"
	}

	c := &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		config:  config,
		httpClient: httpclient.New(httpclient.Options{
			Timeout:        config.Timeout,
			BlockPrivateIP: config.BlockPrivateIP,
		}),
		logger: logger.OrNop(config.Logger).Named("judge"),
		sleep:  sleepContext,
	}
	if config.RequestsPerSecond > 0 {
		burst := max(1, int(config.RequestsPerSecond))
		c.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}
	return c
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat selects the completion encoding.
type ResponseFormat struct {
	Type string `json:"type"`
}

// JSONObject asks the model for a single JSON object.
var JSONObject = &ResponseFormat{Type: "json_object"}

// ChatCompletionRequest is the wire request.
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatCompletionResponse is the wire response.
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is one judge call. Empty fields fall back to the client config.
type Request struct {
	System      string
	User        string
	Model       string
	Temperature *float64
	MaxTokens   *int
	JSON        bool
}

// Response is the trimmed completion text.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// StatusError is a non-200 answer from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// CreateChatCompletion sends a single request without retries.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("X-Title", c.config.Title)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return &chatResp, nil
}

// Complete sends req, retrying transient failures with randomized
// exponential backoff. Failures that outlive the budget are marked
// errors.ErrTransport.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	model := c.config.Model
	if req.Model != "" {
		model = req.Model
	}
	if model == "" {
		return nil, errors.NewConfigurationError("judge model not configured")
	}
	temperature := c.config.Temperature
	if req.Temperature != nil {
		temperature = req.Temperature
	}
	maxTokens := c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = req.MaxTokens
	}

	messages := []Message{{Role: "user", Content: req.User}}
	if req.System != "" {
		messages = append([]Message{{Role: "system", Content: req.System}}, messages...)
	}
	wire := ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSON {
		wire.ResponseFormat = JSONObject
	}

	c.logger.Debugw("judge request", logger.FieldModel, model, "json", req.JSON, "prompt_length", len(req.User))

	var (
		resp *ChatCompletionResponse
		err  error
	)
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if werr := c.limiter.Wait(ctx); werr != nil {
				return nil, errors.WrapTransport(werr, "judge rate limiter")
			}
		}

		resp, err = c.CreateChatCompletion(ctx, wire)
		if err == nil {
			if attempt > 1 {
				c.logger.Infow("request succeeded after retries", "attempts", attempt, logger.FieldModel, model)
			}
			break
		}
		if ctx.Err() != nil {
			return nil, errors.WrapTransport(errors.Mark(ctx.Err(), errors.ErrTimeout), "judge request canceled")
		}

		c.logger.Warnw("judge API error",
			logger.FieldAttempt, attempt, "max_attempts", c.config.MaxAttempts,
			logger.FieldError, err, logger.FieldModel, model)

		if !isRetryableError(err) {
			return nil, errors.WrapTransport(err, "judge API error")
		}
		if attempt == c.config.MaxAttempts {
			break
		}
		delay := c.Backoff(attempt)
		c.logger.Debugw("retrying judge request", logger.FieldAttempt, attempt, "delay", delay)
		if serr := c.sleep(ctx, delay); serr != nil {
			return nil, errors.WrapTransport(errors.Mark(serr, errors.ErrTimeout), "judge request canceled")
		}
	}
	if err != nil {
		return nil, errors.WrapTransport(err, "judge API error after retries")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.WrapTransport(errors.New("no response choices"), "judge API error")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.Debugw("judge response",
		"content_length", len(content),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return &Response{Content: content, Model: resp.Model, Usage: resp.Usage}, nil
}

// Backoff returns the wait before attempt+1: uniform in
// [min, min(max, min*2^attempt)].
func (c *Client) Backoff(attempt int) time.Duration {
	upper := c.config.MaxBackoff
	if attempt < 32 {
		if exp := c.config.MinBackoff << attempt; exp > 0 && exp < upper {
			upper = exp
		}
	}
	span := upper - c.config.MinBackoff
	if span <= 0 {
		return c.config.MinBackoff
	}
	return c.config.MinBackoff + time.Duration(rand.Int64N(int64(span)+1))
}

// IsConfigured reports whether the client has an endpoint and a model.
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.config.Model != ""
}

// SetHTTPClient replaces the transport (tests use httptest servers).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.Wrap(client)
}

// isRetryableError checks if an error is worth retrying
func isRetryableError(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"unexpected eof",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
