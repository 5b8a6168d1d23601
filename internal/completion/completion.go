// Package completion implements the upstream chat-completions client.
//
// The client never retries: a failed request surfaces immediately and the
// caller (and ultimately the visitor) decides whether to try again. Retrying
// a 200-second completion call would stack timeouts on a live chat.
package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/websmartco/smartchat/internal/chat"
	"github.com/websmartco/smartchat/internal/log"
)

// Sentinel errors distinguishing failure layers.
var (
	// ErrTransport indicates the provider could not be reached (connect,
	// timeout, TLS).
	ErrTransport = errors.New("completion transport failure")

	// ErrProtocol indicates a 2xx response whose body did not carry an answer.
	ErrProtocol = errors.New("malformed completion response")
)

// UpstreamError is a non-2xx response from the provider.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("completion provider returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("completion provider returned %d", e.Status)
}

// Config holds the upstream connection parameters.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64

	// RequestTimeout bounds a completion call. Default 200s; long because
	// gpt-4-class completions at 3500 max tokens can run minutes.
	RequestTimeout time.Duration

	// ProbeTimeout bounds the connectivity probe. Default 10s.
	ProbeTimeout time.Duration
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger log.Logger
}

// New creates a Client. Implements chat.Completer.
func New(cfg Config, logger log.Logger) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 200 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(0)

	return &Client{
		http:   httpClient,
		cfg:    cfg,
		logger: logger.With("component", "completion"),
	}
}

type completionRequest struct {
	Model            string         `json:"model"`
	Messages         []chat.Message `json:"messages"`
	MaxTokens        int            `json:"max_tokens"`
	Temperature      float64        `json:"temperature"`
	TopP             float64        `json:"top_p"`
	FrequencyPenalty float64        `json:"frequency_penalty"`
	PresencePenalty  float64        `json:"presence_penalty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the assembled prompt and returns the assistant answer.
func (c *Client) Complete(ctx context.Context, messages []chat.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var (
		out     completionResponse
		outErr  apiError
		started = time.Now()
	)

	resp, err := c.http.R().
		SetContext(ctx).
		// Decode bodies as JSON even when the provider mislabels them.
		ForceContentType("application/json").
		SetBody(completionRequest{
			Model:       c.cfg.Model,
			Messages:    messages,
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
			TopP:        1,
		}).
		SetResult(&out).
		SetError(&outErr).
		Post("/v1/chat/completions")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}

	if !resp.IsSuccess() {
		uerr := &UpstreamError{Status: resp.StatusCode(), Message: outErr.Error.Message}
		c.logger.Error("completion request failed",
			"status", resp.StatusCode(), "elapsed", time.Since(started))
		return "", uerr
	}

	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: missing choices[0].message.content", ErrProtocol)
	}

	c.logger.Debug("completion request served",
		"elapsed", time.Since(started), "prompt_messages", len(messages))
	return out.Choices[0].Message.Content, nil
}

// Probe checks connectivity and credentials against the models endpoint.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		// Decode bodies as JSON even when the provider mislabels them.
		ForceContentType("application/json").
		Get("/v1/models")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if !resp.IsSuccess() {
		return &UpstreamError{Status: resp.StatusCode()}
	}
	return nil
}
