package widget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/websmartco/smartchat/internal/chat"
	"github.com/websmartco/smartchat/internal/log"
)

// HandoffResult is the backend's answer to a live-agent request.
type HandoffResult struct {
	Available     bool   `json:"available"`
	WhatsAppURL   string `json:"whatsapp_url,omitempty"`
	Message       string `json:"message"`
	NextAvailable string `json:"next_available,omitempty"`
}

// AgentMessage is one agent reply fetched while a handoff is active.
type AgentMessage struct {
	Sender  string    `json:"from"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"timestamp"`
}

// Backend is the server-side API the widget talks to.
type Backend interface {
	SendMessage(ctx context.Context, sessionID, userMessage, userName string, history []chat.Message) (string, error)
	SubmitContact(ctx context.Context, sessionID string, contact ContactInfo, history []chat.Message) error
	RequestHandoff(ctx context.Context, sessionID, userName, userPhone string, history []chat.Message) (HandoffResult, error)
	PollMessages(ctx context.Context, sessionID string) ([]AgentMessage, error)
	TrackEvent(ctx context.Context, sessionID, eventType string, data map[string]any) error
}

// chatTokenHeader matches the header the API's token middleware checks.
const chatTokenHeader = "X-Chat-Token"

// tokenRefreshMargin renews the anti-forgery token this long before the
// server-reported expiry.
const tokenRefreshMargin = 5 * time.Minute

// HTTPBackend talks to the chat API over HTTP.
type HTTPBackend struct {
	http   *resty.Client
	logger log.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewHTTPBackend creates a backend client for the API at baseURL.
func NewHTTPBackend(baseURL string, logger log.Logger) *HTTPBackend {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(210*time.Second). // must outlast the completion timeout
		SetHeader("Content-Type", "application/json").
		SetRetryCount(0)

	return &HTTPBackend{
		http:   client,
		logger: logger.With("component", "widget_backend"),
	}
}

type apiError struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type tokenResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// chatToken returns a valid anti-forgery token, fetching a fresh one from
// GET /api/v1/token when the cached token is missing or near expiry.
func (b *HTTPBackend) chatToken(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.token != "" && time.Now().Before(b.tokenExpiry.Add(-tokenRefreshMargin)) {
		return b.token, nil
	}

	var res tokenResponse
	resp, err := b.http.R().
		SetContext(ctx).
		SetResult(&res).
		Get("/api/v1/token")
	if err != nil {
		return "", fmt.Errorf("fetching chat token: %w", err)
	}
	if !resp.IsSuccess() || res.Token == "" {
		return "", fmt.Errorf("fetching chat token: status %d", resp.StatusCode())
	}

	b.token = res.Token
	b.tokenExpiry = time.Now().Add(time.Duration(res.ExpiresIn) * time.Second)
	return b.token, nil
}

// post sends a token-authenticated POST, decoding the success payload into
// result when non-nil.
func (b *HTTPBackend) post(ctx context.Context, path string, body, result any) error {
	token, err := b.chatToken(ctx)
	if err != nil {
		return err
	}

	var apiErr apiError
	req := b.http.R().
		SetContext(ctx).
		SetHeader(chatTokenHeader, token).
		SetBody(body).
		SetError(&apiErr)
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	if !resp.IsSuccess() {
		if apiErr.Error.Message != "" {
			return fmt.Errorf("calling %s: %s (%s)", path, apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("calling %s: status %d", path, resp.StatusCode())
	}
	return nil
}

func (b *HTTPBackend) SendMessage(ctx context.Context, sessionID, userMessage, userName string, history []chat.Message) (string, error) {
	var res struct {
		Success  bool   `json:"success"`
		Response string `json:"response"`
	}
	err := b.post(ctx, "/api/v1/chat/message", map[string]any{
		"session_id":           sessionID,
		"user_message":         userMessage,
		"user_name":            userName,
		"conversation_history": history,
	}, &res)
	if err != nil {
		return "", err
	}
	return res.Response, nil
}

func (b *HTTPBackend) SubmitContact(ctx context.Context, sessionID string, contact ContactInfo, history []chat.Message) error {
	return b.post(ctx, "/api/v1/chat/contact", map[string]any{
		"session_id":           sessionID,
		"name":                 contact.FullName,
		"email":                contact.Email,
		"phone":                contact.Phone,
		"website":              contact.Website,
		"conversation_history": history,
	}, nil)
}

func (b *HTTPBackend) RequestHandoff(ctx context.Context, sessionID, userName, userPhone string, history []chat.Message) (HandoffResult, error) {
	var res HandoffResult
	err := b.post(ctx, "/api/v1/handoff/request", map[string]any{
		"session_id":           sessionID,
		"user_name":            userName,
		"user_phone":           userPhone,
		"conversation_history": history,
	}, &res)
	return res, err
}

func (b *HTTPBackend) PollMessages(ctx context.Context, sessionID string) ([]AgentMessage, error) {
	token, err := b.chatToken(ctx)
	if err != nil {
		return nil, err
	}

	var res struct {
		Success  bool           `json:"success"`
		Messages []AgentMessage `json:"messages"`
	}
	resp, err := b.http.R().
		SetContext(ctx).
		SetHeader(chatTokenHeader, token).
		SetQueryParam("session_id", sessionID).
		SetResult(&res).
		Get("/api/v1/handoff/messages")
	if err != nil {
		return nil, fmt.Errorf("polling agent messages: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("polling agent messages: status %d", resp.StatusCode())
	}
	return res.Messages, nil
}

func (b *HTTPBackend) TrackEvent(ctx context.Context, sessionID, eventType string, data map[string]any) error {
	return b.post(ctx, "/api/v1/events", map[string]any{
		"session_id": sessionID,
		"event_type": eventType,
		"event_data": data,
	}, nil)
}
