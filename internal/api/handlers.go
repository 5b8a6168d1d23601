package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/websmartco/smartchat/internal/analytics"
	"github.com/websmartco/smartchat/internal/chat"
	"github.com/websmartco/smartchat/internal/completion"
	"github.com/websmartco/smartchat/internal/handoff"
	"github.com/websmartco/smartchat/internal/log"
	"github.com/websmartco/smartchat/internal/notify"
	"github.com/websmartco/smartchat/internal/validate"
)

// maxBodyBytes caps action request bodies. Conversation histories are short;
// anything larger is abuse.
const maxBodyBytes = 64 << 10

// webhookSignatureHeader carries the HMAC signature on handoff webhooks.
const webhookSignatureHeader = "X-Webhook-Signature"

// Prober reports upstream connectivity. Implemented by the completion client.
type Prober interface {
	Probe(ctx context.Context) error
}

// defaultMailTimeout bounds transcript delivery on the contact endpoint.
const defaultMailTimeout = 15 * time.Second

// chatHandler serves the chat message and contact endpoints.
type chatHandler struct {
	pipeline    *chat.Pipeline
	validator   *validate.Validator
	mailer      notify.Mailer
	recipient   string
	mailTimeout time.Duration
	events      *analytics.Store
	logger      log.Logger
}

// decodeBody decodes a JSON body with a size cap, writing the error response
// itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger log.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON", logger)
		return false
	}
	return true
}

type messageRequest struct {
	SessionID           string         `json:"session_id"`
	UserMessage         string         `json:"user_message"`
	UserName            string         `json:"user_name"`
	ConversationHistory []chat.Message `json:"conversation_history"`
}

// message handles POST /api/v1/chat/message.
func (h *chatHandler) message(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if req.SessionID == "" {
		WriteError(w, http.StatusBadRequest, "missing_session", "session_id required", h.logger)
		return
	}

	res, err := h.pipeline.Respond(r.Context(), chat.Request{
		SessionID:   req.SessionID,
		UserMessage: req.UserMessage,
		UserName:    req.UserName,
		History:     req.ConversationHistory,
	})
	if err != nil {
		var verr *validate.Error
		switch {
		case errors.As(err, &verr):
			WriteError(w, http.StatusBadRequest, "invalid_input", verr.Error(), h.logger)
		case errors.Is(err, chat.ErrRateLimited):
			w.Header().Set("Retry-After", "60")
			WriteError(w, http.StatusTooManyRequests, "rate_limited",
				"Rate limit exceeded. Please try again later.", h.logger)
		default:
			// Upstream, transport and protocol failures all degrade to the
			// same generic message; detail stays in logs.
			WriteError(w, http.StatusBadGateway, "upstream_failed",
				"Sorry, something went wrong generating a response. Please try again.", h.logger)
		}
		return
	}

	h.events.TrackAsync(analytics.Event{
		Type:      analytics.EventMessageSent,
		SessionID: req.SessionID,
		Data: map[string]any{
			"message":   req.UserMessage,
			"cache_hit": res.CacheHit,
		},
	})

	WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"response": res.Response,
	}, h.logger)
}

type contactRequest struct {
	SessionID           string         `json:"session_id"`
	Name                string         `json:"name"`
	Email               string         `json:"email"`
	Phone               string         `json:"phone"`
	Website             string         `json:"website"`
	ConversationHistory []chat.Message `json:"conversation_history"`
}

// contact handles POST /api/v1/chat/contact.
func (h *chatHandler) contact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	fields := []struct {
		value  *string
		name   string
		kind   validate.Kind
		maxLen int
	}{
		{&req.Name, "name", validate.KindName, 100},
		{&req.Email, "email", validate.KindEmail, 100},
		{&req.Phone, "phone", validate.KindPhone, 20},
		{&req.Website, "website", validate.KindURL, 200},
	}
	for _, f := range fields {
		clean, err := h.validator.SanitizeField(*f.value, f.name, f.kind, f.maxLen)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_input", err.Error(), h.logger)
			return
		}
		*f.value = clean
	}

	body := notify.FormatTranscript(notify.Contact{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Website: req.Website,
	}, req.ConversationHistory)

	ctx, cancel := context.WithTimeout(r.Context(), h.mailTimeout)
	defer cancel()

	// net/smtp cannot be interrupted mid-dial, so the send runs in a
	// goroutine and the handler stops waiting at the deadline; a hung SMTP
	// server never holds the request open.
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.mailer.Send(ctx, h.recipient, notify.TranscriptSubject, body)
	}()
	var sendErr error
	select {
	case sendErr = <-errCh:
	case <-ctx.Done():
		sendErr = ctx.Err()
	}
	if sendErr != nil {
		h.logger.Error("transcript mail failed", "error", sendErr)
		WriteError(w, http.StatusBadGateway, "email_failed", "failed to send email", h.logger)
		return
	}

	if req.SessionID != "" {
		h.events.TrackAsync(analytics.Event{
			Type:      analytics.EventContactFormSubmitted,
			SessionID: req.SessionID,
		})
	}

	WriteJSON(w, http.StatusOK, map[string]any{"success": true}, h.logger)
}

// handoffHandler serves the live-agent endpoints.
type handoffHandler struct {
	coordinator *handoff.Coordinator
	events      *analytics.Store
	logger      log.Logger
}

type handoffRequestBody struct {
	SessionID           string         `json:"session_id"`
	UserName            string         `json:"user_name"`
	UserPhone           string         `json:"user_phone"`
	ConversationHistory []chat.Message `json:"conversation_history"`
}

// request handles POST /api/v1/handoff/request.
func (h *handoffHandler) request(w http.ResponseWriter, r *http.Request) {
	var req handoffRequestBody
	if !decodeBody(w, r, &req, h.logger) {
		return
	}
	if req.SessionID == "" {
		WriteError(w, http.StatusBadRequest, "missing_session", "session_id required", h.logger)
		return
	}

	res, err := h.coordinator.Request(r.Context(), handoff.Request{
		SessionID: req.SessionID,
		UserName:  req.UserName,
		UserPhone: req.UserPhone,
		History:   req.ConversationHistory,
	})
	if err != nil {
		h.logger.Error("handoff request failed", "error", err, "session_id", req.SessionID)
		WriteError(w, http.StatusInternalServerError, "handoff_failed", "failed to create handoff", h.logger)
		return
	}

	h.events.TrackAsync(analytics.Event{
		Type:      analytics.EventHandoffRequested,
		SessionID: req.SessionID,
		Data:      map[string]any{"available": res.Available},
	})

	WriteJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"available":      res.Available,
		"whatsapp_url":   res.WhatsAppURL,
		"message":        res.Message,
		"next_available": res.NextAvailable,
	}, h.logger)
}

// messages handles GET /api/v1/handoff/messages. The widget polls this for
// agent replies; returned messages are drained and will not repeat.
func (h *handoffHandler) messages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		WriteError(w, http.StatusBadRequest, "missing_session", "session_id required", h.logger)
		return
	}

	msgs, err := h.coordinator.Drain(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("draining agent messages", "error", err, "session_id", sessionID)
		WriteError(w, http.StatusInternalServerError, "drain_failed", "failed to fetch messages", h.logger)
		return
	}
	if msgs == nil {
		msgs = []handoff.AgentMessage{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"messages": msgs,
	}, h.logger)
}

// webhook handles POST /api/v1/handoff/webhook. Authenticated by body
// signature, not the chat token; WhatsApp-side infrastructure cannot fetch
// widget credentials.
func (h *handoffHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "failed to read body", h.logger)
		return
	}

	if !h.coordinator.VerifySignature(body, r.Header.Get(webhookSignatureHeader)) {
		h.logger.Warn("webhook signature mismatch", "ip", r.RemoteAddr)
		WriteError(w, http.StatusUnauthorized, "security_rejected", "signature verification failed", h.logger)
		return
	}

	if err := h.coordinator.HandleWebhook(r.Context(), body); err != nil {
		if errors.Is(err, handoff.ErrNoSessionID) {
			// Messages without a session marker cannot be routed; ack so the
			// provider does not retry.
			WriteJSON(w, http.StatusOK, map[string]any{"success": true}, h.logger)
			return
		}
		h.logger.Error("webhook processing failed", "error", err)
		WriteError(w, http.StatusBadRequest, "invalid_body", "failed to process webhook", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"success": true}, h.logger)
}

// eventsHandler serves POST /api/v1/events.
type eventsHandler struct {
	events *analytics.Store
	logger log.Logger
}

func (h *eventsHandler) track(w http.ResponseWriter, r *http.Request) {
	var ev analytics.Event
	if !decodeBody(w, r, &ev, h.logger) {
		return
	}
	if ev.Type == "" || ev.SessionID == "" {
		WriteError(w, http.StatusBadRequest, "invalid_input", "event_type and session_id required", h.logger)
		return
	}

	// Fire-and-forget: tracking must never slow the widget down.
	h.events.TrackAsync(ev)
	WriteJSON(w, http.StatusAccepted, map[string]any{"success": true}, h.logger)
}

// probeHandler serves GET /api/v1/probe.
type probeHandler struct {
	prober Prober
	logger log.Logger
}

func (h *probeHandler) probe(w http.ResponseWriter, r *http.Request) {
	if err := h.prober.Probe(r.Context()); err != nil {
		h.logger.Warn("upstream probe failed", "error", err)
		WriteError(w, http.StatusBadGateway, "probe_failed", "upstream unreachable", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"success": true}, h.logger)
}

// health handles GET /health.
func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

var _ Prober = (*completion.Client)(nil)
