package handoff

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Sentinel errors for webhook processing.
var (
	// ErrBadSignature indicates the webhook signature did not verify.
	ErrBadSignature = errors.New("webhook signature mismatch")

	// ErrNoSessionID indicates the message text carried no session marker.
	ErrNoSessionID = errors.New("no session id in message")
)

// messageTTL is how long an agent reply stays visible to the widget poll.
const messageTTL = 60 * time.Second

// sessionIDPattern matches the marker embedded in the outbound deep link, so
// agent replies quoting it route back to the right widget session.
var sessionIDPattern = regexp.MustCompile(`Session ID: ([a-zA-Z0-9_-]+)`)

type webhookPayload struct {
	Message struct {
		Text string `json:"text"`
		From string `json:"from"`
	} `json:"message"`
}

// VerifySignature checks the HMAC-SHA256 hex signature over the raw body.
func (c *Coordinator) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HandleWebhook processes a verified webhook body: extracts the session id
// from the message text and stores the remaining text as an agent reply with
// a short visibility TTL.
func (c *Coordinator) HandleWebhook(ctx context.Context, body []byte) error {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("decoding webhook body: %w", err)
	}
	if payload.Message.Text == "" {
		// Status callbacks and delivery receipts carry no text; ignore.
		return nil
	}

	sessionID, agentText := splitSessionMessage(payload.Message.Text)
	if sessionID == "" {
		return ErrNoSessionID
	}
	if agentText == "" {
		return nil
	}

	now := c.nowFunc().UTC()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO handoff_messages (session_id, sender, message, expires_at, created_at)
		 VALUES (?, 'agent', ?, ?, ?)`,
		sessionID, agentText, now.Add(messageTTL), now)
	if err != nil {
		return fmt.Errorf("storing agent message: %w", err)
	}

	c.logger.Info("agent message received", "session_id", sessionID)
	return nil
}

// splitSessionMessage pulls the session id marker out of an agent message and
// returns the remaining text.
func splitSessionMessage(text string) (sessionID, message string) {
	match := sessionIDPattern.FindStringSubmatch(text)
	if match == nil {
		return "", ""
	}
	remainder := sessionIDPattern.ReplaceAllString(text, "")
	return match[1], strings.TrimSpace(remainder)
}
