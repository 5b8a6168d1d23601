// Package handoff moves a website chat to a human agent on WhatsApp.
//
// The outbound side checks agent hours and builds a wa.me deep link carrying
// recent conversation context. The inbound side verifies webhook signatures
// and surfaces agent replies back to the widget through a short-lived message
// store.
package handoff

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/websmartco/smartchat/internal/chat"
	"github.com/websmartco/smartchat/internal/log"
)

// contextMessages is how many trailing turns travel to the agent.
const contextMessages = 5

// contextWordLimit truncates each forwarded turn.
const contextWordLimit = 20

// Request is a live-agent request from the widget.
type Request struct {
	SessionID string
	UserName  string
	UserPhone string
	History   []chat.Message
}

// Result is the outcome of a live-agent request.
type Result struct {
	Available     bool   `json:"available"`
	WhatsAppURL   string `json:"whatsapp_url,omitempty"`
	Message       string `json:"message"`
	NextAvailable string `json:"next_available,omitempty"`
}

// Config holds handoff parameters, sourced from application config.
type Config struct {
	PhoneNumber   string // international format, digits only, for wa.me
	StartHour     int    // first hour agents answer, 24h local
	EndHour       int    // first hour agents no longer answer
	WebhookSecret string
}

// Coordinator owns the handoff flow.
type Coordinator struct {
	db     *sql.DB
	cfg    Config
	logger log.Logger

	// nowFunc is replaceable in tests.
	nowFunc func() time.Time
}

// NewCoordinator creates a Coordinator over an open database handle.
func NewCoordinator(db *sql.DB, cfg Config, logger log.Logger) *Coordinator {
	return &Coordinator{
		db:      db,
		cfg:     cfg,
		logger:  logger.With("component", "handoff"),
		nowFunc: time.Now,
	}
}

// Request handles a live-agent request. Inside agent hours it persists a
// handoff session and returns the WhatsApp deep link; outside it reports the
// next available time.
func (c *Coordinator) Request(ctx context.Context, req Request) (*Result, error) {
	if !c.agentsAvailable() {
		return &Result{
			Available:     false,
			Message:       "No agents available right now. Would you like to schedule a callback?",
			NextAvailable: c.nextAvailable(),
		}, nil
	}

	contextText := FormatContext(req.History)
	link := c.buildDeepLink(req.SessionID, req.UserName, contextText)

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO handoff_sessions (id, session_id, user_name, user_phone, context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), req.SessionID, req.UserName, req.UserPhone, contextText, c.nowFunc().UTC())
	if err != nil {
		return nil, fmt.Errorf("storing handoff session: %w", err)
	}

	c.logger.Info("handoff session created", "session_id", req.SessionID)
	return &Result{
		Available:   true,
		WhatsAppURL: link,
		Message:     "An agent is available. Click the link to continue on WhatsApp.",
	}, nil
}

func (c *Coordinator) agentsAvailable() bool {
	hour := c.nowFunc().Hour()
	return hour >= c.cfg.StartHour && hour < c.cfg.EndHour
}

func (c *Coordinator) nextAvailable() string {
	if c.nowFunc().Hour() >= c.cfg.EndHour {
		return fmt.Sprintf("tomorrow at %d:00", c.cfg.StartHour)
	}
	return fmt.Sprintf("today at %d:00", c.cfg.StartHour)
}

func (c *Coordinator) buildDeepLink(sessionID, userName, contextText string) string {
	text := fmt.Sprintf(
		"Hi, I'm %s. I was chatting with your AI assistant and would like to speak with a human agent. Session ID: %s\n\nConversation context:\n%s",
		userName, sessionID, contextText)
	return fmt.Sprintf("https://wa.me/%s?text=%s", c.cfg.PhoneNumber, url.QueryEscape(text))
}

// FormatContext renders the last turns of a conversation for the agent, each
// truncated to a handful of words.
func FormatContext(history []chat.Message) string {
	recent := history
	if len(recent) > contextMessages {
		recent = recent[len(recent)-contextMessages:]
	}

	var b strings.Builder
	for _, m := range recent {
		role := "AI"
		if m.Role == chat.RoleUser {
			role = "Customer"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(trimWords(m.Content, contextWordLimit))
		b.WriteString("\n")
	}
	return b.String()
}

func trimWords(s string, limit int) string {
	words := strings.Fields(s)
	if len(words) <= limit {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:limit], " ") + "..."
}
