// Package notify delivers the contact transcript email when a visitor leaves
// their details or ends a chat.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/websmartco/smartchat/internal/chat"
	"github.com/websmartco/smartchat/internal/log"
)

// Contact is the captured visitor details attached to a transcript.
type Contact struct {
	Name    string
	Email   string
	Phone   string
	Website string
}

// Mailer sends a plain-text email. Implemented by SMTPMailer; faked in tests.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig holds SMTP delivery settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// SMTPMailer sends mail over authenticated SMTP.
type SMTPMailer struct {
	cfg    SMTPConfig
	logger log.Logger

	// sendFunc is replaceable in tests.
	sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig, logger log.Logger) *SMTPMailer {
	return &SMTPMailer{
		cfg:      cfg,
		logger:   logger.With("component", "notify"),
		sendFunc: smtp.SendMail,
	}
}

// Send delivers one message. The context deadline is advisory only; net/smtp
// does not thread contexts, so callers should run Send off the request path.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		m.cfg.From, to, subject, body)

	if err := m.sendFunc(addr, auth, m.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("sending mail via %s: %w", addr, err)
	}

	m.logger.Info("transcript mail sent", "to", to)
	return nil
}

// TranscriptSubject is the subject line for contact transcript mail.
const TranscriptSubject = "New Contact from Website Chat"

// FormatTranscript renders the contact details and conversation as the
// plain-text email body.
func FormatTranscript(contact Contact, history []chat.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", contact.Name)
	fmt.Fprintf(&b, "Email: %s\n", contact.Email)
	fmt.Fprintf(&b, "Phone: %s\n", contact.Phone)
	fmt.Fprintf(&b, "Website: %s\n\n", contact.Website)
	b.WriteString("Chat Transcript:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", capitalize(string(m.Role)), m.Content)
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
