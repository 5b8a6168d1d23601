package notify

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/websmartco/smartchat/internal/chat"
	"github.com/websmartco/smartchat/internal/log"
)

func TestFormatTranscript(t *testing.T) {
	body := FormatTranscript(Contact{
		Name:    "Alice Smith",
		Email:   "alice@example.com",
		Phone:   "+447700900456",
		Website: "https://alice.example",
	}, []chat.Message{
		{Role: chat.RoleUser, Content: "how much for a site?"},
		{Role: chat.RoleAssistant, Content: "From £1,000."},
	})

	for _, frag := range []string{
		"Name: Alice Smith",
		"Email: alice@example.com",
		"Phone: +447700900456",
		"Website: https://alice.example",
		"Chat Transcript:",
		"User: how much for a site?",
		"Assistant: From £1,000.",
	} {
		if !strings.Contains(body, frag) {
			t.Errorf("transcript missing %q:\n%s", frag, body)
		}
	}
}

func TestFormatTranscript_EmptyHistory(t *testing.T) {
	body := FormatTranscript(Contact{Name: "Bob"}, nil)
	if !strings.HasSuffix(body, "Chat Transcript:\n") {
		t.Errorf("unexpected trailing content:\n%s", body)
	}
}

func TestSMTPMailer_Send(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
	)

	m := NewSMTPMailer(SMTPConfig{
		Host: "mail.example.com",
		Port: 587,
		User: "mailer",
		From: "bot@example.com",
	}, log.NewNop())
	m.sendFunc = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	err := m.Send(context.Background(), "owner@example.com", "subject line", "body text")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotAddr != "mail.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotFrom != "bot@example.com" || len(gotTo) != 1 || gotTo[0] != "owner@example.com" {
		t.Errorf("envelope = %q -> %v", gotFrom, gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: subject line") || !strings.HasSuffix(gotMsg, "body text") {
		t.Errorf("message = %q", gotMsg)
	}
}

func TestSMTPMailer_CancelledContext(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "mail.example.com", Port: 587}, log.NewNop())
	m.sendFunc = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("sendFunc called despite cancelled context")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Send(ctx, "a@b.c", "s", "b"); err == nil {
		t.Error("cancelled context should fail")
	}
}
