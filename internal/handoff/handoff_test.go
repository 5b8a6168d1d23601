package handoff

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/websmartco/smartchat/internal/chat"
	"github.com/websmartco/smartchat/internal/log"
	"github.com/websmartco/smartchat/internal/store"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	conn, err := store.Open(filepath.Join(t.TempDir(), "handoff.db"), log.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	return NewCoordinator(conn, Config{
		PhoneNumber:   "447700900123",
		StartHour:     9,
		EndHour:       17,
		WebhookSecret: "webhook-secret-for-tests",
	}, log.NewNop())
}

// atHour pins the coordinator clock to a fixed hour of day.
func atHour(c *Coordinator, hour int) {
	base := time.Date(2026, 9, 1, hour, 30, 0, 0, time.Local)
	c.nowFunc = func() time.Time { return base }
}

func TestRequest_InsideHours(t *testing.T) {
	c := newTestCoordinator(t)
	atHour(c, 10)

	res, err := c.Request(context.Background(), Request{
		SessionID: "sess_abc123",
		UserName:  "Alice",
		UserPhone: "+447700900456",
		History: []chat.Message{
			{Role: chat.RoleUser, Content: "I need help with SEO"},
			{Role: chat.RoleAssistant, Content: "Happy to help, what is your site?"},
		},
	})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	if !res.Available {
		t.Fatal("agent should be available at 10:30")
	}
	if !strings.HasPrefix(res.WhatsAppURL, "https://wa.me/447700900123?text=") {
		t.Errorf("WhatsAppURL = %q", res.WhatsAppURL)
	}

	decoded, err := url.QueryUnescape(strings.TrimPrefix(res.WhatsAppURL, "https://wa.me/447700900123?text="))
	if err != nil {
		t.Fatal(err)
	}
	for _, frag := range []string{"Alice", "Session ID: sess_abc123", "Customer: I need help with SEO", "AI: Happy to help"} {
		if !strings.Contains(decoded, frag) {
			t.Errorf("deep link text missing %q:\n%s", frag, decoded)
		}
	}
}

func TestRequest_OutsideHours(t *testing.T) {
	c := newTestCoordinator(t)

	atHour(c, 20)
	res, err := c.Request(context.Background(), Request{SessionID: "s1", UserName: "Bob"})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if res.Available {
		t.Fatal("agent should not be available at 20:30")
	}
	if res.NextAvailable != "tomorrow at 9:00" {
		t.Errorf("NextAvailable = %q", res.NextAvailable)
	}
	if res.WhatsAppURL != "" {
		t.Error("no deep link outside hours")
	}

	atHour(c, 7)
	res, err = c.Request(context.Background(), Request{SessionID: "s1", UserName: "Bob"})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if res.NextAvailable != "today at 9:00" {
		t.Errorf("NextAvailable = %q", res.NextAvailable)
	}
}

func TestRequest_HourBoundaries(t *testing.T) {
	c := newTestCoordinator(t)

	atHour(c, 9)
	if res, _ := c.Request(context.Background(), Request{SessionID: "s", UserName: "A"}); !res.Available {
		t.Error("start hour is inside the window")
	}
	atHour(c, 17)
	if res, _ := c.Request(context.Background(), Request{SessionID: "s", UserName: "A"}); res.Available {
		t.Error("end hour is outside the window")
	}
}

func TestFormatContext_LastFiveTruncated(t *testing.T) {
	history := make([]chat.Message, 0, 8)
	for range 7 {
		history = append(history, chat.Message{Role: chat.RoleUser, Content: "filler"})
	}
	long := strings.Repeat("word ", 30)
	history = append(history, chat.Message{Role: chat.RoleAssistant, Content: long})

	got := FormatContext(history)

	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d context lines, want 5", len(lines))
	}
	last := lines[4]
	if !strings.HasPrefix(last, "AI: ") || !strings.HasSuffix(last, "...") {
		t.Errorf("last line = %q, want truncated AI turn", last)
	}
	if words := strings.Fields(strings.TrimPrefix(last, "AI: ")); len(words) > 21 {
		t.Errorf("last line has %d words, want <= 20 plus ellipsis", len(words))
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	c := newTestCoordinator(t)
	body := []byte(`{"message":{"text":"hi"}}`)

	if !c.VerifySignature(body, sign("webhook-secret-for-tests", body)) {
		t.Error("valid signature rejected")
	}
	if c.VerifySignature(body, sign("wrong-secret", body)) {
		t.Error("signature from wrong secret accepted")
	}
	if c.VerifySignature(body, "") {
		t.Error("empty signature accepted")
	}
}

func TestHandleWebhook_StoresAndDrains(t *testing.T) {
	c := newTestCoordinator(t)

	body := []byte(`{"message":{"text":"Session ID: sess_abc123 Thanks, I can take it from here.","from":"agent"}}`)
	if err := c.HandleWebhook(context.Background(), body); err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}

	msgs, err := c.Drain(context.Background(), "sess_abc123")
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Message != "Thanks, I can take it from here." {
		t.Errorf("Message = %q", msgs[0].Message)
	}
	if msgs[0].Sender != "agent" {
		t.Errorf("Sender = %q", msgs[0].Sender)
	}

	// Drained messages do not repeat.
	again, err := c.Drain(context.Background(), "sess_abc123")
	if err != nil {
		t.Fatalf("second Drain() error = %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second drain returned %d messages, want 0", len(again))
	}
}

func TestHandleWebhook_NoSessionID(t *testing.T) {
	c := newTestCoordinator(t)

	body := []byte(`{"message":{"text":"hello with no marker"}}`)
	if err := c.HandleWebhook(context.Background(), body); err != ErrNoSessionID {
		t.Errorf("error = %v, want ErrNoSessionID", err)
	}
}

func TestHandleWebhook_IgnoresTextlessCallbacks(t *testing.T) {
	c := newTestCoordinator(t)

	if err := c.HandleWebhook(context.Background(), []byte(`{"status":"delivered"}`)); err != nil {
		t.Errorf("textless callback should be ignored, got %v", err)
	}
}

func TestDrain_SkipsExpiredMessages(t *testing.T) {
	c := newTestCoordinator(t)

	now := time.Now()
	c.nowFunc = func() time.Time { return now }

	body := []byte(`{"message":{"text":"Session ID: s1 hello"}}`)
	if err := c.HandleWebhook(context.Background(), body); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)
	msgs, err := c.Drain(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages, want 0 after TTL", len(msgs))
	}
}

func TestSubscribe_DeliversAndStopsOnCancel(t *testing.T) {
	// The sql.DB pool keeps a connection opener goroutine until Close; the
	// deferred Close below runs before the leak check.
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	conn, err := store.Open(filepath.Join(t.TempDir(), "handoff.db"), log.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	c := NewCoordinator(conn, Config{
		PhoneNumber:   "447700900123",
		StartHour:     9,
		EndHour:       17,
		WebhookSecret: "webhook-secret-for-tests",
	}, log.NewNop())

	body := []byte(`{"message":{"text":"Session ID: s1 agent here"}}`)
	if err := c.HandleWebhook(context.Background(), body); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	feed := c.Subscribe(ctx, "s1", 10*time.Millisecond)

	select {
	case m, ok := <-feed:
		if !ok {
			t.Fatal("feed closed before delivering")
		}
		if m.Message != "agent here" {
			t.Errorf("Message = %q", m.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for agent message")
	}

	cancel()
	select {
	case _, ok := <-feed:
		if ok {
			t.Error("feed should close after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not close after cancel")
	}
}
