package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/websmartco/smartchat/internal/analytics"
	"github.com/websmartco/smartchat/internal/cache"
	"github.com/websmartco/smartchat/internal/chat"
	"github.com/websmartco/smartchat/internal/config"
	"github.com/websmartco/smartchat/internal/handoff"
	"github.com/websmartco/smartchat/internal/knowledge"
	"github.com/websmartco/smartchat/internal/log"
	"github.com/websmartco/smartchat/internal/ratelimit"
	"github.com/websmartco/smartchat/internal/store"
	"github.com/websmartco/smartchat/internal/validate"
)

const webhookTestSecret = "webhook-secret-for-tests"

type stubCompleter struct {
	answer string
	err    error
}

func (s *stubCompleter) Complete(context.Context, []chat.Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

type stubProber struct{ err error }

func (s *stubProber) Probe(context.Context) error { return s.err }

type recordingMailer struct {
	to, subject, body string
	err               error
	calls             int
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.calls++
	m.to, m.subject, m.body = to, subject, body
	return m.err
}

// blockingMailer hangs until released, ignoring the context the way a
// stalled SMTP dial would.
type blockingMailer struct{ release chan struct{} }

func (m *blockingMailer) Send(context.Context, string, string, string) error {
	<-m.release
	return nil
}

type testEnv struct {
	srv    *httptest.Server
	tm     *tokenManager
	mailer *recordingMailer
	events *analytics.Store
}

func newTestEnv(t *testing.T, completer chat.Completer, prober Prober) *testEnv {
	t.Helper()

	conn, err := store.Open(filepath.Join(t.TempDir(), "api.db"), log.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	kb, err := knowledge.Parse([]byte(`{"services": "web design and SEO"}`))
	if err != nil {
		t.Fatal(err)
	}

	pipeline := chat.NewPipeline(
		validate.New(),
		ratelimit.NewSlidingWindow(20, time.Hour),
		cache.New(16, time.Minute),
		kb,
		completer,
		chat.NewPromptAssembler("", config.LanguageUKEnglish),
		log.NewNop(),
	)

	events := analytics.NewStore(conn, log.NewNop())
	coordinator := handoff.NewCoordinator(conn, handoff.Config{
		PhoneNumber:   "447700900123",
		StartHour:     0,
		EndHour:       24,
		WebhookSecret: webhookTestSecret,
	}, log.NewNop())
	mailer := &recordingMailer{}

	secret := []byte(strings.Repeat("s", 32))
	server, err := NewServer(ServerConfig{
		Logger:         log.NewNop(),
		Pipeline:       pipeline,
		Validator:      validate.New(),
		Coordinator:    coordinator,
		Events:         events,
		Mailer:         mailer,
		Prober:         prober,
		EmailRecipient: "owner@example.com",
		HMACSecret:     secret,
		IsDev:          true,
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		srv:    srv,
		tm:     newTokenManager(secret, log.NewNop()),
		mailer: mailer,
		events: events,
	}
}

func (e *testEnv) post(t *testing.T, path string, body any, token string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(chatTokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set(chatTokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestMessage_RequiresToken(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{answer: "hi"}, &stubProber{})

	resp := env.post(t, "/api/v1/chat/message", map[string]any{
		"session_id": "s1", "user_message": "hello",
	}, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if code := errorCode(t, decodeJSON(t, resp)); code != "security_rejected" {
		t.Errorf("code = %q, want security_rejected", code)
	}
}

func TestMessage_HappyPath(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{answer: "We build websites."}, &stubProber{})

	resp := env.post(t, "/api/v1/chat/message", map[string]any{
		"session_id":   "s1",
		"user_message": "tell me about the services you offer",
		"user_name":    "Alice",
	}, env.tm.NewToken())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body := decodeJSON(t, resp)
	if body["success"] != true || body["response"] != "We build websites." {
		t.Errorf("body = %v", body)
	}
}

func TestMessage_InvalidInput(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{answer: "unused"}, &stubProber{})

	resp := env.post(t, "/api/v1/chat/message", map[string]any{
		"session_id": "s1", "user_message": "  ",
	}, env.tm.NewToken())
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if code := errorCode(t, decodeJSON(t, resp)); code != "invalid_input" {
		t.Errorf("code = %q", code)
	}
}

func TestMessage_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{err: errors.New("boom")}, &stubProber{})

	resp := env.post(t, "/api/v1/chat/message", map[string]any{
		"session_id": "s1", "user_message": "hello there friend",
	}, env.tm.NewToken())
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if code := errorCode(t, decodeJSON(t, resp)); code != "upstream_failed" {
		t.Errorf("code = %q", code)
	}
}

func TestContact_SendsTranscript(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{answer: "x"}, &stubProber{})

	resp := env.post(t, "/api/v1/chat/contact", map[string]any{
		"session_id": "s1",
		"name":       "Mary-Jane O'Brien",
		"email":      "mj@example.com",
		"phone":      "+44 7700 900456",
		"website":    "https://mj.example",
		"conversation_history": []map[string]string{
			{"role": "user", "content": "hello"},
			{"role": "assistant", "content": "hi!"},
		},
	}, env.tm.NewToken())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if env.mailer.calls != 1 {
		t.Fatalf("mailer called %d times, want 1", env.mailer.calls)
	}
	if env.mailer.to != "owner@example.com" {
		t.Errorf("to = %q", env.mailer.to)
	}
	for _, frag := range []string{"Mary-Jane O'Brien", "mj@example.com", "User: hello", "Assistant: hi!"} {
		if !strings.Contains(env.mailer.body, frag) {
			t.Errorf("mail body missing %q", frag)
		}
	}
}

func TestContact_InvalidEmail(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{answer: "x"}, &stubProber{})

	resp := env.post(t, "/api/v1/chat/contact", map[string]any{
		"name": "Bob", "email": "not-an-email", "phone": "+447700900456",
	}, env.tm.NewToken())
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if env.mailer.calls != 0 {
		t.Error("mailer must not be called for invalid input")
	}
}

func TestContact_HungMailerTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	h := &chatHandler{
		validator:   validate.New(),
		mailer:      &blockingMailer{release: release},
		recipient:   "owner@example.com",
		mailTimeout: 50 * time.Millisecond,
		logger:      log.NewNop(),
	}

	raw, err := json.Marshal(map[string]any{
		"name": "Bob", "email": "bob@example.com", "phone": "+447700900456",
	})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/contact", bytes.NewReader(raw))
	rec := httptest.NewRecorder()

	start := time.Now()
	h.contact(rec, req)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("handler blocked %v past its deadline", elapsed)
	}
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestHandoff_RequestAndPoll(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{answer: "x"}, &stubProber{})

	resp := env.post(t, "/api/v1/handoff/request", map[string]any{
		"session_id": "sess_42",
		"user_name":  "Alice",
		"conversation_history": []map[string]string{
			{"role": "user", "content": "I want to talk to a person"},
		},
	}, env.tm.NewToken())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeJSON(t, resp)
	if body["available"] != true {
		t.Fatalf("body = %v", body)
	}
	if !strings.HasPrefix(body["whatsapp_url"].(string), "https://wa.me/") {
		t.Errorf("whatsapp_url = %v", body["whatsapp_url"])
	}

	// Agent replies via webhook, widget polls it back.
	payload := []byte(`{"message":{"text":"Session ID: sess_42 On my way."}}`)
	mac := hmac.New(sha256.New, []byte(webhookTestSecret))
	mac.Write(payload)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/v1/handoff/webhook", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(webhookSignatureHeader, hex.EncodeToString(mac.Sum(nil)))
	wresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if wresp.StatusCode != http.StatusOK {
		t.Fatalf("webhook status = %d, want 200", wresp.StatusCode)
	}
	wresp.Body.Close()

	presp := env.get(t, "/api/v1/handoff/messages?session_id=sess_42", env.tm.NewToken())
	pbody := decodeJSON(t, presp)
	msgs, ok := pbody["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("messages = %v, want one entry", pbody["messages"])
	}
	first := msgs[0].(map[string]any)
	if first["message"] != "On my way." {
		t.Errorf("message = %v", first["message"])
	}
}

func TestHandoffWebhook_BadSignature(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{answer: "x"}, &stubProber{})

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/v1/handoff/webhook",
		strings.NewReader(`{"message":{"text":"Session ID: s1 hi"}}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(webhookSignatureHeader, "deadbeef")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestEvents_Accepted(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{answer: "x"}, &stubProber{})

	resp := env.post(t, "/api/v1/events", map[string]any{
		"event_type": "service_selected",
		"session_id": "s1",
		"event_data": map[string]any{"service": "seo"},
	}, env.tm.NewToken())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	resp.Body.Close()

	// Async write; allow it to land before asserting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		top, err := env.events.TopEvents(context.Background(), time.Now().Add(-time.Minute), 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(top) == 1 && top[0].Type == "service_selected" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event never recorded: %v", top)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProbe(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{answer: "x"}, &stubProber{})

	resp := env.get(t, "/api/v1/probe", env.tm.NewToken())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestProbe_UpstreamDown(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{answer: "x"}, &stubProber{err: errors.New("unreachable")})

	resp := env.get(t, "/api/v1/probe", env.tm.NewToken())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestGetEndpoints_RequireToken(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{answer: "x"}, &stubProber{})

	for _, path := range []string{
		"/api/v1/probe",
		"/api/v1/handoff/messages?session_id=s1",
	} {
		resp := env.get(t, path, "")
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("GET %s without token: status = %d, want 403", path, resp.StatusCode)
			resp.Body.Close()
			continue
		}
		if code := errorCode(t, decodeJSON(t, resp)); code != "security_rejected" {
			t.Errorf("GET %s without token: code = %q, want security_rejected", path, code)
		}
	}
}

func TestTokenEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{answer: "x"}, &stubProber{})

	resp, err := http.Get(env.srv.URL + "/api/v1/token")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeJSON(t, resp)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("no token issued")
	}
	if err := env.tm.Check(token); err != nil {
		t.Errorf("issued token does not verify: %v", err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &stubCompleter{answer: "x"}, &stubProber{})

	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
