package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/websmartco/smartchat/internal/chat"
	"github.com/websmartco/smartchat/internal/log"
)

func newTestClient(baseURL string) *Client {
	return New(Config{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		Model:          "gpt-4-turbo",
		MaxTokens:      3500,
		Temperature:    0.3,
		RequestTimeout: 5 * time.Second,
		ProbeTimeout:   2 * time.Second,
	}, log.NewNop())
}

func TestComplete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req["model"] != "gpt-4-turbo" {
			t.Errorf("model = %v", req["model"])
		}
		if req["max_tokens"] != float64(3500) {
			t.Errorf("max_tokens = %v", req["max_tokens"])
		}
		if req["top_p"] != float64(1) {
			t.Errorf("top_p = %v", req["top_p"])
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hello!"}},
			},
		})
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Complete(context.Background(), []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "hello!" {
		t.Errorf("Complete() = %q", got)
	}
}

func TestComplete_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "Rate limit reached"},
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), nil)

	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("error %v is not *UpstreamError", err)
	}
	if uerr.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d", uerr.Status)
	}
	if uerr.Message != "Rate limit reached" {
		t.Errorf("Message = %q", uerr.Message)
	}
}

func TestComplete_MislabelledContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "still decoded"}},
			},
		})
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Complete(context.Background(), nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "still decoded" {
		t.Errorf("Complete() = %q", got)
	}
}

func TestComplete_ProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), nil)
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("error = %v, want ErrProtocol", err)
	}
}

func TestComplete_TransportError(t *testing.T) {
	// Closed server gives a connect failure.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), nil)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
}

func TestComplete_NoAutomaticRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("upstream called %d times, want 1", n)
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).Probe(context.Background()); err != nil {
		t.Errorf("Probe() error = %v", err)
	}
}

func TestProbe_BadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Probe(context.Background())
	var uerr *UpstreamError
	if !errors.As(err, &uerr) || uerr.Status != http.StatusUnauthorized {
		t.Errorf("error = %v, want 401 UpstreamError", err)
	}
}
