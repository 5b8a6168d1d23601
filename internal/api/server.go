// Package api exposes the widget's action endpoints over HTTP.
package api

import (
	"errors"
	"net/http"

	"github.com/websmartco/smartchat/internal/analytics"
	"github.com/websmartco/smartchat/internal/chat"
	"github.com/websmartco/smartchat/internal/handoff"
	"github.com/websmartco/smartchat/internal/log"
	"github.com/websmartco/smartchat/internal/notify"
	"github.com/websmartco/smartchat/internal/validate"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger         log.Logger
	Pipeline       *chat.Pipeline       // Required
	Validator      *validate.Validator  // Required
	Coordinator    *handoff.Coordinator // Required
	Events         *analytics.Store     // Required
	Mailer         notify.Mailer        // Required
	Prober         Prober               // Required
	EmailRecipient string               // Transcript mail destination
	HMACSecret     []byte               // Required: 32+ bytes
	CORSOrigins    []string             // Site origins allowed to embed the widget
	IsDev          bool                 // Disables HSTS
	TrustProxy     bool                 // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst      int                  // Per-IP burst size (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Pipeline == nil:
		return nil, errors.New("pipeline is required")
	case cfg.Coordinator == nil:
		return nil, errors.New("handoff coordinator is required")
	case cfg.Events == nil:
		return nil, errors.New("analytics store is required")
	case cfg.Mailer == nil:
		return nil, errors.New("mailer is required")
	case cfg.Prober == nil:
		return nil, errors.New("prober is required")
	case len(cfg.HMACSecret) < 32:
		return nil, errors.New("hmac secret must be at least 32 bytes")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	logger = logger.With("component", "api")

	validator := cfg.Validator
	if validator == nil {
		validator = validate.New()
	}

	tm := newTokenManager(cfg.HMACSecret, logger)

	ch := &chatHandler{
		pipeline:    cfg.Pipeline,
		validator:   validator,
		mailer:      cfg.Mailer,
		recipient:   cfg.EmailRecipient,
		mailTimeout: defaultMailTimeout,
		events:      cfg.Events,
		logger:      logger,
	}
	hh := &handoffHandler{
		coordinator: cfg.Coordinator,
		events:      cfg.Events,
		logger:      logger,
	}
	eh := &eventsHandler{events: cfg.Events, logger: logger}
	ph := &probeHandler{prober: cfg.Prober, logger: logger}

	mux := http.NewServeMux()

	// Anti-forgery credential provisioning
	mux.HandleFunc("GET /api/v1/token", tm.issueToken)

	// Chat
	mux.HandleFunc("POST /api/v1/chat/message", ch.message)
	mux.HandleFunc("POST /api/v1/chat/contact", ch.contact)

	// Live agent handoff
	mux.HandleFunc("POST /api/v1/handoff/request", hh.request)
	mux.HandleFunc("GET /api/v1/handoff/messages", hh.messages)
	mux.HandleFunc("POST /api/v1/handoff/webhook", hh.webhook)

	// Analytics and upstream probe
	mux.HandleFunc("POST /api/v1/events", eh.track)
	mux.HandleFunc("GET /api/v1/probe", ph.probe)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newIPRateLimiter(1.0, burst)

	// Token issuance must stay reachable without a token; the webhook
	// authenticates by body signature instead.
	tokenExempt := map[string]struct{}{
		"/api/v1/token":           {},
		"/api/v1/handoff/webhook": {},
	}

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Token → Routes
	// RequestID must be before Logging so request_id is available in log attributes.
	// CORS must be before RateLimit so preflight OPTIONS gets proper CORS headers.
	var handler http.Handler = mux
	handler = tokenMiddleware(tm, tokenExempt, logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Wrap with security headers
	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Use a top-level mux to separate health probes from the middleware stack
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
