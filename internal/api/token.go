package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/websmartco/smartchat/internal/log"
)

// Sentinel errors for credential validation.
var (
	ErrTokenRequired  = errors.New("chat token required")
	ErrTokenMalformed = errors.New("chat token malformed")
	ErrTokenInvalid   = errors.New("chat token invalid")
	ErrTokenExpired   = errors.New("chat token expired")
)

const (
	// chatTokenHeader carries the per-install anti-forgery credential.
	chatTokenHeader = "X-Chat-Token"

	// chatTokenTTL bounds token lifetime; the widget refreshes well before.
	chatTokenTTL = 1 * time.Hour

	// tokenClockSkew tolerates minor clock drift between issue and check.
	tokenClockSkew = 5 * time.Minute
)

// tokenManager issues and checks the anti-forgery credential every
// state-changing action endpoint requires. Format: "timestamp:signature"
// where signature is HMAC-SHA256 over the timestamp with the install secret.
type tokenManager struct {
	secret []byte
	logger log.Logger

	// nowFunc is replaceable in tests.
	nowFunc func() time.Time
}

func newTokenManager(secret []byte, logger log.Logger) *tokenManager {
	return &tokenManager{secret: secret, logger: logger, nowFunc: time.Now}
}

// NewToken issues a fresh credential.
func (tm *tokenManager) NewToken() string {
	timestamp := tm.nowFunc().Unix()

	h := hmac.New(sha256.New, tm.secret)
	fmt.Fprintf(h, "%d", timestamp)
	signature := base64.URLEncoding.EncodeToString(h.Sum(nil))

	return fmt.Sprintf("%d:%s", timestamp, signature)
}

// Check verifies a credential.
func (tm *tokenManager) Check(token string) error {
	if token == "" {
		return ErrTokenRequired
	}

	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return ErrTokenMalformed
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMalformed
	}

	// SECURITY: compute and verify the HMAC BEFORE timestamp checks to
	// prevent timing oracle attacks (CWE-208). If the timestamp were checked
	// first, the response time difference between "expired" and "valid
	// timestamp, wrong HMAC" would leak information about valid timestamps.
	h := hmac.New(sha256.New, tm.secret)
	fmt.Fprintf(h, "%d", timestamp)
	expectedSig := h.Sum(nil)

	actualSig, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return ErrTokenMalformed
	}

	if subtle.ConstantTimeCompare(actualSig, expectedSig) != 1 {
		return ErrTokenInvalid
	}

	age := tm.nowFunc().Sub(time.Unix(timestamp, 0))
	if age > chatTokenTTL {
		return ErrTokenExpired
	}
	if age < -tokenClockSkew {
		return ErrTokenInvalid
	}

	return nil
}

// issueToken handles GET /api/v1/token.
func (tm *tokenManager) issueToken(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"token":      tm.NewToken(),
		"expires_in": int(chatTokenTTL.Seconds()),
	}, tm.logger)
}

// tokenMiddleware rejects requests lacking a valid credential, reads
// included: the agent message feed returns conversation content. Only
// OPTIONS passes unconditionally (CORS preflight cannot carry custom
// headers). Paths in exempt carry their own authentication or none: token
// issuance bootstraps the credential, the handoff webhook is
// signature-verified against the webhook secret.
func tokenMiddleware(tm *tokenManager, exempt map[string]struct{}, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			if err := tm.Check(r.Header.Get(chatTokenHeader)); err != nil {
				logger.Warn("chat token validation failed",
					"error", err,
					"path", r.URL.Path,
					"method", r.Method,
				)
				WriteError(w, http.StatusForbidden, "security_rejected", "security check failed", logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
