package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/requestctx"
)

const (
	sessionCookieName = "LENNOX_SITE_SESSION"
	sessionLifetime   = 30 * 24 * time.Hour
)

// SessionData is the visitor state carried in the signed session cookie.
// The id doubles as the chat widget key.
type SessionData struct {
	ID        string    `json:"id"`
	Locale    string    `json:"locale,omitempty"`
	CSRFToken string    `json:"csrf,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// internal flags; not serialized
	dirty  bool
	secure bool
}

// MarkDirty flags the session for writing at end of request
func (s *SessionData) MarkDirty() { s.dirty = true; s.UpdatedAt = time.Now().UTC() }

// SessionOptions configures the session cookie.
type SessionOptions struct {
	SigningKey string
	Secure     bool
	Logger     *zap.Logger
}

type sessionCodec struct {
	key    []byte
	secure bool
}

// Sessions loads or initializes a session, stores it in request context, and records the id for logging.
// An empty signing key falls back to a process-ephemeral key so local runs work without configuration.
func Sessions(opts SessionOptions) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	key := []byte(opts.SigningKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			logger.Error("session: failed to generate signing key", zap.Error(err))
			key = []byte("insecure-dev-key-please-set-SITE_SESSION_SIGNING_KEY")
		}
		logger.Warn("session: using ephemeral signing key; set SITE_SESSION_SIGNING_KEY for production")
	}
	codec := &sessionCodec{key: key, secure: opts.Secure}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sd, fromCookie := codec.read(r)
			if sd.ID == "" {
				now := time.Now().UTC()
				sd = &SessionData{
					ID:        uuid.NewString(),
					CSRFToken: newCSRFToken(),
					CreatedAt: now,
					UpdatedAt: now,
					dirty:     true,
				}
			}
			sd.secure = codec.secure
			ctx := contextWithSession(r, sd)
			rw := NewResponseRecorder(w)
			// ensure cookie is set just before first write if needed
			rw.SetBeforeWrite(func(w http.ResponseWriter) {
				if sd.dirty || !fromCookie {
					codec.write(w, sd)
				}
			})
			next.ServeHTTP(rw, r.WithContext(ctx))
			// If nothing was written yet (e.g., HEAD), persist cookie now
			if !rw.wrote && (sd.dirty || !fromCookie) {
				codec.write(w, sd)
			}
		})
	}
}

func contextWithSession(r *http.Request, s *SessionData) context.Context {
	ctx := requestctx.WithSessionID(r.Context(), s.ID)
	return context.WithValue(ctx, ctxKeySession, s)
}

// read parses and verifies the session cookie
func (c *sessionCodec) read(r *http.Request) (*SessionData, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return &SessionData{}, false
	}
	payloadPart, sigPart, ok := strings.Cut(cookie.Value, ".")
	if !ok {
		return &SessionData{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return &SessionData{}, false
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return &SessionData{}, false
	}
	if !hmac.Equal(sig, c.sign(payload)) {
		return &SessionData{}, false
	}
	var sd SessionData
	if err := json.Unmarshal(payload, &sd); err != nil {
		return &SessionData{}, false
	}
	if _, err := uuid.Parse(sd.ID); err != nil {
		return &SessionData{}, false
	}
	return &sd, true
}

func (c *sessionCodec) write(w http.ResponseWriter, sd *SessionData) {
	b, _ := json.Marshal(sd)
	val := base64.RawURLEncoding.EncodeToString(b) + "." + base64.RawURLEncoding.EncodeToString(c.sign(b))
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    val,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(sessionLifetime),
	})
	sd.dirty = false
}

func (c *sessionCodec) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(payload)
	return mac.Sum(nil)
}
