package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/httpx"
)

const (
	csrfCookieName = "csrf_token"
	// CSRFHeader carries the double-submit token on unsafe requests.
	CSRFHeader = "X-CSRF-Token"
)

// CSRF issues a CSRF cookie and verifies modifying requests carry the token in header
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Tie token to session: use per-session token from session data
		s := GetSession(r)
		token := s.CSRFToken
		if token == "" {
			token = newCSRFToken()
			s.CSRFToken = token
			s.MarkDirty()
		}

		// Ensure client has cookie with the same token (double submit cookie)
		if c, err := r.Cookie(csrfCookieName); err != nil || c.Value != token {
			http.SetCookie(w, &http.Cookie{
				Name:     csrfCookieName,
				Value:    token,
				Path:     "/",
				HttpOnly: false,
				Secure:   s.secure,
				SameSite: http.SameSiteLaxMode,
				Expires:  time.Now().Add(24 * time.Hour),
			})
		}

		if !isSafeMethod(r.Method) {
			if !tokenMatches(r.Header.Get(CSRFHeader), token) {
				writeForbidden(w, r)
				return
			}
			if c, err := r.Cookie(csrfCookieName); err != nil || !tokenMatches(c.Value, token) {
				writeForbidden(w, r)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// CSRFToken returns the token pages embed for scripts issuing unsafe requests.
func CSRFToken(r *http.Request) string {
	return GetSession(r).CSRFToken
}

func writeForbidden(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("invalid_csrf_token", "invalid CSRF token", http.StatusForbidden))
}

func tokenMatches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func newCSRFToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
