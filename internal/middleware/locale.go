package middleware

import (
	"context"
	"net/http"

	"github.com/cdjcoder/Lennox-Local-GHB/internal/chat"
)

const localeCookieName = "hl"

// LocaleChangeFunc is told when a visitor's language differs from what the session last recorded.
type LocaleChangeFunc func(sessionID string, lang chat.Language)

// Locale resolves the preferred language and stores it in the session and cookie `hl`.
// Precedence is the `hl` query parameter, then the session, then the `hl` cookie, then Accept-Language.
func Locale(detector *chat.Detector, onChange LocaleChangeFunc) func(http.Handler) http.Handler {
	if detector == nil {
		detector = chat.NewDetector()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := GetSession(r)
			previous := s.Locale

			var lang chat.Language
			if q := r.URL.Query().Get(localeCookieName); q != "" {
				lang = detector.Detect(q, r.Header.Get("Accept-Language"))
				http.SetCookie(w, &http.Cookie{Name: localeCookieName, Value: string(lang), Path: "/", SameSite: http.SameSiteLaxMode})
			} else if stored, ok := chat.ParseLanguage(previous); ok {
				lang = stored
			} else {
				hint := ""
				if c, err := r.Cookie(localeCookieName); err == nil {
					hint = c.Value
				}
				lang = detector.Detect(hint, r.Header.Get("Accept-Language"))
			}

			if string(lang) != previous {
				s.Locale = string(lang)
				s.MarkDirty()
				if previous != "" && onChange != nil && s.ID != "" {
					onChange(s.ID, lang)
				}
			}
			w.Header().Set("Content-Language", string(lang))

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyLocale, lang)))
		})
	}
}

// SetLang records an explicit language choice on the session, for handlers such as the widget toggle.
func SetLang(r *http.Request, lang chat.Language) {
	s := GetSession(r)
	if s.Locale != string(lang) {
		s.Locale = string(lang)
		s.MarkDirty()
	}
}

// Lang returns the language resolved for this request, defaulting to English.
func Lang(r *http.Request) chat.Language {
	if v, ok := r.Context().Value(ctxKeyLocale).(chat.Language); ok && v != "" {
		return v
	}
	if l, ok := chat.ParseLanguage(GetSession(r).Locale); ok {
		return l
	}
	return chat.DefaultLanguage
}
