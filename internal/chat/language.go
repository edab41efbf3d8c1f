package chat

import (
	"strings"
	"sync"
)

// Language is a supported widget language code.
type Language string

const (
	English Language = "en"
	Spanish Language = "es"

	// DefaultLanguage is used whenever detection is inconclusive.
	DefaultLanguage = English
)

// SupportedLanguages lists languages in toggle order.
var SupportedLanguages = []Language{English, Spanish}

// ParseLanguage accepts codes such as "es", "ES" or "es-MX" and reports whether the base
// language is supported.
func ParseLanguage(value string) (Language, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if base, _, found := strings.Cut(value, "-"); found {
		value = base
	}
	if base, _, found := strings.Cut(value, "_"); found {
		value = base
	}
	for _, lang := range SupportedLanguages {
		if Language(value) == lang {
			return lang, true
		}
	}
	return "", false
}

// LookupLanguage parses value and falls back to DefaultLanguage.
func LookupLanguage(value string) Language {
	if lang, ok := ParseLanguage(value); ok {
		return lang
	}
	return DefaultLanguage
}

// LanguageSetting holds a session's selected language and notifies subscribers when it changes.
type LanguageSetting struct {
	mu     sync.Mutex
	lang   Language
	nextID int
	subs   map[int]func(Language)
}

// NewLanguageSetting returns a setting initialised to lang (or the default when unsupported).
func NewLanguageSetting(lang Language) *LanguageSetting {
	return &LanguageSetting{
		lang: LookupLanguage(string(lang)),
		subs: make(map[int]func(Language)),
	}
}

// Get returns the current language.
func (s *LanguageSetting) Get() Language {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// Set changes the language. Subscribers run only when the value actually changes.
func (s *LanguageSetting) Set(lang Language) bool {
	lang = LookupLanguage(string(lang))

	s.mu.Lock()
	if s.lang == lang {
		s.mu.Unlock()
		return false
	}
	s.lang = lang
	subs := make([]func(Language), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(lang)
	}
	return true
}

// Subscribe registers fn for future changes and returns a func that removes it.
func (s *LanguageSetting) Subscribe(fn func(Language)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}
