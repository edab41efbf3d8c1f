package chat

import (
	"strings"

	"golang.org/x/text/language"
)

// Detector picks the widget language from an explicit hint and the Accept-Language header.
type Detector struct {
	matcher language.Matcher
}

// NewDetector builds a detector over SupportedLanguages.
func NewDetector() *Detector {
	tags := make([]language.Tag, 0, len(SupportedLanguages))
	for _, lang := range SupportedLanguages {
		tags = append(tags, language.Make(string(lang)))
	}
	return &Detector{matcher: language.NewMatcher(tags)}
}

// Detect returns the hinted language when supported, otherwise the best Accept-Language match.
// Anything inconclusive yields DefaultLanguage.
func (d *Detector) Detect(hint, acceptLanguage string) Language {
	if lang, ok := ParseLanguage(hint); ok {
		return lang
	}
	if strings.TrimSpace(acceptLanguage) == "" {
		return DefaultLanguage
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return DefaultLanguage
	}
	_, index, confidence := d.matcher.Match(tags...)
	if confidence == language.No || index < 0 || index >= len(SupportedLanguages) {
		return DefaultLanguage
	}
	return SupportedLanguages[index]
}
