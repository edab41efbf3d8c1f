package seo

import (
	"encoding/json"
	"html/template"
	"net/url"
)

// Alternate links a localized variant of a page.
type Alternate struct {
	Lang string
	Href string
}

// Meta is the head metadata of a page.
type Meta struct {
	Title       string
	Description string
	Canonical   string
	Alternates  []Alternate
	JSONLD      template.JS
}

// Alternates builds hreflang links for path in each language, plus x-default pointing at fallback.
func Alternates(path string, langs []string, fallback string) []Alternate {
	if path == "" {
		path = "/"
	}
	out := make([]Alternate, 0, len(langs)+1)
	for _, lang := range langs {
		out = append(out, Alternate{Lang: lang, Href: withLang(path, lang)})
	}
	if fallback != "" {
		out = append(out, Alternate{Lang: "x-default", Href: withLang(path, fallback)})
	}
	return out
}

func withLang(path, lang string) string {
	q := url.Values{}
	q.Set("hl", lang)
	return path + "?" + q.Encode()
}

// JSON marshals v for a ld+json script block. It returns an empty value on error.
func JSON(v any) template.JS {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return template.JS(b)
}
