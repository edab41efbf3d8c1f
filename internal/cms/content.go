package cms

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"gopkg.in/yaml.v3"
)

const (
	defaultContentDir = "content"
	defaultLang       = "en"
)

// ErrNotFound is returned when no sections exist for a language or its fallback.
var ErrNotFound = errors.New("cms: not found")

// Section is one block of the landing page, authored as markdown with YAML front matter.
type Section struct {
	Slug    string
	Lang    string
	Title   string
	Anchor  string
	Order   int
	Summary string
	HTML    template.HTML
}

type sectionFrontMatter struct {
	Title   string `yaml:"title"`
	Anchor  string `yaml:"anchor"`
	Order   int    `yaml:"order"`
	Summary string `yaml:"summary"`
	Lang    string `yaml:"lang"`
}

// Library loads and caches rendered landing page sections from <dir>/<lang>/*.md.
type Library struct {
	dir      string
	ttl      time.Duration
	now      func() time.Time
	markdown goldmark.Markdown
	policy   *bluemonday.Policy

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	sections []Section
	expires  time.Time
}

// Option customises a Library.
type Option func(*Library)

// WithCacheTTL sets how long rendered sections are reused. Zero disables caching, which suits dev mode.
func WithCacheTTL(ttl time.Duration) Option {
	return func(l *Library) {
		if ttl >= 0 {
			l.ttl = ttl
		}
	}
}

// WithClock overrides the clock used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Library) {
		if now != nil {
			l.now = now
		}
	}
}

// New constructs a Library rooted at dir.
func New(dir string, opts ...Option) *Library {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = defaultContentDir
	}
	l := &Library{
		dir: dir,
		ttl: 5 * time.Minute,
		now: time.Now,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Typographer),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
		policy: bluemonday.UGCPolicy(),
		cache:  map[string]cacheEntry{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Sections returns the sections for lang ordered by their front matter, falling back to English.
func (l *Library) Sections(lang string) ([]Section, error) {
	lang = normalizeLang(lang)
	if sections, ok := l.cached(lang); ok {
		return sections, nil
	}

	priority := []string{lang}
	if lang != defaultLang {
		priority = append(priority, defaultLang)
	}
	for _, candidate := range priority {
		sections, err := l.readDir(candidate)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		l.store(lang, sections)
		return cloneSections(sections), nil
	}
	return nil, ErrNotFound
}

// Render converts markdown to sanitised HTML.
func (l *Library) Render(markdown string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := l.markdown.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("cms: render markdown: %w", err)
	}
	return template.HTML(l.policy.SanitizeBytes(buf.Bytes())), nil
}

func (l *Library) readDir(lang string) ([]Section, error) {
	dir := filepath.Join(l.dir, lang)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var sections []Section
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		section, err := l.readSection(filepath.Join(dir, entry.Name()), lang)
		if err != nil {
			return nil, err
		}
		sections = append(sections, section)
	}
	if len(sections) == 0 {
		return nil, ErrNotFound
	}
	sort.SliceStable(sections, func(i, j int) bool {
		if sections[i].Order == sections[j].Order {
			return sections[i].Slug < sections[j].Slug
		}
		return sections[i].Order < sections[j].Order
	})
	return sections, nil
}

func (l *Library) readSection(file, lang string) (Section, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Section{}, err
	}
	fm, body := splitFrontMatter(string(data))
	front := sectionFrontMatter{}
	if strings.TrimSpace(fm) != "" {
		if err := yaml.Unmarshal([]byte(fm), &front); err != nil {
			return Section{}, fmt.Errorf("cms: parse front matter %s: %w", file, err)
		}
	}
	html, err := l.Render(body)
	if err != nil {
		return Section{}, fmt.Errorf("%s: %w", file, err)
	}
	slug := strings.TrimSuffix(filepath.Base(file), ".md")
	section := Section{
		Slug:    slug,
		Lang:    firstNonEmpty(strings.TrimSpace(front.Lang), lang),
		Title:   strings.TrimSpace(front.Title),
		Anchor:  firstNonEmpty(strings.TrimSpace(front.Anchor), slug),
		Order:   front.Order,
		Summary: strings.TrimSpace(front.Summary),
		HTML:    html,
	}
	if section.Title == "" {
		section.Title = prettifySlug(slug)
	}
	return section, nil
}

func (l *Library) cached(lang string) ([]Section, bool) {
	if l.ttl == 0 {
		return nil, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.cache[lang]
	if !ok || l.now().After(entry.expires) {
		return nil, false
	}
	return cloneSections(entry.sections), true
}

func (l *Library) store(lang string, sections []Section) {
	if l.ttl == 0 {
		return
	}
	l.mu.Lock()
	l.cache[lang] = cacheEntry{sections: cloneSections(sections), expires: l.now().Add(l.ttl)}
	l.mu.Unlock()
}

func cloneSections(in []Section) []Section {
	out := make([]Section, len(in))
	copy(out, in)
	return out
}

func splitFrontMatter(input string) (string, string) {
	input = strings.TrimLeft(input, "\ufeff")
	lines := strings.Split(input, "\n")
	if len(lines) == 0 {
		return "", ""
	}
	if strings.TrimSpace(lines[0]) != "---" {
		return "", input
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			fm := strings.Join(lines[1:i], "\n")
			body := strings.Join(lines[i+1:], "\n")
			return fm, strings.TrimLeft(body, "\n\r")
		}
	}
	return "", input
}

func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if lang == "" {
		return defaultLang
	}
	return lang
}

func prettifySlug(slug string) string {
	parts := strings.Split(strings.TrimSpace(slug), "-")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
