package cms

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSection(t *testing.T, dir, lang, name, body string) {
	t.Helper()
	path := filepath.Join(dir, lang)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, name), []byte(body), 0o644))
}

func TestSectionsOrderedAndSanitised(t *testing.T) {
	dir := t.TempDir()
	writeSection(t, dir, "en", "pricing.md", "---\ntitle: Pricing\norder: 2\n---\nSpots start at **$99**.\n")
	writeSection(t, dir, "en", "how-it-works.md", "---\norder: 1\nanchor: how\n---\n<script>alert(1)</script>\n\n1. Reserve\n2. Design\n")
	writeSection(t, dir, "en", "notes.txt", "ignored")

	sections, err := New(dir).Sections("en")
	require.NoError(t, err)
	require.Len(t, sections, 2)

	assert.Equal(t, "how-it-works", sections[0].Slug)
	assert.Equal(t, "How It Works", sections[0].Title)
	assert.Equal(t, "how", sections[0].Anchor)
	assert.NotContains(t, string(sections[0].HTML), "<script>")
	assert.Contains(t, string(sections[0].HTML), "<ol>")

	assert.Equal(t, "Pricing", sections[1].Title)
	assert.Contains(t, string(sections[1].HTML), "<strong>$99</strong>")
}

func TestSectionsFallBackToEnglish(t *testing.T) {
	dir := t.TempDir()
	writeSection(t, dir, "en", "intro.md", "Hello")

	sections, err := New(dir).Sections("es-MX")
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "en", sections[0].Lang)

	_, err = New(t.TempDir()).Sections("es")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSectionsCacheHonoursTTL(t *testing.T) {
	dir := t.TempDir()
	writeSection(t, dir, "en", "intro.md", "first")

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lib := New(dir, WithCacheTTL(time.Minute), WithClock(func() time.Time { return now }))

	sections, err := lib.Sections("en")
	require.NoError(t, err)
	assert.Contains(t, string(sections[0].HTML), "first")

	writeSection(t, dir, "en", "intro.md", "second")
	sections, err = lib.Sections("en")
	require.NoError(t, err)
	assert.Contains(t, string(sections[0].HTML), "first", "cached copy expected")

	now = now.Add(2 * time.Minute)
	sections, err = lib.Sections("en")
	require.NoError(t, err)
	assert.Contains(t, string(sections[0].HTML), "second")
}

func TestBundledContentCoversBothLanguages(t *testing.T) {
	lib := New("../../content", WithCacheTTL(0))
	english, err := lib.Sections("en")
	require.NoError(t, err)
	spanish, err := lib.Sections("es")
	require.NoError(t, err)

	require.Equal(t, len(english), len(spanish))
	for i := range english {
		assert.Equal(t, english[i].Anchor, spanish[i].Anchor)
		assert.Equal(t, "es", spanish[i].Lang)
		assert.False(t, strings.TrimSpace(string(spanish[i].HTML)) == "")
	}
}
