package main

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cdjcoder/Lennox-Local-GHB/internal/chat"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/handlers"
	mw "github.com/cdjcoder/Lennox-Local-GHB/internal/middleware"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/requestctx"
)

// pages parses the layout templates once, or on every request in dev mode.
type pages struct {
	dir   string
	dev   bool
	cache *template.Template
}

func newPages(dir string, dev bool) (*pages, error) {
	p := &pages{dir: dir, dev: dev}
	tc, err := p.parse()
	if err != nil {
		return nil, err
	}
	p.cache = tc
	return p, nil
}

func (p *pages) parse() (*template.Template, error) {
	funcMap := template.FuncMap{
		"now": time.Now,
		"isBot": func(s chat.Sender) bool {
			return s == chat.SenderBot
		},
	}
	// ParseGlob doesn't support **, so walk the tree.
	var files []string
	if err := filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".tmpl") {
			files = append(files, path)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no templates found under %s", p.dir)
	}
	return template.New("_root").Funcs(funcMap).ParseFiles(files...)
}

// render executes the base layout into a buffer so template errors never leak a partial page.
func (p *pages) render(w http.ResponseWriter, r *http.Request, data any) {
	t := p.cache
	if p.dev {
		tc, err := p.parse()
		if err != nil {
			http.Error(w, fmt.Sprintf("template parse error: %v", err), http.StatusInternalServerError)
			return
		}
		t = tc
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", data); err != nil {
		requestctx.Logger(r.Context()).Error("template exec failed", zap.Error(err))
		http.Error(w, "template exec error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// home renders the landing page with the visitor's widget, or a closed preview when none exists yet.
func (a *app) home(w http.ResponseWriter, r *http.Request) {
	lang := mw.Lang(r)
	sessionID := requestctx.SessionID(r.Context())

	view := a.table.Preview(lang, time.Now())
	if widget, ok := a.registry.Widget(sessionID); ok {
		widget.Touch()
		view = widget.View()
	}

	sections, err := a.content.Sections(string(lang))
	if err != nil {
		requestctx.Logger(r.Context()).Warn("content sections unavailable", zap.Error(err))
	}

	a.pages.render(w, r, handlers.BuildHomeData(handlers.HomeInput{
		Lang:         lang,
		Translate:    a.bundle.Translator(string(lang)),
		Sections:     sections,
		Chat:         view,
		CSRFToken:    mw.CSRFToken(r),
		OwnerEmail:   a.cfg.Site.OwnerEmail,
		ContactPhone: a.cfg.Site.ContactPhone,
		Path:         r.URL.Path,
	}))
}
