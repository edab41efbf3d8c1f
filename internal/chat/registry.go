package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultIdleTTL = 30 * time.Minute

type session struct {
	setting     *LanguageSetting
	widget      *Widget
	unsubscribe func()
}

// Registry keeps one widget per browser session and evicts widgets left idle.
type Registry struct {
	table      *Table
	resolver   *Resolver
	logger     *zap.Logger
	idleTTL    time.Duration
	now        func() time.Time
	widgetOpts []WidgetOption

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithIdleTTL sets how long a widget may sit untouched before eviction.
func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.idleTTL = ttl
		}
	}
}

// WithWidgetOptions applies opts to every widget the registry creates.
func WithWidgetOptions(opts ...WidgetOption) RegistryOption {
	return func(r *Registry) {
		r.widgetOpts = append(r.widgetOpts, opts...)
	}
}

// WithRegistryLogger sets the registry logger. Widgets inherit it.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryClock overrides the time source used for eviction.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(table *Table, resolver *Resolver, opts ...RegistryOption) *Registry {
	r := &Registry{
		table:    table,
		resolver: resolver,
		logger:   zap.NewNop(),
		idleTTL:  defaultIdleTTL,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Ensure returns the session's widget, creating it in lang when absent. The boolean reports creation.
func (r *Registry) Ensure(sessionID string, lang Language) (*Widget, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, ErrWidgetStopped
	}
	if s, ok := r.sessions[sessionID]; ok {
		return s.widget, false, nil
	}

	setting := NewLanguageSetting(lang)
	opts := append([]WidgetOption{WithLogger(r.logger), WithClock(r.now)}, r.widgetOpts...)
	opts = append(opts, WithLanguage(setting.Get()))
	widget := NewWidget(r.table, r.resolver, opts...)
	s := &session{
		setting: setting,
		widget:  widget,
	}
	s.unsubscribe = setting.Subscribe(func(l Language) {
		widget.SetLanguage(l)
	})
	r.sessions[sessionID] = s

	r.logger.Debug("chat widget created",
		zap.String("widget_id", widget.ID()),
		zap.String("language", string(widget.Language())),
	)
	return widget, true, nil
}

// Widget returns the session's widget if one exists.
func (r *Registry) Widget(sessionID string) (*Widget, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return nil, false
	}
	return s.widget, true
}

// SetLanguage updates the session's language setting, which re-renders its widget.
// It reports whether a session existed.
func (r *Registry) SetLanguage(sessionID string, lang Language) bool {
	r.mu.Lock()
	s, ok := r.sessions[strings.TrimSpace(sessionID)]
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.setting.Set(lang)
	return true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict stops and removes widgets idle for longer than the TTL and returns how many were removed.
func (r *Registry) Evict() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var expired []*session
	for id, s := range r.sessions {
		if s.widget.LastActive().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.unsubscribe()
		s.widget.Stop()
	}
	if len(expired) > 0 {
		r.logger.Debug("chat widgets evicted", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run evicts idle widgets on every tick until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict()
		}
	}
}

// Close stops every widget. Ensure fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.unsubscribe()
		s.widget.Stop()
	}
}
