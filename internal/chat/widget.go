package chat

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMinReplyDelay = time.Second
	defaultMaxReplyDelay = 2 * time.Second
)

var (
	// ErrEmptyMessage is returned by Send when the text is blank after trimming.
	ErrEmptyMessage = errors.New("chat: message is empty")
	// ErrUnknownQuickReply is returned by QuickReply for keys without a label.
	ErrUnknownQuickReply = errors.New("chat: unknown quick reply")
	// ErrWidgetStopped is returned once Stop has been called.
	ErrWidgetStopped = errors.New("chat: widget stopped")
)

// EventType identifies a widget event.
type EventType string

const (
	EventMessage  EventType = "message"
	EventTyping   EventType = "typing"
	EventLanguage EventType = "language"
	EventState    EventType = "state"
)

// Event is delivered to subscribers after each state change, in mutation order.
type Event struct {
	Type     EventType `json:"type"`
	WidgetID string    `json:"widgetId"`
	Message  *Message  `json:"message,omitempty"`
	Typing   bool      `json:"typing"`
	View     *View     `json:"view,omitempty"`
}

// QuickReply is a rendered quick-reply button.
type QuickReply struct {
	Key   Topic  `json:"key"`
	Label string `json:"label"`
}

// View is the rendered widget for its current language.
type View struct {
	ID           string       `json:"id"`
	Language     Language     `json:"language"`
	Open         bool         `json:"open"`
	Typing       bool         `json:"typing"`
	Title        string       `json:"title"`
	Welcome      string       `json:"welcome"`
	Placeholder  string       `json:"placeholder"`
	QuickReplies []QuickReply `json:"quickReplies"`
	Messages     []Message    `json:"messages"`
}

// WidgetOption customises a Widget.
type WidgetOption func(*Widget)

// WithReplyDelay sets the bounds of the randomized typing delay, [min, max).
func WithReplyDelay(min, max time.Duration) WidgetOption {
	return func(w *Widget) {
		if min < 0 {
			min = 0
		}
		if max < min {
			max = min
		}
		w.delay = randomDelay(min, max)
	}
}

// WithDelayFunc replaces the delay source, primarily for tests.
func WithDelayFunc(fn func() time.Duration) WidgetOption {
	return func(w *Widget) {
		if fn != nil {
			w.delay = fn
		}
	}
}

// WithSleeper replaces the context-aware sleep used by the reply worker.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) WidgetOption {
	return func(w *Widget) {
		if fn != nil {
			w.sleep = fn
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) WidgetOption {
	return func(w *Widget) {
		if now != nil {
			w.now = now
		}
	}
}

// WithLogger sets the widget logger.
func WithLogger(logger *zap.Logger) WidgetOption {
	return func(w *Widget) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithLanguage sets the initial language.
func WithLanguage(lang Language) WidgetOption {
	return func(w *Widget) {
		w.lang = LookupLanguage(string(lang))
	}
}

// WithID fixes the widget id.
func WithID(id string) WidgetOption {
	return func(w *Widget) {
		if id = strings.TrimSpace(id); id != "" {
			w.id = id
		}
	}
}

// Widget is one chat widget instance: open state, language, message log and a FIFO reply
// worker. Bot replies are appended in send order; the typing indicator stays on while any
// reply is pending.
type Widget struct {
	id       string
	table    *Table
	resolver *Resolver
	logger   *zap.Logger
	delay    func() time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	// emitMu serialises subscriber delivery so events arrive in mutation order.
	// It is acquired while mu is held, so a subscriber calling any method that
	// takes mu (View and Language included) can deadlock.
	emitMu sync.Mutex

	mu         sync.Mutex
	open       bool
	lang       Language
	pending    []string
	stopped    bool
	lastActive time.Time
	nextSub    int
	subs       map[int]func(Event)

	log Log
}

// NewWidget creates a closed widget whose log starts with the greeting and starts its reply worker.
func NewWidget(table *Table, resolver *Resolver, opts ...WidgetOption) *Widget {
	w := &Widget{
		id:       uuid.NewString(),
		table:    table,
		resolver: resolver,
		logger:   zap.NewNop(),
		delay:    randomDelay(defaultMinReplyDelay, defaultMaxReplyDelay),
		sleep:    sleepContext,
		now:      time.Now,
		lang:     DefaultLanguage,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		subs:     make(map[int]func(Event)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())

	now := w.now()
	w.lastActive = now
	w.log.Append(newMessage(table.Entry(w.lang).Greeting, SenderBot, w.lang, TopicHello, now))

	go w.run()
	return w
}

// ID returns the widget id.
func (w *Widget) ID() string { return w.id }

// Language returns the widget's current language.
func (w *Widget) Language() Language {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lang
}

// LastActive returns the time of the last visitor interaction.
func (w *Widget) LastActive() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActive
}

// Messages returns a copy of the message log.
func (w *Widget) Messages() []Message {
	return w.log.Messages()
}

// Touch marks the widget as in use without changing its state.
func (w *Widget) Touch() {
	w.mu.Lock()
	w.lastActive = w.now()
	w.mu.Unlock()
}

// View renders the widget for its current language.
func (w *Widget) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

// Open shows the widget. Opening an open widget changes nothing.
func (w *Widget) Open() View {
	return w.setOpen(true)
}

// Close hides the widget. Closing a closed widget changes nothing.
func (w *Widget) Close() View {
	return w.setOpen(false)
}

func (w *Widget) setOpen(open bool) View {
	w.mu.Lock()
	w.lastActive = w.now()
	if w.open == open {
		view := w.viewLocked()
		w.mu.Unlock()
		return view
	}
	w.open = open
	view := w.viewLocked()
	w.emitLocked(Event{Type: EventState, View: &view})
	return view
}

// Send appends the trimmed user text to the log and queues a bot reply.
func (w *Widget) Send(text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return Message{}, ErrWidgetStopped
	}
	now := w.now()
	w.lastActive = now
	msg := newMessage(text, SenderUser, w.lang, "", now)
	w.log.Append(msg)
	w.pending = append(w.pending, text)
	events := []Event{{Type: EventMessage, Message: &msg, Typing: true}}
	if len(w.pending) == 1 {
		events = append(events, Event{Type: EventTyping, Typing: true})
	}
	w.emitLocked(events...)

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return msg, nil
}

// QuickReply sends the current language's label for key as if typed.
func (w *Widget) QuickReply(key Topic) (Message, error) {
	label, ok := w.table.QuickReplyLabel(w.Language(), key)
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownQuickReply, key)
	}
	return w.Send(label)
}

// SetLanguage re-renders the widget copy in lang. Existing messages keep their language.
// It reports whether the language changed.
func (w *Widget) SetLanguage(lang Language) bool {
	lang = LookupLanguage(string(lang))

	w.mu.Lock()
	if w.stopped || w.lang == lang {
		w.mu.Unlock()
		return false
	}
	w.lang = lang
	view := w.viewLocked()
	w.emitLocked(Event{Type: EventLanguage, View: &view, Typing: view.Typing})
	return true
}

// Subscribe registers fn for widget events and returns a func that removes it.
// fn runs synchronously during delivery and must not call any Widget method that
// takes w.mu, including View, Language and LastActive. Use the View carried on the Event.
func (w *Widget) Subscribe(fn func(Event)) func() {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

// Stop cancels pending replies and waits for the reply worker to exit. It is idempotent.
func (w *Widget) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.stopped = true
	w.pending = nil
	w.mu.Unlock()

	w.cancel()
	<-w.done
}

// Done is closed once the reply worker has exited.
func (w *Widget) Done() <-chan struct{} {
	return w.done
}

func (w *Widget) viewLocked() View {
	entry := w.table.Entry(w.lang)
	return View{
		ID:           w.id,
		Language:     w.lang,
		Open:         w.open,
		Typing:       len(w.pending) > 0,
		Title:        entry.Title,
		Welcome:      entry.Welcome,
		Placeholder:  entry.Placeholder,
		QuickReplies: entry.quickReplies(),
		Messages:     w.log.Messages(),
	}
}

// emitLocked hands events to subscribers. It must be called with w.mu held and releases it.
func (w *Widget) emitLocked(events ...Event) {
	subs := make([]func(Event), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.emitMu.Lock()
	w.mu.Unlock()
	defer w.emitMu.Unlock()

	for _, event := range events {
		event.WidgetID = w.id
		for _, fn := range subs {
			fn(event)
		}
	}
}

func (w *Widget) run() {
	defer close(w.done)
	for {
		text, ok := w.next()
		if !ok {
			return
		}
		if err := w.sleep(w.ctx, w.delay()); err != nil {
			return
		}

		lang := w.Language()
		reply := w.resolver.Resolve(w.ctx, text, lang)

		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		msg := newMessage(reply.Text, SenderBot, reply.Language, reply.Topic, w.now())
		w.log.Append(msg)
		w.pending = w.pending[1:]
		typing := len(w.pending) > 0
		events := []Event{{Type: EventMessage, Message: &msg, Typing: typing}}
		if !typing {
			events = append(events, Event{Type: EventTyping, Typing: false})
		}
		w.logger.Debug("chat reply appended",
			zap.String("widget_id", w.id),
			zap.String("topic", string(reply.Topic)),
			zap.String("language", string(reply.Language)),
		)
		w.emitLocked(events...)
	}
}

// next blocks until a reply is queued or the widget stops.
func (w *Widget) next() (string, bool) {
	for {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return "", false
		}
		if len(w.pending) > 0 {
			text := w.pending[0]
			w.mu.Unlock()
			return text, true
		}
		w.mu.Unlock()

		select {
		case <-w.ctx.Done():
			return "", false
		case <-w.wake:
		}
	}
}

func randomDelay(min, max time.Duration) func() time.Duration {
	return func() time.Duration {
		if max <= min {
			return min
		}
		return min + rand.N(max-min)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
