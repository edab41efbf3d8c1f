package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cdjcoder/Lennox-Local-GHB/internal/chat"
	mw "github.com/cdjcoder/Lennox-Local-GHB/internal/middleware"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/httpx"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/requestctx"
)

const (
	maxChatBodyBytes = 4 << 10
	eventBufferSize  = 32
	wsWriteTimeout   = 10 * time.Second
	wsPongTimeout    = 60 * time.Second
	wsPingInterval   = 25 * time.Second
)

// ChatHandlers exposes the session's chat widget over JSON and a WebSocket event stream.
type ChatHandlers struct {
	registry       *chat.Registry
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
}

// NewChatHandlers constructs chat handlers. An empty origin list or "*" accepts any origin.
func NewChatHandlers(registry *chat.Registry, allowedOrigins []string) *ChatHandlers {
	origins := make(map[string]bool)
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "" || o == "*" {
			origins = map[string]bool{}
			break
		}
		origins[o] = true
	}
	h := &ChatHandlers{registry: registry, allowedOrigins: origins}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Routes mounts the widget endpoints.
func (h *ChatHandlers) Routes(r chi.Router) {
	r.Post("/widget", h.ensureWidget)
	r.Get("/widget", h.getWidget)
	r.Post("/widget/open", h.openWidget)
	r.Post("/widget/close", h.closeWidget)
	r.Post("/widget/messages", h.sendMessage)
	r.Post("/widget/quick-replies/{key}", h.quickReply)
	r.Put("/widget/language", h.setLanguage)
	r.Get("/widget/events", h.events)
}

func (h *ChatHandlers) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // allow non-browser clients
	}
	return h.allowedOrigins[origin]
}

func (h *ChatHandlers) ensureWidget(w http.ResponseWriter, r *http.Request) {
	widget, created, err := h.registry.Ensure(requestctx.SessionID(r.Context()), mw.Lang(r))
	if err != nil {
		writeChatError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		requestctx.Logger(r.Context()).Info("chat widget created", zap.String("widget_id", widget.ID()))
	}
	httpx.WriteJSON(w, status, widget.View())
}

func (h *ChatHandlers) getWidget(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, widget.View())
}

func (h *ChatHandlers) openWidget(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, widget.Open())
}

func (h *ChatHandlers) closeWidget(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, widget.Close())
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (h *ChatHandlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	var body sendMessageRequest
	if err := decodeJSON(r, &body); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body must be JSON with a text field", http.StatusBadRequest))
		return
	}
	if _, err := widget.Send(body.Text); err != nil {
		writeChatError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, widget.View())
}

func (h *ChatHandlers) quickReply(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	key := chat.Topic(chi.URLParam(r, "key"))
	if _, err := widget.QuickReply(key); err != nil {
		writeChatError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, widget.View())
}

type setLanguageRequest struct {
	Language string `json:"language"`
}

func (h *ChatHandlers) setLanguage(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	var body setLanguageRequest
	if err := decodeJSON(r, &body); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body must be JSON with a language field", http.StatusBadRequest))
		return
	}
	lang, ok := chat.ParseLanguage(body.Language)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("unsupported_language", "language is not supported", http.StatusBadRequest).
			WithDetails(map[string]any{"supported": chat.SupportedLanguages}))
		return
	}
	mw.SetLang(r, lang)
	h.registry.SetLanguage(requestctx.SessionID(r.Context()), lang)
	httpx.WriteJSON(w, http.StatusOK, widget.View())
}

// events streams widget events as JSON frames. Clients may also send {"text": "..."} frames.
func (h *ChatHandlers) events(w http.ResponseWriter, r *http.Request) {
	widget, ok := h.widget(w, r)
	if !ok {
		return
	}
	logger := requestctx.Logger(r.Context()).With(zap.String("widget_id", widget.ID()))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Subscriber delivery must never block the widget; a full buffer drops the client.
	queue := make(chan chat.Event, eventBufferSize)
	overflow := make(chan struct{})
	var overflowed bool
	unsubscribe := widget.Subscribe(func(e chat.Event) {
		if overflowed {
			return
		}
		select {
		case queue <- e:
		default:
			overflowed = true
			close(overflow)
		}
	})
	defer unsubscribe()

	view := widget.View()
	if err := writeFrame(conn, chat.Event{Type: chat.EventState, WidgetID: widget.ID(), Typing: view.Typing, View: &view}); err != nil {
		logger.Debug("websocket initial write failed", zap.Error(err))
		return
	}

	readerDone := make(chan struct{})
	go h.readFrames(conn, widget, logger, readerDone)

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case e := <-queue:
			if err := writeFrame(conn, e); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-overflow:
			logger.Warn("websocket client too slow; closing")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event backlog"), time.Now().Add(wsWriteTimeout))
			return
		case <-widget.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "widget closed"), time.Now().Add(wsWriteTimeout))
			return
		case <-readerDone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *ChatHandlers) readFrames(conn *websocket.Conn, widget *chat.Widget, logger *zap.Logger, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxChatBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		widget.Touch()
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		widget.Touch()
		var incoming sendMessageRequest
		if err := json.Unmarshal(data, &incoming); err != nil {
			logger.Debug("invalid websocket frame", zap.Error(err))
			continue
		}
		if _, err := widget.Send(incoming.Text); err != nil && !errors.Is(err, chat.ErrEmptyMessage) {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, e chat.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(e)
}

func (h *ChatHandlers) widget(w http.ResponseWriter, r *http.Request) (*chat.Widget, bool) {
	widget, ok := h.registry.Widget(requestctx.SessionID(r.Context()))
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("widget_not_found", "no chat widget for this session", http.StatusNotFound))
		return nil, false
	}
	widget.Touch()
	return widget, true
}

func writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		httpx.WriteError(ctx, w, httpx.NewError("empty_message", "message text is required", http.StatusBadRequest))
	case errors.Is(err, chat.ErrUnknownQuickReply):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_quick_reply", "quick reply not found", http.StatusNotFound))
	case errors.Is(err, chat.ErrWidgetStopped):
		httpx.WriteError(ctx, w, httpx.NewError("widget_not_found", "no chat widget for this session", http.StatusNotFound))
	default:
		requestctx.Logger(ctx).Error("chat request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxChatBodyBytes))
	return dec.Decode(dst)
}
