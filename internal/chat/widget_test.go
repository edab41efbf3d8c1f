package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gate blocks each reply until the test releases it.
type gate struct {
	ch chan struct{}
}

func newGate() *gate { return &gate{ch: make(chan struct{})} }

func (g *gate) sleep(ctx context.Context, _ time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.ch:
		return nil
	}
}

func (g *gate) release(t *testing.T) {
	t.Helper()
	select {
	case g.ch <- struct{}{}:
	case <-time.After(2 * time.Second):
		t.Fatal("reply worker never waited on the gate")
	}
}

func newTestWidget(t *testing.T, opts ...WidgetOption) (*Widget, *gate) {
	t.Helper()
	_, resolver := newTestResolver(t)
	g := newGate()
	w := NewWidget(resolver.table, resolver, append([]WidgetOption{WithSleeper(g.sleep)}, opts...)...)
	t.Cleanup(w.Stop)
	return w, g
}

func waitForMessages(t *testing.T, w *Widget, n int) []Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(w.Messages()) >= n }, 2*time.Second, 5*time.Millisecond)
	return w.Messages()
}

func TestNewWidgetStartsClosedWithGreeting(t *testing.T) {
	w, _ := newTestWidget(t, WithLanguage(Spanish))

	view := w.View()
	assert.False(t, view.Open)
	assert.False(t, view.Typing)
	assert.Equal(t, Spanish, view.Language)
	assert.Equal(t, "Soporte de Lennox Local Ads", view.Title)
	assert.Equal(t, "Escribe tu mensaje...", view.Placeholder)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, SenderBot, view.Messages[0].Sender)
	assert.Equal(t, "¡Hola! Soy tu asistente de Lennox Local Ads. ¿Cómo puedo ayudarte hoy?", view.Messages[0].Text)

	labels := make([]Topic, 0, len(view.QuickReplies))
	for _, qr := range view.QuickReplies {
		labels = append(labels, qr.Key)
	}
	assert.Equal(t, QuickReplyTopics, labels)
}

func TestWidgetOpenCloseIdempotent(t *testing.T) {
	w, _ := newTestWidget(t)

	var events []Event
	var mu sync.Mutex
	w.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	assert.True(t, w.Open().Open)
	assert.True(t, w.Open().Open)
	assert.False(t, w.Close().Open)
	assert.False(t, w.Close().Open)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, EventState, events[0].Type)
	assert.True(t, events[0].View.Open)
	assert.False(t, events[1].View.Open)
}

func TestWidgetSendRejectsEmptyText(t *testing.T) {
	w, _ := newTestWidget(t)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := w.Send(text)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Len(t, w.Messages(), 1)
	assert.False(t, w.View().Typing)
}

func TestWidgetRepliesInSendOrder(t *testing.T) {
	w, g := newTestWidget(t)
	table := w.table

	first, err := w.Send("  What is your pricing?  ")
	require.NoError(t, err)
	assert.Equal(t, "What is your pricing?", first.Text)
	_, err = w.Send("Which areas do you mail?")
	require.NoError(t, err)

	messages := w.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, SenderUser, messages[1].Sender)
	assert.Equal(t, SenderUser, messages[2].Sender)
	assert.True(t, w.View().Typing)

	g.release(t)
	messages = waitForMessages(t, w, 4)
	assert.Equal(t, table.Response(English, TopicPricing), messages[3].Text)
	assert.True(t, w.View().Typing, "typing stays on while a reply is pending")

	g.release(t)
	messages = waitForMessages(t, w, 5)
	assert.Equal(t, table.Response(English, TopicAreas), messages[4].Text)
	assert.Equal(t, TopicAreas, messages[4].Topic)
	require.Eventually(t, func() bool { return !w.View().Typing }, time.Second, 5*time.Millisecond)
}

func TestWidgetQuickReplySendsLabel(t *testing.T) {
	w, g := newTestWidget(t, WithLanguage(Spanish))

	msg, err := w.QuickReply(TopicPricing)
	require.NoError(t, err)
	assert.Equal(t, "Información de Precios", msg.Text)

	g.release(t)
	messages := waitForMessages(t, w, 3)
	assert.Equal(t, w.table.Response(Spanish, TopicPricing), messages[2].Text)

	_, err = w.QuickReply(Topic("nope"))
	assert.ErrorIs(t, err, ErrUnknownQuickReply)
}

func TestWidgetLanguageToggleKeepsMessages(t *testing.T) {
	w, g := newTestWidget(t)

	_, err := w.Send("hello")
	require.NoError(t, err)
	g.release(t)
	before := waitForMessages(t, w, 3)

	assert.True(t, w.SetLanguage(Spanish))
	assert.False(t, w.SetLanguage(Spanish))

	view := w.View()
	assert.Equal(t, "Soporte de Lennox Local Ads", view.Title)
	assert.Equal(t, "Escribe tu mensaje...", view.Placeholder)
	assert.Equal(t, "¡Bienvenido a Lennox Local Ads! ¿Cómo podemos ayudarte hoy?", view.Welcome)
	assert.Equal(t, "Información de Precios", view.QuickReplies[0].Label)
	assert.Equal(t, before, view.Messages)
	assert.Equal(t, English, view.Messages[2].Language)
}

func TestWidgetReplyUsesLanguageAtReplyTime(t *testing.T) {
	w, g := newTestWidget(t)

	_, err := w.Send("price")
	require.NoError(t, err)
	w.SetLanguage(Spanish)
	g.release(t)

	messages := waitForMessages(t, w, 3)
	assert.Equal(t, English, messages[1].Language)
	assert.Equal(t, Spanish, messages[2].Language)
	assert.Equal(t, w.table.Response(Spanish, TopicPricing), messages[2].Text)
}

func TestWidgetEventsFollowMutationOrder(t *testing.T) {
	w, g := newTestWidget(t)

	events := make(chan Event, 16)
	unsubscribe := w.Subscribe(func(e Event) { events <- e })
	defer unsubscribe()

	_, err := w.Send("hi")
	require.NoError(t, err)
	g.release(t)

	want := []struct {
		typ    EventType
		typing bool
		sender Sender
	}{
		{EventMessage, true, SenderUser},
		{EventTyping, true, ""},
		{EventMessage, false, SenderBot},
		{EventTyping, false, ""},
	}
	for i, expected := range want {
		select {
		case e := <-events:
			assert.Equal(t, expected.typ, e.Type, "event %d", i)
			assert.Equal(t, expected.typing, e.Typing, "event %d", i)
			assert.Equal(t, w.ID(), e.WidgetID)
			if expected.sender != "" {
				require.NotNil(t, e.Message)
				assert.Equal(t, expected.sender, e.Message.Sender)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestWidgetStopCancelsPendingReplies(t *testing.T) {
	w, _ := newTestWidget(t)

	_, err := w.Send("price")
	require.NoError(t, err)

	w.Stop()
	w.Stop()

	select {
	case <-w.Done():
	default:
		t.Fatal("expected worker to have exited")
	}
	assert.Len(t, w.Messages(), 2)
	assert.False(t, w.View().Typing)

	_, err = w.Send("again")
	assert.ErrorIs(t, err, ErrWidgetStopped)
}

func TestRandomDelayStaysInRange(t *testing.T) {
	delay := randomDelay(time.Second, 2*time.Second)
	for i := 0; i < 200; i++ {
		d := delay()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 2*time.Second)
	}
	assert.Equal(t, time.Second, randomDelay(time.Second, time.Second)())
}

func TestSleepContextHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
