package chat

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Sender tags who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is an immutable chat log entry.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Language  Language  `json:"language"`
	Topic     Topic     `json:"topic,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func newMessage(text string, sender Sender, lang Language, topic Topic, now time.Time) Message {
	return Message{
		ID:        ulid.Make().String(),
		Text:      text,
		Sender:    sender,
		Language:  lang,
		Topic:     topic,
		CreatedAt: now.UTC(),
	}
}

// Log is an append-only, ordered message list.
type Log struct {
	mu       sync.RWMutex
	messages []Message
}

// Append adds m at the end of the log.
func (l *Log) Append(m Message) {
	l.mu.Lock()
	l.messages = append(l.messages, m)
	l.mu.Unlock()
}

// Messages returns a copy of the log in insertion order.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len reports the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}
