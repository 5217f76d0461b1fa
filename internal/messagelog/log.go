package messagelog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of messages retained when no capacity is
// configured.
const DefaultCapacity = 100

// Log is a bounded, append-only message sequence. Once it holds more than
// its capacity the oldest entries are evicted first.
type Log struct {
	mu       sync.RWMutex
	messages []Message
	capacity int
	now      func() time.Time
}

// New returns an empty log retaining at most capacity messages. A
// non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		messages: make([]Message, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Capacity returns the maximum number of retained messages.
func (l *Log) Capacity() int {
	return l.capacity
}

// Len returns the number of messages currently retained.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Append stores a new message built from the draft and returns it with the
// server-assigned id, timestamp and status filled in.
func (l *Log) Append(d Draft) Message {
	msg := Message{
		ID:             "msg_" + uuid.NewString(),
		Content:        d.Content,
		SenderID:       d.SenderID,
		SenderName:     d.SenderName,
		Type:           d.Type,
		Status:         StatusSent,
		Reactions:      d.Reactions.clone(),
		ReplyTo:        d.ReplyTo,
		ReplyToContent: d.ReplyToContent,
	}
	if msg.Type == "" {
		msg.Type = TypeText
	}
	msg = msg.clone()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Timestamps are strictly increasing so a client holding the timestamp
	// of the last message it saw never skips a same-instant successor.
	ts := l.now().UTC().Round(0)
	if n := len(l.messages); n > 0 {
		if last := l.messages[n-1].Timestamp; !ts.After(last) {
			ts = last.Add(time.Nanosecond)
		}
	}
	msg.Timestamp = ts

	l.messages = append(l.messages, msg)
	if over := len(l.messages) - l.capacity; over > 0 {
		clear(l.messages[:over])
		l.messages = append(l.messages[:0], l.messages[over:]...)
	}

	return msg.clone()
}

// Since returns every message with a timestamp strictly after since, in log
// order. A nil since returns the whole log.
func (l *Log) Since(since *time.Time) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Message, 0, len(l.messages))
	for _, msg := range l.messages {
		if since != nil && !msg.Timestamp.After(*since) {
			continue
		}
		out = append(out, msg.clone())
	}
	return out
}
