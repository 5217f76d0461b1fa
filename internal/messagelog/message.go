// Package messagelog holds the bounded in-memory chat log that backs the
// initial sync sent to new connections and the gap-fill endpoint used by
// reconnecting clients.
package messagelog

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// MessageType distinguishes plain text from image messages.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
)

// StatusSent is the status every stored message starts with.
const StatusSent = "sent"

var errEmptyContent = errors.New("message content is empty")

// Reactions maps an emoji to the ids of the users who reacted with it.
type Reactions map[string][]string

// Message is a stored chat message as delivered to clients.
type Message struct {
	ID             string      `json:"id"`
	Content        string      `json:"content"`
	SenderID       string      `json:"senderId"`
	SenderName     string      `json:"senderName"`
	Type           MessageType `json:"type"`
	Status         string      `json:"status"`
	Timestamp      time.Time   `json:"timestamp"`
	Reactions      Reactions   `json:"reactions"`
	ReplyTo        *string     `json:"replyTo"`
	ReplyToContent *string     `json:"replyToContent"`
}

// Draft is the client-supplied part of a message, before the server assigns
// its id, timestamp and status.
type Draft struct {
	Content        string      `json:"content"`
	SenderID       string      `json:"senderId"`
	SenderName     string      `json:"senderName"`
	Type           MessageType `json:"type"`
	Status         string      `json:"status,omitempty"`
	Reactions      Reactions   `json:"reactions,omitempty"`
	ReplyTo        *string     `json:"replyTo"`
	ReplyToContent *string     `json:"replyToContent"`
}

// Validate reports whether the draft can be appended. An empty type is
// accepted and treated as text.
func (d Draft) Validate() error {
	switch d.Type {
	case "", TypeText, TypeImage:
	default:
		return fmt.Errorf("unsupported message type %q", d.Type)
	}
	if strings.TrimSpace(d.Content) == "" {
		return errEmptyContent
	}
	return nil
}

// IsImage reports whether the message carries an image reference.
func (m Message) IsImage() bool {
	return m.Type == TypeImage
}

func (m Message) clone() Message {
	out := m
	out.Reactions = m.Reactions.clone()
	if m.ReplyTo != nil {
		v := *m.ReplyTo
		out.ReplyTo = &v
	}
	if m.ReplyToContent != nil {
		v := *m.ReplyToContent
		out.ReplyToContent = &v
	}
	return out
}

func (r Reactions) clone() Reactions {
	out := make(Reactions, len(r))
	for emoji, users := range r {
		out[emoji] = slices.Clone(users)
	}
	return out
}
