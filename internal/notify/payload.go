package notify

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Tyrowin/nexus-chat-server/internal/messagelog"
)

const (
	unknownSender = "Unknown User"
	imageBody     = "Sent an image"
	fallbackBody  = "New message"
)

// Payload is the JSON document pushed to an offline recipient. The service
// worker on the client reads title and body for the system notification and
// data for the click-through.
type Payload struct {
	Title     string      `json:"title"`
	Body      string      `json:"body"`
	Timestamp time.Time   `json:"timestamp"`
	MessageID string      `json:"messageId"`
	SenderID  string      `json:"senderId"`
	Badge     int         `json:"badge"`
	Data      PayloadData `json:"data"`
}

// PayloadData identifies the message a notification click should open.
type PayloadData struct {
	MessageID      string    `json:"messageId"`
	Timestamp      time.Time `json:"timestamp"`
	SenderID       string    `json:"senderId"`
	SenderUsername string    `json:"senderUsername"`
}

// NewPayload builds the notification for msg.
func NewPayload(msg messagelog.Message) Payload {
	title := strings.TrimSpace(msg.SenderName)
	if title == "" {
		title = unknownSender
	}

	body := msg.Content
	switch {
	case msg.IsImage():
		body = imageBody
	case strings.TrimSpace(body) == "":
		body = fallbackBody
	}

	return Payload{
		Title:     title,
		Body:      body,
		Timestamp: msg.Timestamp,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Badge:     1,
		Data: PayloadData{
			MessageID:      msg.ID,
			Timestamp:      msg.Timestamp,
			SenderID:       msg.SenderID,
			SenderUsername: title,
		},
	}
}

func (p Payload) encode() ([]byte, error) {
	return json.Marshal(p)
}
