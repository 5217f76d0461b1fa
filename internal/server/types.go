package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/nexus-chat-server/internal/messagelog"
)

// Inbound frame tags.
const (
	frameIdentify   = "identify"
	frameChat       = "chat"
	frameVisibility = "visibility"
)

// Outbound event tags.
const (
	eventInitial = "initial"
	eventMessage = "message"
)

const visibilityVisible = "visible"

var (
	errMalformedFrame = errors.New("malformed frame")
	errUnknownFrame   = errors.New("unknown frame type")
)

// frame is one decoded client frame: identifyFrame, chatFrame or
// visibilityFrame.
type frame interface {
	frameType() string
}

type identifyFrame struct {
	UserID   string
	Username string
}

type chatFrame struct {
	Draft messagelog.Draft
}

type visibilityFrame struct {
	State  string
	UserID string
}

func (identifyFrame) frameType() string   { return frameIdentify }
func (chatFrame) frameType() string       { return frameChat }
func (visibilityFrame) frameType() string { return frameVisibility }

func (f visibilityFrame) visible() bool {
	return f.State == visibilityVisible
}

// wireFrame is the union of every inbound frame's fields.
type wireFrame struct {
	Type     string          `json:"type"`
	UserID   string          `json:"userId"`
	Username string          `json:"username"`
	Content  json.RawMessage `json:"content"`
	State    string          `json:"state"`
}

// decodeFrame parses raw into its variant. The error wraps errMalformedFrame
// or errUnknownFrame.
func decodeFrame(raw []byte) (frame, error) {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}

	switch w.Type {
	case frameIdentify:
		if strings.TrimSpace(w.UserID) == "" {
			return nil, fmt.Errorf("%w: identify without userId", errMalformedFrame)
		}
		return identifyFrame{UserID: w.UserID, Username: w.Username}, nil

	case frameChat:
		if len(w.Content) == 0 {
			return nil, fmt.Errorf("%w: chat without content", errMalformedFrame)
		}
		var d messagelog.Draft
		if err := json.Unmarshal(w.Content, &d); err != nil {
			return nil, fmt.Errorf("%w: chat content: %v", errMalformedFrame, err)
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformedFrame, err)
		}
		return chatFrame{Draft: d}, nil

	case frameVisibility:
		if w.State == "" {
			return nil, fmt.Errorf("%w: visibility without state", errMalformedFrame)
		}
		return visibilityFrame{State: w.State, UserID: w.UserID}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", errMalformedFrame)
	}
	return nil, fmt.Errorf("%w: %q", errUnknownFrame, w.Type)
}

type initialEvent struct {
	Type     string               `json:"type"`
	Messages []messagelog.Message `json:"messages"`
}

type messageEvent struct {
	Type    string             `json:"type"`
	Message messagelog.Message `json:"message"`
}

func encodeInitial(messages []messagelog.Message) ([]byte, error) {
	if messages == nil {
		messages = []messagelog.Message{}
	}
	return json.Marshal(initialEvent{Type: eventInitial, Messages: messages})
}

func encodeMessage(msg messagelog.Message) ([]byte, error) {
	return json.Marshal(messageEvent{Type: eventMessage, Message: msg})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
