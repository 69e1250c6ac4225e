package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrMalformedFrame is returned when an inbound chat frame cannot be interpreted.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one of the server->client payloads. The set is closed.
type Frame interface {
	frame()
}

// MessagePayload is the wire form of a Message.
type MessagePayload struct {
	SenderUsername string `json:"sender_username"`
	Text           string `json:"text"`
	Conversation   int64  `json:"conversation"`
}

// HistorySnapshot is the ordered history sent once when a chat session activates.
type HistorySnapshot []MessagePayload

// NewMessage is broadcast to a room when a message has been persisted.
type NewMessage MessagePayload

// CountUpdate carries an unread counter.
type CountUpdate struct {
	Count int64 `json:"count"`
}

// ErrorFrame reports a per-frame failure without closing the connection.
type ErrorFrame struct {
	Code   string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (HistorySnapshot) frame() {}
func (NewMessage) frame()      {}
func (CountUpdate) frame()     {}
func (ErrorFrame) frame()      {}

// Error codes carried by ErrorFrame.
const (
	CodeMalformedFrame     = "malformed_frame"
	CodePersistenceFailure = "persistence_failure"
)

// PayloadOf converts a stored message into its wire form.
func PayloadOf(m Message) MessagePayload {
	return MessagePayload{
		SenderUsername: m.SenderUsername,
		Text:           m.Text,
		Conversation:   m.ConversationID,
	}
}

// NewHistorySnapshot builds a snapshot preserving the order of messages.
func NewHistorySnapshot(messages []Message) HistorySnapshot {
	out := make(HistorySnapshot, 0, len(messages))
	for _, m := range messages {
		out = append(out, PayloadOf(m))
	}
	return out
}

// EncodeFrame serializes a frame into its JSON wire form.
func EncodeFrame(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case HistorySnapshot:
		if v == nil {
			v = HistorySnapshot{}
		}
		return json.Marshal([]MessagePayload(v))
	case NewMessage:
		return json.Marshal(MessagePayload(v))
	case CountUpdate, ErrorFrame:
		return json.Marshal(v)
	default:
		return nil, errors.New("unknown frame type")
	}
}

type inboundObject struct {
	Text    *string `json:"text"`
	Message *string `json:"message"`
}

// DecodeInbound extracts the message text from a client chat frame. Accepted
// forms are an object with "text" (or "message"), a JSON string, or bare
// non-JSON text.
func DecodeInbound(data []byte) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", ErrMalformedFrame
	}

	var text string
	switch trimmed[0] {
	case '{':
		var obj inboundObject
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return "", ErrMalformedFrame
		}
		switch {
		case obj.Text != nil:
			text = *obj.Text
		case obj.Message != nil:
			text = *obj.Message
		default:
			return "", ErrMalformedFrame
		}
	case '"':
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return "", ErrMalformedFrame
		}
	case '[':
		return "", ErrMalformedFrame
	default:
		text = string(trimmed)
	}

	if strings.TrimSpace(text) == "" {
		return "", ErrMalformedFrame
	}
	return text, nil
}
