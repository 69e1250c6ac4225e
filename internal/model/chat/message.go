package chat

import "time"

// Message is a single text entry in a conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation"`
	SenderID       int64     `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	Text           string    `json:"text"`
	Seen           bool      `json:"is_seen"`
	CreatedAt      time.Time `json:"created_at"`
}

// Notification pairs a Message with one recipient.
type Notification struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"message"`
	UserID    int64     `json:"user"`
	Seen      bool      `json:"is_seen"`
	CreatedAt time.Time `json:"created_at"`
}

// SeenResult reports how many records flipped from unseen to seen.
type SeenResult struct {
	Messages      int64
	Notifications int64
}

// Changed reports whether anything was flipped.
func (r SeenResult) Changed() bool {
	return r.Messages > 0 || r.Notifications > 0
}
