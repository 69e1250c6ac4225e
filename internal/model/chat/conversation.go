package chat

import (
	"time"

	"github.com/zhouzirui/z-social/backend/internal/model/user"
)

// Conversation is the named room shared by exactly one unordered pair of participants.
type Conversation struct {
	ID           int64       `json:"id"`
	Name         string      `json:"conversation_name"`
	Participants []user.User `json:"participants,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// HasParticipant reports whether userID is one of the conversation's participants.
func (c Conversation) HasParticipant(userID int64) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Others returns the participants other than userID.
func (c Conversation) Others(userID int64) []user.User {
	out := make([]user.User, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.ID != userID {
			out = append(out, p)
		}
	}
	return out
}

// ConversationNames returns both candidate names for the pair, "{a}_{b}" first.
// Handles containing "_" can make two different pairs produce the same name;
// lookups rely on the participant set to disambiguate.
func ConversationNames(a, b string) []string {
	return []string{a + "_" + b, b + "_" + a}
}
