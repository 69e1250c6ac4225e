package chat

import (
	"context"
	"errors"

	"github.com/zhouzirui/z-social/backend/internal/model/chat"
	"github.com/zhouzirui/z-social/backend/internal/model/user"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrEmptyMessage         = errors.New("message text is required")
	// ErrNameConflict means the conversation name is already taken by a different pair.
	ErrNameConflict = errors.New("conversation name already used by another pair")
	ErrPersistence  = errors.New("persistence failure")
)

// Store persists conversations, messages and notifications.
// Implementations must make CreateMessage atomic: the message and its
// notifications become visible together or not at all.
type Store interface {
	// GetOrCreateConversation returns the conversation between the given
	// participants, creating it under name when none exists. The boolean
	// reports whether it was created by this call.
	GetOrCreateConversation(ctx context.Context, name string, participants []user.User) (chat.Conversation, bool, error)
	ConversationByName(ctx context.Context, name string) (chat.Conversation, error)
	ConversationsForUser(ctx context.Context, userID int64) ([]chat.Conversation, error)

	// CreateMessage stores a message and one notification per participant
	// other than the sender.
	CreateMessage(ctx context.Context, conversationID int64, sender user.User, text string) (chat.Message, []chat.Notification, error)
	// MessageHistory returns every message of the conversation ordered by creation time.
	MessageHistory(ctx context.Context, conversationID int64) ([]chat.Message, error)
	// MarkConversationSeen flips messages not sent by viewerID and the
	// viewer's notifications within the conversation to seen.
	MarkConversationSeen(ctx context.Context, conversationID, viewerID int64) (chat.SeenResult, error)

	CountUnseenNotifications(ctx context.Context, userID int64) (int64, error)
	CountUnseenMessages(ctx context.Context, conversationID, excludeSenderID int64) (int64, error)
}

// EventSink receives persistence events after the write that caused them has committed.
type EventSink interface {
	NotificationsChanged(ctx context.Context, userID int64)
	MessagesChanged(ctx context.Context, conversation chat.Conversation, actorID int64)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) NotificationsChanged(context.Context, int64)               {}
func (NopSink) MessagesChanged(context.Context, chat.Conversation, int64) {}

// pairKey identifies the unordered participant set of a conversation.
type pairKey struct{ lo, hi int64 }

func newPairKey(participants []user.User) pairKey {
	var k pairKey
	switch len(participants) {
	case 0:
	case 1:
		k = pairKey{participants[0].ID, participants[0].ID}
	default:
		a, b := participants[0].ID, participants[1].ID
		if a > b {
			a, b = b, a
		}
		k = pairKey{a, b}
	}
	return k
}

// dedupe drops repeated participants, keeping the first occurrence.
func dedupe(participants []user.User) []user.User {
	seen := make(map[int64]bool, len(participants))
	out := make([]user.User, 0, len(participants))
	for _, p := range participants {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}
