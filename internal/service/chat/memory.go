package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/z-social/backend/internal/model/chat"
	"github.com/zhouzirui/z-social/backend/internal/model/user"
)

// MemoryStore keeps everything in process memory. Suitable for development and tests.
type MemoryStore struct {
	mu sync.RWMutex

	conversations map[int64]chat.Conversation
	byName        map[string]int64
	byPair        map[pairKey]int64
	messages      map[int64][]chat.Message
	notifications []chat.Notification
	messageConv   map[int64]int64

	nextConversation int64
	nextMessage      int64
	nextNotification int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[int64]chat.Conversation),
		byName:        make(map[string]int64),
		byPair:        make(map[pairKey]int64),
		messages:      make(map[int64][]chat.Message),
		messageConv:   make(map[int64]int64),
	}
}

func (s *MemoryStore) GetOrCreateConversation(_ context.Context, name string, participants []user.User) (chat.Conversation, bool, error) {
	participants = dedupe(participants)
	key := newPairKey(participants)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPair[key]; ok {
		return s.conversations[id], false, nil
	}
	if _, taken := s.byName[name]; taken {
		return chat.Conversation{}, false, ErrNameConflict
	}

	s.nextConversation++
	conv := chat.Conversation{
		ID:           s.nextConversation,
		Name:         name,
		Participants: append([]user.User(nil), participants...),
		CreatedAt:    time.Now().UTC(),
	}
	s.conversations[conv.ID] = conv
	s.byName[name] = conv.ID
	s.byPair[key] = conv.ID
	return conv, true, nil
}

func (s *MemoryStore) ConversationByName(_ context.Context, name string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return chat.Conversation{}, ErrConversationNotFound
	}
	return s.conversations[id], nil
}

func (s *MemoryStore) ConversationsForUser(_ context.Context, userID int64) ([]chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, conversationID int64, sender user.User, text string) (chat.Message, []chat.Notification, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, nil, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return chat.Message{}, nil, ErrConversationNotFound
	}

	now := time.Now().UTC()
	s.nextMessage++
	msg := chat.Message{
		ID:             s.nextMessage,
		ConversationID: conversationID,
		SenderID:       sender.ID,
		SenderUsername: sender.Username,
		Text:           text,
		CreatedAt:      now,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.messageConv[msg.ID] = conversationID

	var notes []chat.Notification
	for _, recipient := range conv.Others(sender.ID) {
		s.nextNotification++
		note := chat.Notification{
			ID:        s.nextNotification,
			MessageID: msg.ID,
			UserID:    recipient.ID,
			CreatedAt: now,
		}
		s.notifications = append(s.notifications, note)
		notes = append(notes, note)
	}
	return msg, notes, nil
}

func (s *MemoryStore) MessageHistory(_ context.Context, conversationID int64) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrConversationNotFound
	}
	// Insertion order is creation order.
	history := make([]chat.Message, len(s.messages[conversationID]))
	copy(history, s.messages[conversationID])
	return history, nil
}

func (s *MemoryStore) MarkConversationSeen(_ context.Context, conversationID, viewerID int64) (chat.SeenResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return chat.SeenResult{}, ErrConversationNotFound
	}

	var res chat.SeenResult
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderID != viewerID && !msgs[i].Seen {
			msgs[i].Seen = true
			res.Messages++
		}
	}
	for i := range s.notifications {
		n := &s.notifications[i]
		if n.UserID == viewerID && !n.Seen && s.messageConv[n.MessageID] == conversationID {
			n.Seen = true
			res.Notifications++
		}
	}
	return res, nil
}

func (s *MemoryStore) CountUnseenNotifications(_ context.Context, userID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, n := range s.notifications {
		if n.UserID == userID && !n.Seen {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountUnseenMessages(_ context.Context, conversationID, excludeSenderID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return 0, ErrConversationNotFound
	}
	var count int64
	for _, m := range s.messages[conversationID] {
		if m.SenderID != excludeSenderID && !m.Seen {
			count++
		}
	}
	return count, nil
}
