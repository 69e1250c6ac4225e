package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-social/backend/internal/metrics"
	"github.com/zhouzirui/z-social/backend/internal/model/chat"
	"github.com/zhouzirui/z-social/backend/internal/model/user"
)

// Service is the write path for conversations and messages. Every successful
// mutation is reported to the configured EventSink after the store returned.
type Service struct {
	store   Store
	users   user.Store
	events  EventSink
	log     *zap.Logger
	metrics *metrics.Metrics
}

// Option customises a Service.
type Option func(*Service)

// WithEvents routes persistence events to sink.
func WithEvents(sink EventSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.events = sink
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics records persisted messages on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires a Service over the given stores.
func NewService(store Store, users user.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		users:  users,
		events: NopSink{},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("component", "chat_service"))
	return s
}

// SetEvents replaces the event sink. It must be called before the service
// handles traffic.
func (s *Service) SetEvents(sink EventSink) {
	if sink == nil {
		sink = NopSink{}
	}
	s.events = sink
}

// LookupOrCreateConversation returns the conversation between requester and
// the user identified by otherID. A new conversation is named
// "{other}_{requester}". The boolean reports whether it was created.
func (s *Service) LookupOrCreateConversation(ctx context.Context, requester user.User, otherID int64) (chat.Conversation, bool, error) {
	other, err := s.users.FindByID(ctx, otherID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return chat.Conversation{}, false, ErrUserNotFound
		}
		return chat.Conversation{}, false, fmt.Errorf("%w: resolve user %d: %v", ErrPersistence, otherID, err)
	}

	names := chat.ConversationNames(requester.Username, other.Username)
	conv, created, err := s.store.GetOrCreateConversation(ctx, names[1], []user.User{requester, other})
	if err != nil {
		if errors.Is(err, ErrNameConflict) {
			return chat.Conversation{}, false, err
		}
		return chat.Conversation{}, false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if created {
		s.log.Info("conversation created",
			zap.String("conversation", conv.Name),
			zap.Int64("requester", requester.ID),
			zap.Int64("other", other.ID),
		)
	}
	return conv, created, nil
}

// ConversationByName resolves a conversation by its room name.
func (s *Service) ConversationByName(ctx context.Context, name string) (chat.Conversation, error) {
	conv, err := s.store.ConversationByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return chat.Conversation{}, ErrConversationNotFound
		}
		return chat.Conversation{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return conv, nil
}

// OpenConversation loads the history a viewer sees on joining the room and
// marks what the viewer received as seen. The returned history reflects the
// state before the flip.
func (s *Service) OpenConversation(ctx context.Context, name string, viewer user.User) (chat.Conversation, []chat.Message, error) {
	conv, err := s.ConversationByName(ctx, name)
	if err != nil {
		return chat.Conversation{}, nil, err
	}

	history, err := s.store.MessageHistory(ctx, conv.ID)
	if err != nil {
		return chat.Conversation{}, nil, fmt.Errorf("%w: history: %v", ErrPersistence, err)
	}

	res, err := s.store.MarkConversationSeen(ctx, conv.ID, viewer.ID)
	if err != nil {
		// History is still served; unread markers stay until the next open.
		s.log.Warn("mark seen failed", zap.String("conversation", conv.Name), zap.Int64("viewer", viewer.ID), zap.Error(err))
		return conv, history, nil
	}
	if res.Notifications > 0 {
		s.events.NotificationsChanged(ctx, viewer.ID)
	}
	if res.Messages > 0 {
		s.events.MessagesChanged(ctx, conv, viewer.ID)
	}
	return conv, history, nil
}

// SendMessage persists text from sender into the named conversation together
// with one notification per other participant.
func (s *Service) SendMessage(ctx context.Context, conversationName string, sender user.User, text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	conv, err := s.ConversationByName(ctx, conversationName)
	if err != nil {
		return chat.Message{}, err
	}

	msg, notes, err := s.store.CreateMessage(ctx, conv.ID, sender, text)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrConversationNotFound):
			return chat.Message{}, err
		default:
			return chat.Message{}, fmt.Errorf("%w: create message: %v", ErrPersistence, err)
		}
	}
	s.metrics.MessagePersisted()

	for _, note := range notes {
		s.events.NotificationsChanged(ctx, note.UserID)
	}
	s.events.MessagesChanged(ctx, conv, sender.ID)
	return msg, nil
}

// ListConversations returns every conversation userID takes part in.
func (s *Service) ListConversations(ctx context.Context, userID int64) ([]chat.Conversation, error) {
	convs, err := s.store.ConversationsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return convs, nil
}

// UnseenNotifications counts the unseen notifications of userID.
func (s *Service) UnseenNotifications(ctx context.Context, userID int64) (int64, error) {
	count, err := s.store.CountUnseenNotifications(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return count, nil
}

// UnseenMessages counts unseen messages of the conversation not sent by excludeSenderID.
func (s *Service) UnseenMessages(ctx context.Context, conv chat.Conversation, excludeSenderID int64) (int64, error) {
	count, err := s.store.CountUnseenMessages(ctx, conv.ID, excludeSenderID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return count, nil
}
