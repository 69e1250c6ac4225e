package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-social/backend/internal/metrics"
	"github.com/zhouzirui/z-social/backend/internal/model/chat"
	"github.com/zhouzirui/z-social/backend/internal/model/user"
	"github.com/zhouzirui/z-social/backend/internal/realtime"
	chatsvc "github.com/zhouzirui/z-social/backend/internal/service/chat"
)

// Counter is the read side of the store needed to recompute counts.
type Counter interface {
	CountUnseenNotifications(ctx context.Context, userID int64) (int64, error)
	CountUnseenMessages(ctx context.Context, conversationID, excludeSenderID int64) (int64, error)
}

// Broadcaster fans a payload out to a registry group.
type Broadcaster interface {
	Broadcast(group string, payload []byte) int
}

// Dispatcher turns persistence events into count updates pushed to live
// connections. It never reports failures back to the write path.
type Dispatcher struct {
	counts  Counter
	users   user.Store
	groups  Broadcaster
	log     *zap.Logger
	metrics *metrics.Metrics
}

var _ chatsvc.EventSink = (*Dispatcher)(nil)

// NewDispatcher builds a Dispatcher.
func NewDispatcher(counts Counter, users user.Store, groups Broadcaster, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		counts:  counts,
		users:   users,
		groups:  groups,
		log:     log.With(zap.String("component", "dispatcher")),
		metrics: m,
	}
}

// NotificationsChanged pushes the unseen notification count of userID to the
// user's notification channel.
func (d *Dispatcher) NotificationsChanged(ctx context.Context, userID int64) {
	u, err := d.users.FindByID(ctx, userID)
	if err != nil {
		d.log.Warn("notification recipient lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	count, err := d.counts.CountUnseenNotifications(ctx, userID)
	if err != nil {
		d.log.Error("count unseen notifications failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	d.push(realtime.NotificationGroup(u.Username), count, "notifications")
}

// MessagesChanged pushes the number of unseen messages in conv not sent by
// actorID to the conversation's unseen-count channel.
func (d *Dispatcher) MessagesChanged(ctx context.Context, conv chat.Conversation, actorID int64) {
	count, err := d.counts.CountUnseenMessages(ctx, conv.ID, actorID)
	if err != nil {
		d.log.Error("count unseen messages failed", zap.String("conversation", conv.Name), zap.Error(err))
		return
	}

	d.push(realtime.UnseenGroup(conv.Name), count, "messages")
}

func (d *Dispatcher) push(group string, count int64, event string) {
	payload, err := chat.EncodeFrame(chat.CountUpdate{Count: count})
	if err != nil {
		d.log.Error("encode count update failed", zap.Error(err))
		return
	}
	delivered := d.groups.Broadcast(group, payload)
	d.metrics.Dispatched(event)
	d.log.Debug("count update dispatched",
		zap.String("group", group),
		zap.Int64("count", count),
		zap.Int("delivered", delivered),
	)
}
