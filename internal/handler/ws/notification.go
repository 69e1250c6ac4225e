package ws

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-social/backend/internal/model/chat"
	"github.com/zhouzirui/z-social/backend/internal/model/user"
	"github.com/zhouzirui/z-social/backend/internal/realtime"
)

// handleNotification serves /ws/notification/{username}. The route carries no
// credential; anyone knowing a username can watch its unread count.
func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	s, ok := h.upgrade(w, r, kindNotification, zap.String("username", username))
	if !ok {
		return
	}
	defer h.finish(s)

	ctx, cancel := h.opContext(r.Context())
	u, err := h.users.FindByUsername(ctx, username)
	if err != nil {
		cancel()
		if errors.Is(err, user.ErrNotFound) {
			s.reject(websocket.ClosePolicyViolation, "user not found")
		} else {
			s.log.Error("resolve user failed", zap.Error(err))
			s.reject(websocket.CloseInternalServerErr, "could not resolve user")
		}
		return
	}

	group := realtime.NotificationGroup(u.Username)
	h.registry.Join(group, s.conn)
	defer h.registry.Leave(group, s.conn)

	count, err := h.chatSvc.UnseenNotifications(ctx, u.ID)
	cancel()
	if err != nil {
		s.log.Error("count notifications failed", zap.Error(err))
		s.reject(websocket.CloseInternalServerErr, "could not load notifications")
		return
	}
	if !s.send(chat.CountUpdate{Count: count}) {
		return
	}

	s.drain()
}
