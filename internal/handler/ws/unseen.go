package ws

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-social/backend/internal/model/chat"
	"github.com/zhouzirui/z-social/backend/internal/realtime"
	chatService "github.com/zhouzirui/z-social/backend/internal/service/chat"
)

// handleUnseen serves /ws/notification/receiver/{conversationName}: the number
// of unseen messages in the conversation not sent by the caller.
func (h *Handler) handleUnseen(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "conversationName")

	viewer, ok := h.authenticate(w, r, kindUnseen)
	if !ok {
		return
	}

	s, ok := h.upgrade(w, r, kindUnseen, zap.String("username", viewer.Username), zap.String("conversation", name))
	if !ok {
		return
	}
	defer h.finish(s)

	ctx, cancel := h.opContext(r.Context())
	conv, err := h.chatSvc.ConversationByName(ctx, name)
	if err != nil {
		cancel()
		if errors.Is(err, chatService.ErrConversationNotFound) {
			s.reject(websocket.ClosePolicyViolation, "conversation not found")
		} else {
			s.log.Error("load conversation failed", zap.Error(err))
			s.reject(websocket.CloseInternalServerErr, "could not load conversation")
		}
		return
	}

	group := realtime.UnseenGroup(conv.Name)
	h.registry.Join(group, s.conn)
	defer h.registry.Leave(group, s.conn)

	count, err := h.chatSvc.UnseenMessages(ctx, conv, viewer.ID)
	cancel()
	if err != nil {
		s.log.Error("count unseen messages failed", zap.Error(err))
		s.reject(websocket.CloseInternalServerErr, "could not load unseen messages")
		return
	}
	if !s.send(chat.CountUpdate{Count: count}) {
		return
	}

	s.drain()
}
