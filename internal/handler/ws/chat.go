package ws

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-social/backend/internal/model/chat"
	"github.com/zhouzirui/z-social/backend/internal/model/user"
	"github.com/zhouzirui/z-social/backend/internal/realtime"
	chatService "github.com/zhouzirui/z-social/backend/internal/service/chat"
)

// chatSession is the per-connection state of a conversation room.
type chatSession struct {
	*session
	viewer user.User
	name   string
	group  string
}

// handleChat serves /ws/chat/{conversationName}.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "conversationName")

	viewer, ok := h.authenticate(w, r, kindChat)
	if !ok {
		return
	}

	base, ok := h.upgrade(w, r, kindChat, zap.String("username", viewer.Username), zap.String("conversation", name))
	if !ok {
		return
	}
	defer h.finish(base)

	s := &chatSession{session: base, viewer: viewer, name: name, group: realtime.ChatGroup(name)}

	h.registry.Join(s.group, s.conn)
	defer h.registry.Leave(s.group, s.conn)

	ctx := r.Context()
	if !h.activateChat(ctx, s) {
		return
	}

	for {
		data, ok := s.next()
		if !ok {
			return
		}
		h.handleChatFrame(ctx, s, data)
	}
}

// activateChat sends the history snapshot. It returns false when the session
// was closed instead.
func (h *Handler) activateChat(ctx context.Context, s *chatSession) bool {
	opCtx, cancel := h.opContext(ctx)
	defer cancel()

	_, history, err := h.chatSvc.OpenConversation(opCtx, s.name, s.viewer)
	switch {
	case errors.Is(err, chatService.ErrConversationNotFound):
		s.reject(websocket.ClosePolicyViolation, "conversation not found")
		return false
	case err != nil:
		s.log.Error("open conversation failed", zap.Error(err))
		s.reject(websocket.CloseInternalServerErr, "could not load conversation")
		return false
	}

	return s.send(chat.NewHistorySnapshot(history))
}

// handleChatFrame persists one inbound frame and broadcasts it to the room.
// Failures are reported to the sender only; the connection stays open.
func (h *Handler) handleChatFrame(ctx context.Context, s *chatSession, data []byte) {
	text, err := chat.DecodeInbound(data)
	if err != nil {
		h.metrics.FrameRejected(chat.CodeMalformedFrame)
		s.send(chat.ErrorFrame{Code: chat.CodeMalformedFrame, Detail: err.Error()})
		return
	}

	opCtx, cancel := h.opContext(ctx)
	defer cancel()

	msg, err := h.chatSvc.SendMessage(opCtx, s.name, s.viewer, text)
	if err != nil {
		if errors.Is(err, chatService.ErrEmptyMessage) {
			h.metrics.FrameRejected(chat.CodeMalformedFrame)
			s.send(chat.ErrorFrame{Code: chat.CodeMalformedFrame, Detail: err.Error()})
			return
		}
		h.metrics.FrameRejected(chat.CodePersistenceFailure)
		s.log.Error("persist message failed", zap.Error(err))
		s.send(chat.ErrorFrame{Code: chat.CodePersistenceFailure, Detail: "message could not be stored"})
		return
	}

	payload, err := chat.EncodeFrame(chat.NewMessage(chat.PayloadOf(msg)))
	if err != nil {
		s.log.Error("encode message failed", zap.Error(err))
		return
	}
	delivered := h.registry.Broadcast(s.group, payload)
	s.log.Debug("message broadcast", zap.Int64("message_id", msg.ID), zap.Int("delivered", delivered))
}
