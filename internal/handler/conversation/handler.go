package conversation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-social/backend/internal/middleware"
	"github.com/zhouzirui/z-social/backend/internal/model/chat"
	chatService "github.com/zhouzirui/z-social/backend/internal/service/chat"
	"github.com/zhouzirui/z-social/backend/pkg/utils"
)

// Handler 会话相关的 HTTP 处理器
type Handler struct {
	chatSvc  *chatService.Service
	verifier middleware.TokenVerifier
	log      *zap.Logger
}

// New 创建会话处理器
func New(chatSvc *chatService.Service, verifier middleware.TokenVerifier, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{chatSvc: chatSvc, verifier: verifier, log: log.With(zap.String("handler", "conversation"))}
}

// RegisterRoutes 注册会话路由，全部需要 Bearer 令牌
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser(h.verifier))
		r.Get("/conversations", h.handleList)
		r.Get("/conversations/{userID}", h.handleRetrieve)
	})
}

type participantView struct {
	ID           int64   `json:"id"`
	Username     string  `json:"username"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	ProfileImage *string `json:"profile_image"`
}

type conversationView struct {
	ConversationName string            `json:"conversation_name"`
	Participants     []participantView `json:"participants"`
}

type conversationName struct {
	ConversationName string `json:"conversation_name"`
}

type retrieveResponse struct {
	Msg              string           `json:"msg"`
	ConversationName conversationName `json:"conversation_name"`
}

func viewOf(conv chat.Conversation, viewer int64) conversationView {
	others := conv.Others(viewer)
	out := conversationView{ConversationName: conv.Name, Participants: make([]participantView, 0, len(others))}
	for _, p := range others {
		out.Participants = append(out.Participants, participantView{
			ID:        p.ID,
			Username:  p.Username,
			FirstName: p.FirstName,
			LastName:  p.LastName,
		})
	}
	return out
}

// handleList 列出当前用户参与的会话，参与者中不包含自己
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	viewer, _ := middleware.UserFromContext(r.Context())

	convs, err := h.chatSvc.ListConversations(r.Context(), viewer.ID)
	if err != nil {
		h.log.Error("list conversations failed", zap.Int64("user_id", viewer.ID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "could not load conversations")
		return
	}

	views := make([]conversationView, 0, len(convs))
	for _, conv := range convs {
		views = append(views, viewOf(conv, viewer.ID))
	}
	utils.RespondJSON(w, http.StatusOK, views)
}

// handleRetrieve 查找或创建与指定用户的会话
func (h *Handler) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	viewer, _ := middleware.UserFromContext(r.Context())

	otherID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		utils.RespondJSON(w, http.StatusNotFound, map[string]string{"msg": "User does not exist"})
		return
	}

	conv, created, err := h.chatSvc.LookupOrCreateConversation(r.Context(), viewer, otherID)
	switch {
	case errors.Is(err, chatService.ErrUserNotFound):
		utils.RespondJSON(w, http.StatusNotFound, map[string]string{"msg": "User does not exist"})
		return
	case errors.Is(err, chatService.ErrNameConflict):
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.log.Error("lookup or create conversation failed", zap.Int64("user_id", viewer.ID), zap.Int64("other_id", otherID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "could not open conversation")
		return
	}

	resp := retrieveResponse{
		Msg:              "conversation already exists",
		ConversationName: conversationName{ConversationName: conv.Name},
	}
	status := http.StatusOK
	if created {
		resp.Msg = "conversation created"
		status = http.StatusCreated
	}
	utils.RespondJSON(w, status, resp)
}
