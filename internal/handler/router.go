package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-social/backend/internal/handler/conversation"
	"github.com/zhouzirui/z-social/backend/internal/handler/ws"
	"github.com/zhouzirui/z-social/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/z-social/backend/internal/middleware"
	"github.com/zhouzirui/z-social/backend/internal/model/user"
	"github.com/zhouzirui/z-social/backend/internal/realtime"
	chatService "github.com/zhouzirui/z-social/backend/internal/service/chat"
	"github.com/zhouzirui/z-social/backend/pkg/utils"
)

// Dependencies are the services the router wires into handlers.
type Dependencies struct {
	Chat      *chatService.Service
	Verifier  middlewarePkg.TokenVerifier
	Users     user.Store
	Registry  *realtime.Registry
	WebSocket ws.Options
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// NewRouter wires HTTP and websocket routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(middlewarePkg.CORS(deps.WebSocket.AllowedOrigins))

	wsHandler := ws.New(deps.Chat, deps.Verifier, deps.Users, deps.Registry, deps.WebSocket, deps.Log, deps.Metrics)
	wsHandler.RegisterRoutes(r)

	conversationHandler := conversation.New(deps.Chat, deps.Verifier, deps.Log)
	r.Route("/api", func(api chi.Router) {
		conversationHandler.RegisterRoutes(api)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	return r
}
