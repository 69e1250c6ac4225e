package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-social/backend/internal/auth"
	"github.com/zhouzirui/z-social/backend/internal/metrics"
	"github.com/zhouzirui/z-social/backend/internal/middleware"
	"github.com/zhouzirui/z-social/backend/internal/model/chat"
	"github.com/zhouzirui/z-social/backend/internal/model/user"
	"github.com/zhouzirui/z-social/backend/internal/realtime"
	chatService "github.com/zhouzirui/z-social/backend/internal/service/chat"
	"github.com/zhouzirui/z-social/backend/pkg/utils"
)

// Session kinds, used in logs and metrics.
const (
	kindChat         = "chat"
	kindNotification = "notification"
	kindUnseen       = "unseen"
)

// Options tunes transport behaviour of every session.
type Options struct {
	AllowedOrigins []string
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	// OpTimeout bounds each store operation issued on behalf of a frame.
	OpTimeout time.Duration
	ReadLimit int64
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = 2 * o.PingInterval
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	return o
}

// Handler serves the chat, notification and unseen-count websocket routes.
type Handler struct {
	chatSvc  *chatService.Service
	verifier middleware.TokenVerifier
	users    user.Store
	registry *realtime.Registry
	upgrader websocket.Upgrader
	opts     Options
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// New creates the websocket handler.
func New(chatSvc *chatService.Service, verifier middleware.TokenVerifier, users user.Store, registry *realtime.Registry, opts Options, log *zap.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()
	h := &Handler{
		chatSvc:  chatSvc,
		verifier: verifier,
		users:    users,
		registry: registry,
		opts:     opts,
		log:      log.With(zap.String("handler", "websocket")),
		metrics:  m,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || middleware.OriginAllowed(opts.AllowedOrigins, origin) {
				return true
			}
			h.log.Warn("rejected websocket origin", zap.String("origin", origin))
			return false
		},
	}
	return h
}

// RegisterRoutes registers the websocket routes. The unseen-count route is
// also served under its historical "reciever" spelling.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat/{conversationName}", h.handleChat)
	r.Get("/ws/notification/{username}", h.handleNotification)
	r.Get("/ws/notification/receiver/{conversationName}", h.handleUnseen)
	r.Get("/ws/notification/reciever/{conversationName}", h.handleUnseen)
}

// authenticate resolves the caller from the request token. Anonymous callers
// are rejected with 403 before any upgrade.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, kind string) (user.User, bool) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		h.metrics.HandshakeRejected(kind, "missing_token")
		utils.RespondError(w, http.StatusForbidden, "authentication required")
		return user.User{}, false
	}

	u, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		reason := "invalid_token"
		if errors.Is(err, auth.ErrIdentityNotFound) {
			reason = "unknown_identity"
		}
		h.metrics.HandshakeRejected(kind, reason)
		h.log.Debug("handshake rejected", zap.String("route", kind), zap.Error(err))
		utils.RespondError(w, http.StatusForbidden, "authentication required")
		return user.User{}, false
	}
	return u, true
}

// session is the transport half shared by every route: the raw socket read by
// the handler goroutine and the registry handle that owns all writes.
type session struct {
	ws   *websocket.Conn
	conn *realtime.Connection
	kind string
	log  *zap.Logger
}

func (h *Handler) upgrade(w http.ResponseWriter, r *http.Request, kind string, fields ...zap.Field) (*session, bool) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied with an HTTP error.
		h.log.Debug("upgrade failed", zap.String("route", kind), zap.Error(err))
		return nil, false
	}

	wsConn.SetReadLimit(h.opts.ReadLimit)
	_ = wsConn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	conn := realtime.NewConnection(wsConn, realtime.Options{
		SendBuffer:   h.opts.SendBuffer,
		WriteWait:    h.opts.WriteWait,
		PingInterval: h.opts.PingInterval,
	})
	conn.Start()
	h.metrics.SessionOpened(kind)

	fields = append([]zap.Field{zap.String("conn_id", conn.ID()), zap.String("route", kind)}, fields...)
	s := &session{ws: wsConn, conn: conn, kind: kind, log: h.log.With(fields...)}
	s.log.Info("session opened")
	return s, true
}

func (h *Handler) finish(s *session) {
	s.conn.Close(websocket.CloseNormalClosure, "")
	h.metrics.SessionClosed(s.kind)
	s.log.Info("session closed")
}

// send encodes f and queues it on the connection.
func (s *session) send(f chat.Frame) bool {
	payload, err := chat.EncodeFrame(f)
	if err != nil {
		s.log.Error("encode frame failed", zap.Error(err))
		return false
	}
	if err := s.conn.Send(payload); err != nil {
		s.log.Debug("send failed", zap.Error(err))
		return false
	}
	return true
}

// reject closes the socket with code after activation failed.
func (s *session) reject(code int, reason string) {
	s.log.Info("session rejected", zap.Int("close_code", code), zap.String("reason", reason))
	s.conn.Close(code, reason)
}

// next blocks for the next inbound frame. It returns false once the peer is
// gone, the connection was closed locally or the pong deadline passed.
func (s *session) next() ([]byte, bool) {
	_, data, err := s.ws.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			s.log.Debug("read ended", zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

// drain discards inbound frames until the connection ends.
func (s *session) drain() {
	for {
		if _, ok := s.next(); !ok {
			return
		}
	}
}

func (h *Handler) opContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, h.opts.OpTimeout)
}
