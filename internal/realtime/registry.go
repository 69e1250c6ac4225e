package realtime

import (
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-social/backend/internal/metrics"
)

// Group name prefixes. Notification channels use the bare username.
const (
	chatPrefix   = "chat_"
	unseenPrefix = "messages_"
)

// ChatGroup names the room of a conversation.
func ChatGroup(conversationName string) string { return chatPrefix + conversationName }

// NotificationGroup names the per-user notification channel.
func NotificationGroup(username string) string { return username }

// UnseenGroup names the unseen-count channel of a conversation.
func UnseenGroup(conversationName string) string { return unseenPrefix + conversationName }

func namespaceOf(name string) string {
	switch {
	case strings.HasPrefix(name, chatPrefix):
		return "chat"
	case strings.HasPrefix(name, unseenPrefix):
		return "messages"
	default:
		return "notification"
	}
}

type group struct {
	mu      sync.Mutex
	members map[string]Conn
	// retired is set once the group was emptied and removed from the index;
	// joiners holding a stale pointer must look it up again.
	retired bool
}

// Registry maps group names to the live connections subscribed to them.
// The registry lock only guards the group index; membership changes and
// broadcast snapshots take the lock of the affected group, and payloads are
// sent after every lock has been released.
type Registry struct {
	mu     sync.Mutex
	groups map[string]*group

	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *zap.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		groups:  make(map[string]*group),
		log:     log.With(zap.String("component", "registry")),
		metrics: m,
	}
}

func (r *Registry) lookup(name string, create bool) *group {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.groups[name]
	if g == nil && create {
		g = &group{members: make(map[string]Conn)}
		r.groups[name] = g
	}
	return g
}

// Join subscribes conn to the group. Joining twice is a no-op.
func (r *Registry) Join(name string, conn Conn) {
	for {
		g := r.lookup(name, true)
		g.mu.Lock()
		if g.retired {
			g.mu.Unlock()
			continue
		}
		_, exists := g.members[conn.ID()]
		g.members[conn.ID()] = conn
		g.mu.Unlock()

		if !exists {
			r.metrics.MemberJoined(namespaceOf(name))
		}
		return
	}
}

// Leave unsubscribes conn from the group. Leaving a group one is not part of is a no-op.
func (r *Registry) Leave(name string, conn Conn) {
	r.remove(name, conn.ID())
}

func (r *Registry) remove(name, connID string) bool {
	g := r.lookup(name, false)
	if g == nil {
		return false
	}

	g.mu.Lock()
	_, ok := g.members[connID]
	if ok {
		delete(g.members, connID)
	}
	empty := len(g.members) == 0 && !g.retired
	if empty {
		g.retired = true
	}
	g.mu.Unlock()

	if empty {
		r.mu.Lock()
		if r.groups[name] == g {
			delete(r.groups, name)
		}
		r.mu.Unlock()
	}
	if ok {
		r.metrics.MemberLeft(namespaceOf(name))
	}
	return ok
}

// Broadcast delivers payload to every current member of the group and returns
// the number of successful deliveries. Members whose connection is gone are
// dropped from the group; they never fail the broadcast for the others. An
// empty or unknown group is a silent no-op.
func (r *Registry) Broadcast(name string, payload []byte) int {
	g := r.lookup(name, false)
	if g == nil {
		r.metrics.Broadcast(namespaceOf(name), 0)
		return 0
	}

	g.mu.Lock()
	members := make([]Conn, 0, len(g.members))
	for _, conn := range g.members {
		members = append(members, conn)
	}
	g.mu.Unlock()

	delivered := 0
	var dead []Conn
	for _, conn := range members {
		if err := conn.Send(payload); err != nil {
			dead = append(dead, conn)
			continue
		}
		delivered++
	}

	pruned := 0
	for _, conn := range dead {
		if r.remove(name, conn.ID()) {
			pruned++
		}
	}
	if pruned > 0 {
		r.log.Debug("pruned unreachable members", zap.String("group", name), zap.Int("pruned", pruned))
	}
	r.metrics.Broadcast(namespaceOf(name), pruned)
	return delivered
}

// Members returns the number of connections currently in the group.
func (r *Registry) Members(name string) int {
	g := r.lookup(name, false)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Shutdown closes every member connection. Sessions observe the close through
// their read loop and leave their groups themselves.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	groups := make([]*group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.Unlock()

	seen := make(map[string]Conn)
	for _, g := range groups {
		g.mu.Lock()
		for id, conn := range g.members {
			seen[id] = conn
		}
		g.mu.Unlock()
	}

	for _, conn := range seen {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
	r.log.Info("registry shut down", zap.Int("connections", len(seen)))
}
