package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors of the realtime subsystem. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions    *prometheus.GaugeVec
	HandshakeRejects  *prometheus.CounterVec
	GroupMembers      *prometheus.GaugeVec
	Broadcasts        *prometheus.CounterVec
	PrunedMembers     *prometheus.CounterVec
	MessagesPersisted prometheus.Counter
	FrameErrors       *prometheus.CounterVec
	Dispatches        *prometheus.CounterVec
}

// New creates the collectors and registers them on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ws_active_sessions",
			Help: "Number of live websocket sessions by kind",
		}, []string{"kind"}),
		HandshakeRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_handshake_rejections_total",
			Help: "Websocket handshakes rejected by reason",
		}, []string{"kind", "reason"}),
		GroupMembers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "registry_group_members",
			Help: "Current group memberships by namespace",
		}, []string{"namespace"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_broadcasts_total",
			Help: "Broadcasts issued by namespace",
		}, []string{"namespace"}),
		PrunedMembers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_pruned_members_total",
			Help: "Unreachable members dropped during broadcast",
		}, []string{"namespace"}),
		MessagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_persisted_total",
			Help: "Chat messages persisted from websocket frames",
		}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_frame_errors_total",
			Help: "Inbound chat frames rejected by error code",
		}, []string{"code"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_dispatched_total",
			Help: "Count updates pushed by the event dispatcher",
		}, []string{"event"}),
	}

	m.registry.MustRegister(
		m.ActiveSessions,
		m.HandshakeRejects,
		m.GroupMembers,
		m.Broadcasts,
		m.PrunedMembers,
		m.MessagesPersisted,
		m.FrameErrors,
		m.Dispatches,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionOpened increments the live session gauge.
func (m *Metrics) SessionOpened(kind string) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(kind).Inc()
}

// SessionClosed decrements the live session gauge.
func (m *Metrics) SessionClosed(kind string) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(kind).Dec()
}

// HandshakeRejected counts a refused connection.
func (m *Metrics) HandshakeRejected(kind, reason string) {
	if m == nil {
		return
	}
	m.HandshakeRejects.WithLabelValues(kind, reason).Inc()
}

// MemberJoined tracks a new group membership.
func (m *Metrics) MemberJoined(namespace string) {
	if m == nil {
		return
	}
	m.GroupMembers.WithLabelValues(namespace).Inc()
}

// MemberLeft tracks a removed group membership.
func (m *Metrics) MemberLeft(namespace string) {
	if m == nil {
		return
	}
	m.GroupMembers.WithLabelValues(namespace).Dec()
}

// Broadcast counts a fan-out and the members pruned during it.
func (m *Metrics) Broadcast(namespace string, pruned int) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(namespace).Inc()
	if pruned > 0 {
		m.PrunedMembers.WithLabelValues(namespace).Add(float64(pruned))
	}
}

// MessagePersisted counts a stored chat message.
func (m *Metrics) MessagePersisted() {
	if m == nil {
		return
	}
	m.MessagesPersisted.Inc()
}

// FrameRejected counts an inbound frame that produced an error frame.
func (m *Metrics) FrameRejected(code string) {
	if m == nil {
		return
	}
	m.FrameErrors.WithLabelValues(code).Inc()
}

// Dispatched counts a count update pushed by the dispatcher.
func (m *Metrics) Dispatched(event string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(event).Inc()
}
