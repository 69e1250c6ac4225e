package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/z-social/backend/internal/metrics"
)

type fakeConn struct {
	id string

	mu        sync.Mutex
	frames    [][]byte
	fail      bool
	closed    bool
	closeCode int
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return errors.New("gone")
	}
	f.frames = append(f.frames, payload)
	return nil
}

func (f *fakeConn) Close(code int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
}

func (f *fakeConn) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, b := range f.frames {
		out[i] = string(b)
	}
	return out
}

func TestRegistryJoinIsIdempotent(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), nil)
	a := newFakeConn("a")

	reg.Join("chat_x", a)
	reg.Join("chat_x", a)

	assert.Equal(t, 1, reg.Members("chat_x"))
	assert.Equal(t, 1, reg.Broadcast("chat_x", []byte("hi")))
	assert.Equal(t, []string{"hi"}, a.received())
}

func TestRegistryLeaveUnknownIsNoop(t *testing.T) {
	reg := NewRegistry(nil, nil)
	a := newFakeConn("a")

	reg.Leave("chat_x", a)
	reg.Join("chat_x", a)
	reg.Leave("chat_y", a)

	assert.Equal(t, 1, reg.Members("chat_x"))
	reg.Leave("chat_x", a)
	assert.Equal(t, 0, reg.Members("chat_x"))
}

func TestRegistryBroadcastToEmptyGroup(t *testing.T) {
	reg := NewRegistry(nil, nil)
	assert.Equal(t, 0, reg.Broadcast("nobody", []byte("x")))
}

func TestRegistryBroadcastIsScopedToGroup(t *testing.T) {
	reg := NewRegistry(nil, nil)
	a, b, c := newFakeConn("a"), newFakeConn("b"), newFakeConn("c")
	reg.Join(ChatGroup("alice_bob"), a)
	reg.Join(ChatGroup("alice_bob"), b)
	reg.Join(ChatGroup("carol_bob"), c)

	delivered := reg.Broadcast(ChatGroup("alice_bob"), []byte("m"))

	assert.Equal(t, 2, delivered)
	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)
	assert.Empty(t, c.received())
}

func TestRegistryPrunesFailedMembers(t *testing.T) {
	m := metrics.New()
	reg := NewRegistry(zaptest.NewLogger(t), m)
	ok, broken := newFakeConn("ok"), newFakeConn("broken")
	broken.fail = true
	reg.Join("bob", ok)
	reg.Join("bob", broken)

	delivered := reg.Broadcast("bob", []byte(`{"count":1}`))

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, reg.Members("bob"))
	assert.Equal(t, []string{`{"count":1}`}, ok.received())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PrunedMembers.WithLabelValues("notification")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GroupMembers.WithLabelValues("notification")))
}

func TestRegistryShutdownClosesEveryConnectionOnce(t *testing.T) {
	reg := NewRegistry(nil, nil)
	a, b := newFakeConn("a"), newFakeConn("b")
	reg.Join(ChatGroup("alice_bob"), a)
	reg.Join(UnseenGroup("alice_bob"), a)
	reg.Join("bob", b)

	reg.Shutdown()

	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, 1001, a.closeCode)
}

func TestRegistryConcurrentMembership(t *testing.T) {
	reg := NewRegistry(nil, nil)
	const workers = 32

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := newFakeConn(fmt.Sprintf("c%d", i))
			group := ChatGroup(fmt.Sprintf("room%d", i%4))
			for j := 0; j < 50; j++ {
				reg.Join(group, conn)
				reg.Broadcast(group, []byte("tick"))
				reg.Leave(group, conn)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		assert.Equal(t, 0, reg.Members(ChatGroup(fmt.Sprintf("room%d", i))))
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	require.Empty(t, reg.groups)
}

func TestGroupNames(t *testing.T) {
	assert.Equal(t, "chat_alice_bob", ChatGroup("alice_bob"))
	assert.Equal(t, "messages_alice_bob", UnseenGroup("alice_bob"))
	assert.Equal(t, "bob", NotificationGroup("bob"))

	assert.Equal(t, "chat", namespaceOf(ChatGroup("x")))
	assert.Equal(t, "messages", namespaceOf(UnseenGroup("x")))
	assert.Equal(t, "notification", namespaceOf("bob"))
}
