package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/z-social/backend/internal/model/user"
)

type fakeCache struct {
	mu     sync.Mutex
	data   map[string]string
	ttls   map[string]time.Duration
	broken bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

var errDown = errors.New("connection refused")

func (c *fakeCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return "", errDown
	}
	v, ok := c.data[key]
	if !ok {
		return "", ErrMiss
	}
	return v, nil
}

func (c *fakeCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return errDown
	}
	c.data[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *fakeCache) Del(_ context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := c.data[k]; ok {
			delete(c.data, k)
			n++
		}
	}
	return n, nil
}

func (c *fakeCache) Ping(context.Context) error { return nil }
func (c *fakeCache) Close() error               { return nil }

type countingStore struct {
	user.Store
	mu    sync.Mutex
	calls int
}

func (s *countingStore) FindByID(ctx context.Context, id int64) (user.User, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.Store.FindByID(ctx, id)
}

func (s *countingStore) FindByUsername(ctx context.Context, username string) (user.User, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.Store.FindByUsername(ctx, username)
}

func TestUserStoreReadThrough(t *testing.T) {
	backing := &countingStore{Store: user.NewMemoryStore(user.Seed())}
	c := newFakeCache()
	store := NewUserStore(backing, c, time.Minute, zaptest.NewLogger(t))
	ctx := context.Background()

	u, err := store.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, 1, backing.calls)
	assert.Contains(t, c.data, "user:id:1")
	assert.Contains(t, c.data, "user:name:alice")
	assert.Equal(t, time.Minute, c.ttls["user:id:1"])

	u, err = store.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)
	assert.Equal(t, 1, backing.calls, "served from cache")

	store.Invalidate(ctx, u)
	_, err = store.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, backing.calls)
}

func TestUserStoreMissesAreNotCached(t *testing.T) {
	c := newFakeCache()
	store := NewUserStore(user.NewMemoryStore(user.Seed()), c, time.Minute, nil)

	_, err := store.FindByUsername(context.Background(), "mallory")
	assert.ErrorIs(t, err, user.ErrNotFound)
	assert.Empty(t, c.data)
}

func TestUserStoreBypassesBrokenCache(t *testing.T) {
	c := newFakeCache()
	c.broken = true
	store := NewUserStore(user.NewMemoryStore(user.Seed()), c, time.Minute, zaptest.NewLogger(t))

	u, err := store.FindByID(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)
}

func TestUserStoreDiscardsCorruptEntries(t *testing.T) {
	c := newFakeCache()
	c.data["user:id:3"] = "{not json"
	store := NewUserStore(user.NewMemoryStore(user.Seed()), c, time.Minute, nil)

	u, err := store.FindByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "carol", u.Username)
	assert.NotEqual(t, "{not json", c.data["user:id:3"])
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	_, err := NewRedisCache(context.Background(), "not-a-redis-url")
	assert.Error(t, err)

	_, err = ConnectWithRetry(context.Background(), "://", time.Second, zaptest.NewLogger(t))
	assert.Error(t, err)
}
