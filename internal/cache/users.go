package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-social/backend/internal/model/user"
)

// UserStore is a read-through cache in front of another user.Store. Cache
// failures never fail a lookup; they are logged and the backing store answers.
type UserStore struct {
	next  user.Store
	cache Cache
	ttl   time.Duration
	log   *zap.Logger
}

var _ user.Store = (*UserStore)(nil)

// NewUserStore wraps next with c.
func NewUserStore(next user.Store, c Cache, ttl time.Duration, log *zap.Logger) *UserStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserStore{next: next, cache: c, ttl: ttl, log: log.With(zap.String("component", "identity_cache"))}
}

func idKey(id int64) string          { return "user:id:" + strconv.FormatInt(id, 10) }
func nameKey(username string) string { return "user:name:" + username }

func (s *UserStore) FindByID(ctx context.Context, id int64) (user.User, error) {
	return s.find(ctx, idKey(id), func() (user.User, error) { return s.next.FindByID(ctx, id) })
}

func (s *UserStore) FindByUsername(ctx context.Context, username string) (user.User, error) {
	return s.find(ctx, nameKey(username), func() (user.User, error) { return s.next.FindByUsername(ctx, username) })
}

// Invalidate drops the cached entries of u.
func (s *UserStore) Invalidate(ctx context.Context, u user.User) {
	if _, err := s.cache.Del(ctx, idKey(u.ID), nameKey(u.Username)); err != nil {
		s.log.Warn("cache invalidate failed", zap.Int64("user_id", u.ID), zap.Error(err))
	}
}

func (s *UserStore) find(ctx context.Context, key string, load func() (user.User, error)) (user.User, error) {
	raw, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var u user.User
		if jsonErr := json.Unmarshal([]byte(raw), &u); jsonErr == nil {
			return u, nil
		}
		s.log.Warn("discarding undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, ErrMiss):
		s.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}

	u, err := load()
	if err != nil {
		return user.User{}, err
	}
	s.store(ctx, u)
	return u, nil
}

func (s *UserStore) store(ctx context.Context, u user.User) {
	data, err := json.Marshal(u)
	if err != nil {
		return
	}
	for _, key := range []string{idKey(u.ID), nameKey(u.Username)} {
		if err := s.cache.Set(ctx, key, string(data), s.ttl); err != nil {
			s.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
			return
		}
	}
}
