package user

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no user matches the requested identifier.
var ErrNotFound = errors.New("user not found")

// Store resolves user identifiers (numeric id or handle) to User records.
type Store interface {
	FindByID(ctx context.Context, id int64) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
}

// MemoryStore implements Store with an in-memory index, suitable for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[int64]User
	byName map[string]int64
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied users.
func NewMemoryStore(items []User) *MemoryStore {
	s := &MemoryStore{
		byID:   make(map[int64]User, len(items)),
		byName: make(map[string]int64, len(items)),
	}
	for _, item := range items {
		s.Put(item)
	}
	return s
}

// Put inserts or replaces a user.
func (s *MemoryStore) Put(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byID[u.ID]; ok {
		delete(s.byName, prev.Username)
	}
	s.byID[u.ID] = u
	s.byName[u.Username] = u.ID
}

// List returns every known user.
func (s *MemoryStore) List() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, u)
	}
	return out
}

// FindByID looks up a user by numeric identifier.
func (s *MemoryStore) FindByID(_ context.Context, id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// FindByUsername looks up a user by handle.
func (s *MemoryStore) FindByUsername(_ context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.byID[id], nil
}
