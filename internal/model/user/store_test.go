package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLookups(t *testing.T) {
	store := NewMemoryStore(Seed("alice", "bob"))
	ctx := context.Background()

	bob, err := store.FindByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), bob.ID)

	byID, err := store.FindByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", byID.Username)
}

func TestMemoryStoreNotFound(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	_, err := store.FindByID(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorePutReplacesHandle(t *testing.T) {
	store := NewMemoryStore([]User{{ID: 7, Username: "old"}})
	store.Put(User{ID: 7, Username: "new"})

	_, err := store.FindByUsername(context.Background(), "old")
	assert.ErrorIs(t, err, ErrNotFound)

	u, err := store.FindByUsername(context.Background(), "new")
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
	assert.Len(t, store.List(), 1)
}

func TestSeedDefaults(t *testing.T) {
	users := Seed()
	require.Len(t, users, 3)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, int64(1), users[0].ID)
}
