package chat_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-social/backend/internal/model/user"
	chatsvc "github.com/zhouzirui/z-social/backend/internal/service/chat"
)

type storeFactory func(t *testing.T) (chatsvc.Store, []user.User)

func storeFactories() map[string]storeFactory {
	factories := map[string]storeFactory{
		"memory": func(t *testing.T) (chatsvc.Store, []user.User) {
			return chatsvc.NewMemoryStore(), user.Seed()
		},
		"bolt": func(t *testing.T) (chatsvc.Store, []user.User) {
			store, err := chatsvc.OpenBoltStore(filepath.Join(t.TempDir(), "social.bolt"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			var users []user.User
			for _, u := range user.Seed() {
				stored, err := store.PutUser(u)
				require.NoError(t, err)
				users = append(users, stored)
			}
			return store, users
		},
	}

	// Postgres runs only against a disposable database.
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		factories["postgres"] = func(t *testing.T) (chatsvc.Store, []user.User) {
			ctx := context.Background()
			pool, err := pgxpool.New(ctx, dsn)
			require.NoError(t, err)
			t.Cleanup(pool.Close)

			_, err = pool.Exec(ctx, "DROP TABLE IF EXISTS notifications, messages, conversation_participants, conversations, users")
			require.NoError(t, err)

			store := chatsvc.NewPostgresStore(pool)
			require.NoError(t, store.EnsureSchema(ctx))

			var users []user.User
			for _, u := range user.Seed() {
				stored, err := store.UpsertUser(ctx, u)
				require.NoError(t, err)
				users = append(users, stored)
			}
			return store, users
		}
	}
	return factories
}

func forEachStore(t *testing.T, fn func(t *testing.T, store chatsvc.Store, alice, bob, carol user.User)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store, users := factory(t)
			fn(t, store, users[0], users[1], users[2])
		})
	}
}

func TestStoreGetOrCreateConversationIsPairScoped(t *testing.T) {
	forEachStore(t, func(t *testing.T, store chatsvc.Store, alice, bob, carol user.User) {
		ctx := context.Background()

		first, created, err := store.GetOrCreateConversation(ctx, "bob_alice", []user.User{alice, bob})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "bob_alice", first.Name)
		assert.Len(t, first.Participants, 2)

		again, created, err := store.GetOrCreateConversation(ctx, "alice_bob", []user.User{bob, alice})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, "bob_alice", again.Name)

		_, _, err = store.GetOrCreateConversation(ctx, "bob_alice", []user.User{alice, carol})
		assert.ErrorIs(t, err, chatsvc.ErrNameConflict)

		byName, err := store.ConversationByName(ctx, "bob_alice")
		require.NoError(t, err)
		assert.Equal(t, first.ID, byName.ID)
		assert.True(t, byName.HasParticipant(alice.ID))
		assert.True(t, byName.HasParticipant(bob.ID))

		_, err = store.ConversationByName(ctx, "nobody_here")
		assert.ErrorIs(t, err, chatsvc.ErrConversationNotFound)
	})
}

func TestStoreConcurrentCreateYieldsOneConversation(t *testing.T) {
	forEachStore(t, func(t *testing.T, store chatsvc.Store, alice, bob, _ user.User) {
		ctx := context.Background()
		const workers = 16

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			ids     = make(map[int64]bool)
			creates int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				pair := []user.User{alice, bob}
				if i%2 == 1 {
					pair = []user.User{bob, alice}
				}
				conv, created, err := store.GetOrCreateConversation(ctx, "bob_alice", pair)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				ids[conv.ID] = true
				if created {
					creates++
				}
				mu.Unlock()
			}(i)
		}
		wg.Wait()

		assert.Len(t, ids, 1)
		assert.Equal(t, 1, creates)
	})
}

func TestStoreMessagesAndNotifications(t *testing.T) {
	forEachStore(t, func(t *testing.T, store chatsvc.Store, alice, bob, carol user.User) {
		ctx := context.Background()
		conv, _, err := store.GetOrCreateConversation(ctx, "bob_alice", []user.User{alice, bob})
		require.NoError(t, err)

		msg, notes, err := store.CreateMessage(ctx, conv.ID, alice, "hello")
		require.NoError(t, err)
		assert.Equal(t, "alice", msg.SenderUsername)
		assert.Equal(t, conv.ID, msg.ConversationID)
		require.Len(t, notes, 1)
		assert.Equal(t, bob.ID, notes[0].UserID)
		assert.Equal(t, msg.ID, notes[0].MessageID)

		_, _, err = store.CreateMessage(ctx, conv.ID, bob, "hi alice")
		require.NoError(t, err)
		_, _, err = store.CreateMessage(ctx, conv.ID, alice, "how are you")
		require.NoError(t, err)

		_, _, err = store.CreateMessage(ctx, conv.ID, alice, "   ")
		assert.ErrorIs(t, err, chatsvc.ErrEmptyMessage)
		_, _, err = store.CreateMessage(ctx, conv.ID+1000, alice, "lost")
		assert.ErrorIs(t, err, chatsvc.ErrConversationNotFound)

		history, err := store.MessageHistory(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, []string{"hello", "hi alice", "how are you"}, []string{history[0].Text, history[1].Text, history[2].Text})
		assert.Equal(t, "bob", history[1].SenderUsername)

		count, err := store.CountUnseenNotifications(ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
		count, err = store.CountUnseenNotifications(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
		count, err = store.CountUnseenNotifications(ctx, carol.ID)
		require.NoError(t, err)
		assert.Zero(t, count)

		unseen, err := store.CountUnseenMessages(ctx, conv.ID, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), unseen)

		res, err := store.MarkConversationSeen(ctx, conv.ID, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.Messages)
		assert.Equal(t, int64(2), res.Notifications)

		count, err = store.CountUnseenNotifications(ctx, bob.ID)
		require.NoError(t, err)
		assert.Zero(t, count)
		count, err = store.CountUnseenNotifications(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		res, err = store.MarkConversationSeen(ctx, conv.ID, bob.ID)
		require.NoError(t, err)
		assert.False(t, res.Changed())

		convs, err := store.ConversationsForUser(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		assert.Equal(t, conv.ID, convs[0].ID)

		convs, err = store.ConversationsForUser(ctx, carol.ID)
		require.NoError(t, err)
		assert.Empty(t, convs)
	})
}

func TestBoltStoreIdentity(t *testing.T) {
	store, err := chatsvc.OpenBoltStore(filepath.Join(t.TempDir(), "nested", "social.bolt"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	dave, err := store.PutUser(user.User{Username: "dave"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), dave.ID)

	again, err := store.PutUser(user.User{Username: "dave", FirstName: "Dave"})
	require.NoError(t, err)
	assert.Equal(t, dave.ID, again.ID)

	byName, err := store.FindByUsername(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, "Dave", byName.FirstName)

	_, err = store.FindByID(ctx, 42)
	assert.ErrorIs(t, err, user.ErrNotFound)
	_, err = store.PutUser(user.User{ID: 7, Username: "dave"})
	assert.Error(t, err)
}
