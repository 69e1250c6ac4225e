package chat

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zhouzirui/z-social/backend/internal/model/chat"
	"github.com/zhouzirui/z-social/backend/internal/model/user"
)

var (
	bucketUsers             = []byte("users")
	bucketUserNames         = []byte("user_names")
	bucketConversations     = []byte("conversations")
	bucketConversationNames = []byte("conversation_names")
	bucketConversationPairs = []byte("conversation_pairs")
	bucketMessages          = []byte("messages")
	bucketNotifications     = []byte("notifications")
)

type boltConversation struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	ParticipantIDs []int64   `json:"participant_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

type boltNotification struct {
	chat.Notification
	ConversationID int64 `json:"conversation"`
}

// BoltStore implements Store and user.Store on a single bbolt file.
// Messages are keyed by conversation id then message id, notifications by
// recipient id then notification id, so prefix scans return them in order.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if needed) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers, bucketUserNames,
			bucketConversations, bucketConversationNames, bucketConversationPairs,
			bucketMessages, bucketNotifications,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: init buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func compositeKey(prefix, id int64) []byte {
	return append(itob(prefix), itob(id)...)
}

func pairBytes(k pairKey) []byte {
	return compositeKey(k.lo, k.hi)
}

func nextID(b *bolt.Bucket) (int64, error) {
	seq, err := b.NextSequence()
	return int64(seq), err
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// PutUser stores u. A zero ID is assigned from the bucket sequence.
func (s *BoltStore) PutUser(u user.User) (user.User, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		users, names := tx.Bucket(bucketUsers), tx.Bucket(bucketUserNames)

		existing := names.Get([]byte(u.Username))
		switch {
		case existing != nil && u.ID == 0:
			u.ID = btoi(existing)
		case existing != nil && btoi(existing) != u.ID:
			return fmt.Errorf("username %q already taken", u.Username)
		}

		if u.ID == 0 {
			id, err := nextID(users)
			if err != nil {
				return err
			}
			u.ID = id
		} else if uint64(u.ID) > users.Sequence() {
			if err := users.SetSequence(uint64(u.ID)); err != nil {
				return err
			}
		}

		if prev := users.Get(itob(u.ID)); prev != nil {
			var old user.User
			if err := json.Unmarshal(prev, &old); err == nil && old.Username != u.Username {
				if err := names.Delete([]byte(old.Username)); err != nil {
					return err
				}
			}
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now().UTC()
		}
		if err := putJSON(users, itob(u.ID), u); err != nil {
			return err
		}
		return names.Put([]byte(u.Username), itob(u.ID))
	})
	return u, err
}

func (s *BoltStore) FindByID(_ context.Context, id int64) (user.User, error) {
	var u user.User
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		u, err = loadUser(tx, id)
		return err
	})
	return u, err
}

func (s *BoltStore) FindByUsername(_ context.Context, username string) (user.User, error) {
	var u user.User
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketUserNames).Get([]byte(username))
		if raw == nil {
			return user.ErrNotFound
		}
		var err error
		u, err = loadUser(tx, btoi(raw))
		return err
	})
	return u, err
}

func loadUser(tx *bolt.Tx, id int64) (user.User, error) {
	raw := tx.Bucket(bucketUsers).Get(itob(id))
	if raw == nil {
		return user.User{}, user.ErrNotFound
	}
	var u user.User
	err := json.Unmarshal(raw, &u)
	return u, err
}

func loadConversation(tx *bolt.Tx, id int64) (chat.Conversation, error) {
	raw := tx.Bucket(bucketConversations).Get(itob(id))
	if raw == nil {
		return chat.Conversation{}, ErrConversationNotFound
	}
	var rec boltConversation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return chat.Conversation{}, err
	}

	conv := chat.Conversation{ID: rec.ID, Name: rec.Name, CreatedAt: rec.CreatedAt}
	for _, pid := range rec.ParticipantIDs {
		u, err := loadUser(tx, pid)
		if err != nil {
			return chat.Conversation{}, fmt.Errorf("participant %d: %w", pid, err)
		}
		conv.Participants = append(conv.Participants, u)
	}
	return conv, nil
}

func (s *BoltStore) GetOrCreateConversation(_ context.Context, name string, participants []user.User) (chat.Conversation, bool, error) {
	participants = dedupe(participants)
	key := pairBytes(newPairKey(participants))

	var (
		conv    chat.Conversation
		created bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(bucketConversationPairs).Get(key); raw != nil {
			var err error
			conv, err = loadConversation(tx, btoi(raw))
			return err
		}

		names := tx.Bucket(bucketConversationNames)
		if names.Get([]byte(name)) != nil {
			return ErrNameConflict
		}

		convs := tx.Bucket(bucketConversations)
		id, err := nextID(convs)
		if err != nil {
			return err
		}
		rec := boltConversation{ID: id, Name: name, CreatedAt: time.Now().UTC()}
		for _, p := range participants {
			rec.ParticipantIDs = append(rec.ParticipantIDs, p.ID)
		}
		if err := putJSON(convs, itob(id), rec); err != nil {
			return err
		}
		if err := names.Put([]byte(name), itob(id)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketConversationPairs).Put(key, itob(id)); err != nil {
			return err
		}

		created = true
		conv = chat.Conversation{ID: id, Name: name, Participants: participants, CreatedAt: rec.CreatedAt}
		return nil
	})
	return conv, created, err
}

func (s *BoltStore) ConversationByName(_ context.Context, name string) (chat.Conversation, error) {
	var conv chat.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketConversationNames).Get([]byte(name))
		if raw == nil {
			return ErrConversationNotFound
		}
		var err error
		conv, err = loadConversation(tx, btoi(raw))
		return err
	})
	return conv, err
}

func (s *BoltStore) ConversationsForUser(_ context.Context, userID int64) ([]chat.Conversation, error) {
	out := make([]chat.Conversation, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, _ []byte) error {
			conv, err := loadConversation(tx, btoi(k))
			if err != nil {
				return err
			}
			if conv.HasParticipant(userID) {
				out = append(out, conv)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) CreateMessage(_ context.Context, conversationID int64, sender user.User, text string) (chat.Message, []chat.Notification, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, nil, ErrEmptyMessage
	}

	var (
		msg   chat.Message
		notes []chat.Notification
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		conv, err := loadConversation(tx, conversationID)
		if err != nil {
			return err
		}

		messages := tx.Bucket(bucketMessages)
		id, err := nextID(messages)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		msg = chat.Message{
			ID:             id,
			ConversationID: conversationID,
			SenderID:       sender.ID,
			SenderUsername: sender.Username,
			Text:           text,
			CreatedAt:      now,
		}
		if err := putJSON(messages, compositeKey(conversationID, id), msg); err != nil {
			return err
		}

		notifications := tx.Bucket(bucketNotifications)
		for _, recipient := range conv.Others(sender.ID) {
			nid, err := nextID(notifications)
			if err != nil {
				return err
			}
			note := chat.Notification{ID: nid, MessageID: id, UserID: recipient.ID, CreatedAt: now}
			rec := boltNotification{Notification: note, ConversationID: conversationID}
			if err := putJSON(notifications, compositeKey(recipient.ID, nid), rec); err != nil {
				return err
			}
			notes = append(notes, note)
		}
		return nil
	})
	if err != nil {
		return chat.Message{}, nil, err
	}
	return msg, notes, nil
}

// scanPrefix visits every entry of b whose key starts with the 8-byte prefix.
func scanPrefix(b *bolt.Bucket, prefix int64, fn func(k, v []byte) error) error {
	p := itob(prefix)
	c := b.Cursor()
	for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) MessageHistory(_ context.Context, conversationID int64) ([]chat.Message, error) {
	history := make([]chat.Message, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketConversations).Get(itob(conversationID)) == nil {
			return ErrConversationNotFound
		}
		return scanPrefix(tx.Bucket(bucketMessages), conversationID, func(_, v []byte) error {
			var m chat.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			history = append(history, m)
			return nil
		})
	})
	return history, err
}

func (s *BoltStore) MarkConversationSeen(_ context.Context, conversationID, viewerID int64) (chat.SeenResult, error) {
	var res chat.SeenResult
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketConversations).Get(itob(conversationID)) == nil {
			return ErrConversationNotFound
		}

		messages := tx.Bucket(bucketMessages)
		var updates []chat.Message
		err := scanPrefix(messages, conversationID, func(_, v []byte) error {
			var m chat.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.SenderID != viewerID && !m.Seen {
				m.Seen = true
				updates = append(updates, m)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Writes are deferred until the cursor is done; bbolt cursors are
		// invalidated by Put on the same bucket.
		for _, m := range updates {
			if err := putJSON(messages, compositeKey(conversationID, m.ID), m); err != nil {
				return err
			}
		}
		res.Messages = int64(len(updates))

		notifications := tx.Bucket(bucketNotifications)
		var notes []boltNotification
		err = scanPrefix(notifications, viewerID, func(_, v []byte) error {
			var n boltNotification
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if n.ConversationID == conversationID && !n.Seen {
				n.Seen = true
				notes = append(notes, n)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, n := range notes {
			if err := putJSON(notifications, compositeKey(viewerID, n.ID), n); err != nil {
				return err
			}
		}
		res.Notifications = int64(len(notes))
		return nil
	})
	return res, err
}

func (s *BoltStore) CountUnseenNotifications(_ context.Context, userID int64) (int64, error) {
	var count int64
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanPrefix(tx.Bucket(bucketNotifications), userID, func(_, v []byte) error {
			var n boltNotification
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if !n.Seen {
				count++
			}
			return nil
		})
	})
	return count, err
}

func (s *BoltStore) CountUnseenMessages(_ context.Context, conversationID, excludeSenderID int64) (int64, error) {
	var count int64
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketConversations).Get(itob(conversationID)) == nil {
			return ErrConversationNotFound
		}
		return scanPrefix(tx.Bucket(bucketMessages), conversationID, func(_, v []byte) error {
			var m chat.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.SenderID != excludeSenderID && !m.Seen {
				count++
			}
			return nil
		})
	})
	return count, err
}
