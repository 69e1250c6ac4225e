package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhouzirui/z-social/backend/internal/model/chat"
	"github.com/zhouzirui/z-social/backend/internal/model/user"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          BIGSERIAL PRIMARY KEY,
	username    TEXT NOT NULL UNIQUE,
	first_name  TEXT NOT NULL DEFAULT '',
	last_name   TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conversations (
	id                 BIGSERIAL PRIMARY KEY,
	conversation_name  TEXT NOT NULL,
	user_lo            BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	user_hi            BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT conversations_name_key UNIQUE (conversation_name),
	CONSTRAINT conversations_pair_key UNIQUE (user_lo, user_hi)
);

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id  BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	user_id          BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (conversation_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id               BIGSERIAL PRIMARY KEY,
	conversation_id  BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	sender_id        BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	text             TEXT NOT NULL,
	is_seen          BOOLEAN NOT NULL DEFAULT false,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);
CREATE INDEX IF NOT EXISTS messages_conversation_created_idx ON messages (conversation_id, created_at, id);

CREATE TABLE IF NOT EXISTS notifications (
	id          BIGSERIAL PRIMARY KEY,
	message_id  BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	user_id     BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	is_seen     BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS notifications_user_unseen_idx ON notifications (user_id) WHERE NOT is_seen;
`

// PostgresStore implements Store and user.Store on a shared pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates missing tables and indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// UpsertUser inserts u by username, returning the stored record.
func (s *PostgresStore) UpsertUser(ctx context.Context, u user.User) (user.User, error) {
	var out user.User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, first_name, last_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name
		RETURNING id, username, first_name, last_name, created_at
	`, u.Username, u.FirstName, u.LastName).Scan(&out.ID, &out.Username, &out.FirstName, &out.LastName, &out.CreatedAt)
	return out, err
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (user.User, error) {
	return s.findUser(ctx, "id = $1", id)
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (user.User, error) {
	return s.findUser(ctx, "username = $1", username)
}

func (s *PostgresStore) findUser(ctx context.Context, where string, arg any) (user.User, error) {
	var u user.User
	err := s.pool.QueryRow(ctx,
		"SELECT id, username, first_name, last_name, created_at FROM users WHERE "+where, arg,
	).Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return user.User{}, user.ErrNotFound
	}
	return u, err
}

func (s *PostgresStore) GetOrCreateConversation(ctx context.Context, name string, participants []user.User) (chat.Conversation, bool, error) {
	participants = dedupe(participants)
	if len(participants) == 0 {
		return chat.Conversation{}, false, errors.New("conversation needs at least one participant")
	}
	key := newPairKey(participants)

	var (
		conv    chat.Conversation
		created bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO conversations (conversation_name, user_lo, user_hi)
			VALUES ($1, $2, $3)
			ON CONFLICT ON CONSTRAINT conversations_pair_key DO NOTHING
			RETURNING id, conversation_name, created_at
		`, name, key.lo, key.hi).Scan(&conv.ID, &conv.Name, &conv.CreatedAt)

		switch {
		case err == nil:
			created = true
			for _, p := range participants {
				if _, err := tx.Exec(ctx,
					"INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)",
					conv.ID, p.ID,
				); err != nil {
					return err
				}
			}
			return nil
		case errors.Is(err, pgx.ErrNoRows):
			return tx.QueryRow(ctx, `
				SELECT id, conversation_name, created_at FROM conversations
				WHERE user_lo = $1 AND user_hi = $2
			`, key.lo, key.hi).Scan(&conv.ID, &conv.Name, &conv.CreatedAt)
		default:
			return err
		}
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "conversations_name_key" {
			return chat.Conversation{}, false, ErrNameConflict
		}
		return chat.Conversation{}, false, err
	}

	conv.Participants, err = s.participants(ctx, s.pool, conv.ID)
	if err != nil {
		return chat.Conversation{}, false, err
	}
	return conv, created, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) participants(ctx context.Context, q querier, conversationID int64) ([]user.User, error) {
	rows, err := q.Query(ctx, `
		SELECT u.id, u.username, u.first_name, u.last_name, u.created_at
		FROM conversation_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.conversation_id = $1
		ORDER BY u.id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (user.User, error) {
		var u user.User
		err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.CreatedAt)
		return u, err
	})
}

func (s *PostgresStore) ConversationByName(ctx context.Context, name string) (chat.Conversation, error) {
	var conv chat.Conversation
	err := s.pool.QueryRow(ctx,
		"SELECT id, conversation_name, created_at FROM conversations WHERE conversation_name = $1", name,
	).Scan(&conv.ID, &conv.Name, &conv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return chat.Conversation{}, err
	}

	conv.Participants, err = s.participants(ctx, s.pool, conv.ID)
	if err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

func (s *PostgresStore) ConversationsForUser(ctx context.Context, userID int64) ([]chat.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.conversation_name, c.created_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
		ORDER BY c.id
	`, userID)
	if err != nil {
		return nil, err
	}
	convs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Conversation, error) {
		var c chat.Conversation
		err := row.Scan(&c.ID, &c.Name, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, err
	}

	for i := range convs {
		if convs[i].Participants, err = s.participants(ctx, s.pool, convs[i].ID); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, conversationID int64, sender user.User, text string) (chat.Message, []chat.Notification, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, nil, ErrEmptyMessage
	}

	msg := chat.Message{ConversationID: conversationID, SenderID: sender.ID, SenderUsername: sender.Username, Text: text}
	var notes []chat.Notification

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO messages (conversation_id, sender_id, text)
			SELECT id, $2, $3 FROM conversations WHERE id = $1
			RETURNING id, created_at
		`, conversationID, sender.ID, text).Scan(&msg.ID, &msg.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConversationNotFound
		}
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			INSERT INTO notifications (message_id, user_id)
			SELECT $1, cp.user_id FROM conversation_participants cp
			WHERE cp.conversation_id = $2 AND cp.user_id <> $3
			RETURNING id, message_id, user_id, is_seen, created_at
		`, msg.ID, conversationID, sender.ID)
		if err != nil {
			return err
		}
		notes, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Notification, error) {
			var n chat.Notification
			err := row.Scan(&n.ID, &n.MessageID, &n.UserID, &n.Seen, &n.CreatedAt)
			return n, err
		})
		return err
	})
	if err != nil {
		return chat.Message{}, nil, err
	}
	return msg, notes, nil
}

func (s *PostgresStore) MessageHistory(ctx context.Context, conversationID int64) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, u.username, m.text, m.is_seen, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at, m.id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Message, error) {
		var m chat.Message
		err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderUsername, &m.Text, &m.Seen, &m.CreatedAt)
		return m, err
	})
}

func (s *PostgresStore) MarkConversationSeen(ctx context.Context, conversationID, viewerID int64) (chat.SeenResult, error) {
	var res chat.SeenResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE messages SET is_seen = true
			WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_seen
		`, conversationID, viewerID)
		if err != nil {
			return err
		}
		res.Messages = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `
			UPDATE notifications n SET is_seen = true
			FROM messages m
			WHERE n.message_id = m.id AND m.conversation_id = $1 AND n.user_id = $2 AND NOT n.is_seen
		`, conversationID, viewerID)
		if err != nil {
			return err
		}
		res.Notifications = tag.RowsAffected()
		return nil
	})
	return res, err
}

func (s *PostgresStore) CountUnseenNotifications(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT is_seen", userID,
	).Scan(&count)
	return count, err
}

func (s *PostgresStore) CountUnseenMessages(ctx context.Context, conversationID, excludeSenderID int64) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT count(*) FROM messages WHERE conversation_id = $1 AND sender_id <> $2 AND NOT is_seen",
		conversationID, excludeSenderID,
	).Scan(&count)
	return count, err
}
