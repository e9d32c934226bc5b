package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"cryptochat/internal/chat"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id UUID PRIMARY KEY,
	user_key TEXT NOT NULL,
	title TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS chat_sessions_user_key_idx ON chat_sessions (user_key);

CREATE TABLE IF NOT EXISTS chat_messages (
	id UUID PRIMARY KEY,
	session_id UUID NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
	text TEXT NOT NULL,
	sender TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL DEFAULT now(),
	charts JSONB,
	is_error BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS chat_messages_session_id_idx ON chat_messages (session_id);
`

// PostgresStore is the remote relational store for sessions and messages.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// CreateSession inserts a new session row and returns its durable identity.
func (s *PostgresStore) CreateSession(ctx context.Context, userKey, title string) (*SessionRecord, error) {
	rec := &SessionRecord{ID: uuid.NewString()}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_sessions (id, user_key, title)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		rec.ID, userKey, title,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Debug("session created in postgres",
		slog.String("id", rec.ID),
		slog.String("title", title),
	)
	return rec, nil
}

// DeleteSession deletes a session and all its messages.
func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	// cascade covers the messages, but delete them explicitly so a failure
	// surfaces before the session row is touched
	if _, err := s.pool.Exec(ctx, "DELETE FROM chat_messages WHERE session_id = $1", id); err != nil {
		return fmt.Errorf("failed to delete messages for session %s: %w", id, err)
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM chat_sessions WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}

	slog.Debug("session deleted from postgres", slog.String("id", id))
	return nil
}

// SaveMessage appends one message to a session and bumps the session's
// updated_at timestamp.
func (s *PostgresStore) SaveMessage(ctx context.Context, sessionID string, msg chat.Message) (*MessageRecord, error) {
	rec := &MessageRecord{ID: uuid.NewString(), SessionID: sessionID}

	var charts []byte
	if len(msg.Charts) > 0 {
		b, err := json.Marshal(msg.Charts)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal charts: %w", err)
		}
		charts = b
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_messages (id, session_id, text, sender, ts, charts, is_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING ts`,
		rec.ID, sessionID, msg.Text, string(msg.Sender), msg.Timestamp, charts, msg.IsError,
	).Scan(&rec.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	if _, err := s.pool.Exec(ctx,
		"UPDATE chat_sessions SET updated_at = now() WHERE id = $1", sessionID); err != nil {
		slog.Error("Failed to bump session updated_at", "session_id", sessionID, "error", err)
	}

	slog.Debug("message saved to postgres",
		slog.String("id", rec.ID),
		slog.String("session_id", sessionID),
		slog.String("sender", string(msg.Sender)),
	)
	return rec, nil
}

// UpdateSessionTitle sets a session's title.
func (s *PostgresStore) UpdateSessionTitle(ctx context.Context, id, title string) error {
	if _, err := s.pool.Exec(ctx,
		"UPDATE chat_sessions SET title = $2, updated_at = now() WHERE id = $1", id, title); err != nil {
		return fmt.Errorf("failed to update title for session %s: %w", id, err)
	}
	return nil
}

// ListSessionsWithMessages loads all of a user's sessions, most recent
// first, each with its full ordered message list.
func (s *PostgresStore) ListSessionsWithMessages(ctx context.Context, userKey string) ([]*chat.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, created_at FROM chat_sessions
		 WHERE user_key = $1 ORDER BY created_at DESC`, userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*chat.Session
	for rows.Next() {
		sess := &chat.Session{Messages: []chat.Message{}}
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	for _, sess := range sessions {
		msgs, err := s.listMessages(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		sess.Messages = msgs
	}

	slog.Debug("loaded sessions from postgres",
		slog.String("user_key", userKey),
		slog.Int("count", len(sessions)),
	)
	return sessions, nil
}

func (s *PostgresStore) listMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, text, sender, ts, charts, is_error FROM chat_messages
		 WHERE session_id = $1 ORDER BY ts ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	messages := []chat.Message{}
	for rows.Next() {
		var msg chat.Message
		var sender string
		var charts []byte
		if err := rows.Scan(&msg.ID, &msg.Text, &sender, &msg.Timestamp, &charts, &msg.IsError); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Sender = chat.Sender(sender)
		if len(charts) > 0 {
			if err := json.Unmarshal(charts, &msg.Charts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal charts for message %s: %w", msg.ID, err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list messages for session %s: %w", sessionID, err)
	}
	return messages, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
