package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"cryptochat/internal/chat"
)

// Fixed keys under which the fallback store keeps its two values: the full
// serialized session collection and the current-session pointer.
const (
	sessionsKey = "chatbot-sessions"
	currentKey  = "chatbot-current-session"
)

// SqliteStore is the local durable fallback used when no remote store is
// configured. It keeps the whole session collection serialized under a
// single key-value row, so every mutation is a read-modify-write of that
// blob.
type SqliteStore struct {
	mu sync.Mutex
	db *sqlx.DB
}

// NewSqliteStore opens (or creates) the fallback database at the given path.
func NewSqliteStore(path string) (*SqliteStore, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	createKVTable := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)
	`
	if _, err := db.Exec(createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	return &SqliteStore{db: db}, nil
}

// CreateSession adds a new empty session to the stored collection.
func (s *SqliteStore) CreateSession(ctx context.Context, userKey, title string) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readSessions(ctx)
	if err != nil {
		return nil, err
	}

	sess := &chat.Session{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  []chat.Message{},
		CreatedAt: time.Now(),
	}
	sessions = append([]*chat.Session{sess}, sessions...)
	if err := s.writeSessions(ctx, sessions); err != nil {
		return nil, err
	}

	slog.Debug("session created in fallback store",
		slog.String("id", sess.ID),
		slog.String("title", title),
	)
	return &SessionRecord{ID: sess.ID, CreatedAt: sess.CreatedAt}, nil
}

// DeleteSession removes a session from the stored collection.
func (s *SqliteStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readSessions(ctx)
	if err != nil {
		return err
	}

	kept := sessions[:0]
	found := false
	for _, sess := range sessions {
		if sess.ID == id {
			found = true
			continue
		}
		kept = append(kept, sess)
	}
	if !found {
		return fmt.Errorf("session %s not found in fallback store", id)
	}

	if err := s.writeSessions(ctx, kept); err != nil {
		return err
	}
	slog.Debug("session deleted from fallback store", slog.String("id", id))
	return nil
}

// SaveMessage appends one message to a stored session.
func (s *SqliteStore) SaveMessage(ctx context.Context, sessionID string, msg chat.Message) (*MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readSessions(ctx)
	if err != nil {
		return nil, err
	}

	for _, sess := range sessions {
		if sess.ID != sessionID {
			continue
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		sess.Messages = append(sess.Messages, msg)
		if err := s.writeSessions(ctx, sessions); err != nil {
			return nil, err
		}
		return &MessageRecord{ID: msg.ID, SessionID: sessionID, Timestamp: msg.Timestamp}, nil
	}
	return nil, fmt.Errorf("session %s not found in fallback store", sessionID)
}

// UpdateSessionTitle sets the title of a stored session.
func (s *SqliteStore) UpdateSessionTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.readSessions(ctx)
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		if sess.ID == id {
			sess.Title = title
			return s.writeSessions(ctx, sessions)
		}
	}
	return fmt.Errorf("session %s not found in fallback store", id)
}

// ListSessionsWithMessages returns the stored collection, most recent first.
// The userKey is ignored: the fallback store is single-user by construction.
func (s *SqliteStore) ListSessionsWithMessages(ctx context.Context, userKey string) ([]*chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readSessions(ctx)
}

// SetCurrent persists the current-session pointer.
func (s *SqliteStore) SetCurrent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeValue(ctx, currentKey, id)
}

// Current returns the persisted current-session pointer, or empty when none
// has been saved.
func (s *SqliteStore) Current(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM kv WHERE key = ?", currentKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read current session pointer: %w", err)
	}
	return value, nil
}

// Close closes the underlying database.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) readSessions(ctx context.Context) ([]*chat.Session, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM kv WHERE key = ?", sessionsKey)
	if errors.Is(err, sql.ErrNoRows) {
		return []*chat.Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session collection: %w", err)
	}

	var sessions []*chat.Session
	if err := json.Unmarshal([]byte(value), &sessions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session collection: %w", err)
	}
	return sessions, nil
}

func (s *SqliteStore) writeSessions(ctx context.Context, sessions []*chat.Session) error {
	value, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to marshal session collection: %w", err)
	}
	return s.writeValue(ctx, sessionsKey, string(value))
}

func (s *SqliteStore) writeValue(ctx context.Context, key, value string) error {
	insertQuery := "INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)"
	if _, err := s.db.ExecContext(ctx, insertQuery, key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

var (
	_ Store          = (*SqliteStore)(nil)
	_ CurrentTracker = (*SqliteStore)(nil)
)
