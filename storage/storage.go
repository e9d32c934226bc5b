package storage

import (
	"context"
	"time"

	"cryptochat/internal/chat"
	"cryptochat/internal/config"
)

// SessionRecord is the durable identity a backing store assigns to a
// newly created session.
type SessionRecord struct {
	ID        string
	CreatedAt time.Time
}

// MessageRecord is the saved form of a message as reported by the store.
type MessageRecord struct {
	ID        string
	SessionID string
	Timestamp time.Time
}

// Store abstracts over the interchangeable backing stores for sessions and
// messages: the remote Postgres store and the local sqlite fallback.
type Store interface {
	CreateSession(ctx context.Context, userKey, title string) (*SessionRecord, error)
	DeleteSession(ctx context.Context, id string) error
	SaveMessage(ctx context.Context, sessionID string, msg chat.Message) (*MessageRecord, error)
	UpdateSessionTitle(ctx context.Context, id, title string) error
	ListSessionsWithMessages(ctx context.Context, userKey string) ([]*chat.Session, error)
	Close() error
}

// CurrentTracker is implemented by stores that also persist the
// current-session pointer locally. The Postgres store does not; the most
// recent session is selected after a remote load instead.
type CurrentTracker interface {
	SetCurrent(ctx context.Context, id string) error
	Current(ctx context.Context) (string, error)
}

// Open selects the backing store once, at startup: Postgres when a database
// URL is configured, the local sqlite fallback otherwise. The choice is not
// revisited mid-session.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.DatabaseURL != "" {
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	}
	return NewSqliteStore(cfg.SqlitePath)
}
