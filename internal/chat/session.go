package chat

import (
	"time"

	"github.com/google/uuid"
)

const titleMaxLen = 50

// Session represents a chat session
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewSession creates a new Session instance with a client-generated
// temporary id. The id is replaced once the backing store assigns a
// durable one.
func NewSession() *Session {
	return &Session{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: time.Now(),
	}
}

// DeriveTitle computes a session title from the first user-authored message
// in the list, truncated to 50 characters with an ellipsis marker if longer.
// Returns DefaultTitle when no user message exists yet.
func DeriveTitle(messages []Message) string {
	for _, m := range messages {
		if m.Sender != SenderUser {
			continue
		}
		runes := []rune(m.Text)
		if len(runes) > titleMaxLen {
			return string(runes[:titleMaxLen]) + "..."
		}
		return m.Text
	}
	return DefaultTitle
}
