// Package session holds the in-memory authoritative list of chat sessions
// and orchestrates creation, deletion, title derivation and message-list
// mutation, deciding when and what to flush to the backing store.
//
// In-memory state is always at least as fresh as durable state: persistence
// failures are logged but never roll back what the user already sees. The
// one exception is deletion, where the remote delete must succeed before
// local state is touched.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"cryptochat/internal/chat"
	"cryptochat/storage"
)

// ErrNotFound indicates the requested session does not exist in the store.
var ErrNotFound = errors.New("session not found")

// Streamer produces the assistant's response to a message as a sequence of
// stream events, invoking fn for each token and charts event in arrival
// order. A nil return means the stream completed normally.
type Streamer interface {
	Stream(ctx context.Context, message string, history []chat.Message, fn func(chat.StreamEvent) error) error
}

// Store is the session store. It is constructed once per application
// session and passed by reference to consumers; all mutations of the
// session collection go through its methods.
type Store struct {
	backing storage.Store
	userKey string

	mu         sync.Mutex
	sessions   []*chat.Session
	currentID  string
	savedCount map[string]int // messages per session already considered saved

	// single-slot in-flight creation guard: concurrent callers join the
	// in-flight creation instead of triggering a second one
	inflight   chan struct{}
	inflightID string
}

// NewStore creates a session store backed by the given persistence store.
func NewStore(backing storage.Store, userKey string) *Store {
	return &Store{
		backing:    backing,
		userKey:    userKey,
		savedCount: make(map[string]int),
	}
}

// Load hydrates the store from the backing store: sessions most recent
// first, current pointing at the persisted pointer when the backing store
// tracks one and the session still exists, otherwise at the most recent
// session.
func (s *Store) Load(ctx context.Context) error {
	sessions, err := s.backing.ListSessionsWithMessages(ctx, s.userKey)
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	current := ""
	if tracker, ok := s.backing.(storage.CurrentTracker); ok {
		saved, err := tracker.Current(ctx)
		if err != nil {
			slog.Error("Failed to read current session pointer", "error", err)
		} else {
			current = saved
		}
	}
	if current != "" && !slices.ContainsFunc(sessions, func(sess *chat.Session) bool { return sess.ID == current }) {
		current = ""
	}
	if current == "" && len(sessions) > 0 {
		current = sessions[0].ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = sessions
	s.currentID = current
	s.savedCount = make(map[string]int, len(sessions))
	for _, sess := range sessions {
		s.savedCount[sess.ID] = len(sess.Messages)
	}

	slog.Debug("loaded sessions",
		slog.Int("count", len(sessions)),
		slog.String("current", current),
	)
	return nil
}

// Create returns the id of a session ready to receive messages. If the most
// recent session is still empty it is reused instead of creating a second
// empty one. Only one creation may be in flight at a time; concurrent
// callers wait for it and receive the same id. The returned id is always
// non-empty.
func (s *Store) Create(ctx context.Context) string {
	s.mu.Lock()
	if ch := s.inflight; ch != nil {
		s.mu.Unlock()
		<-ch
		s.mu.Lock()
		id := s.inflightID
		s.mu.Unlock()
		return id
	}

	// reuse policy: repeated navigation must not accumulate empty sessions
	if len(s.sessions) > 0 && len(s.sessions[0].Messages) == 0 {
		id := s.sessions[0].ID
		s.currentID = id
		s.mu.Unlock()
		s.persistCurrent(ctx, id)
		slog.Debug("reusing empty session", slog.String("id", id))
		return id
	}

	ch := make(chan struct{})
	s.inflight = ch
	s.mu.Unlock()

	sess := chat.NewSession()
	rec, err := s.backing.CreateSession(ctx, s.userKey, sess.Title)
	if err != nil {
		// keep the temporary id; the session stays usable locally
		slog.Error("Failed to persist new session", "error", err)
	} else {
		sess.ID = rec.ID
		sess.CreatedAt = rec.CreatedAt
	}

	s.mu.Lock()
	s.sessions = append([]*chat.Session{sess}, s.sessions...)
	s.currentID = sess.ID
	s.savedCount[sess.ID] = 0
	s.inflightID = sess.ID
	s.inflight = nil
	close(ch)
	s.mu.Unlock()

	s.persistCurrent(ctx, sess.ID)
	slog.Debug("created session", slog.String("id", sess.ID))
	return sess.ID
}

// Delete removes a session. The remote delete must succeed first; on
// failure local state is left unchanged so the UI and the durable store
// never diverge on this path.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.backing.DeleteSession(ctx, id); err != nil {
		slog.Error("Failed to delete session from store", "id", id, "error", err)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}

	s.mu.Lock()
	s.sessions = slices.DeleteFunc(s.sessions, func(sess *chat.Session) bool { return sess.ID == id })
	delete(s.savedCount, id)
	reselected := ""
	if s.currentID == id {
		if len(s.sessions) > 0 {
			s.currentID = s.sessions[0].ID
		} else {
			s.currentID = ""
		}
		reselected = s.currentID
	}
	s.mu.Unlock()

	if reselected != "" {
		s.persistCurrent(ctx, reselected)
	}
	slog.Debug("deleted session", slog.String("id", id))
	return nil
}

// UpdateMessages replaces a session's message list wholesale and recomputes
// its title from the first user message. Only the suffix of messages not
// previously considered saved is flushed to the backing store; the saved
// count is captured before the in-memory replace so optimistic updates
// applied mid-stream never inflate it. Persistence failures are logged and
// do not roll back the in-memory list.
func (s *Store) UpdateMessages(ctx context.Context, id string, messages []chat.Message) {
	s.mu.Lock()
	var sess *chat.Session
	for _, candidate := range s.sessions {
		if candidate.ID == id {
			sess = candidate
			break
		}
	}
	if sess == nil {
		s.mu.Unlock()
		slog.Warn("Ignoring message update for unknown session", "id", id)
		return
	}

	saved := s.savedCount[id]
	prevTitle := sess.Title
	title := chat.DeriveTitle(messages)
	sess.Messages = messages
	sess.Title = title
	s.savedCount[id] = len(messages)
	s.mu.Unlock()

	if len(messages) == 0 || saved > len(messages) {
		return
	}

	for _, msg := range messages[saved:] {
		if _, err := s.backing.SaveMessage(ctx, id, msg); err != nil {
			slog.Error("Failed to save message", "session_id", id, "message_id", msg.ID, "error", err)
		}
	}

	if title != prevTitle {
		if err := s.backing.UpdateSessionTitle(ctx, id, title); err != nil {
			slog.Error("Failed to update session title", "session_id", id, "error", err)
		}
	}
}

// Current returns the currently selected session, or ErrNotFound when no
// session matches the current pointer.
func (s *Store) Current() (*chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ID == s.currentID {
			return sess, nil
		}
	}
	return nil, ErrNotFound
}

// Select makes the given session current.
func (s *Store) Select(ctx context.Context, id string) error {
	s.mu.Lock()
	found := slices.ContainsFunc(s.sessions, func(sess *chat.Session) bool { return sess.ID == id })
	if found {
		s.currentID = id
	}
	s.mu.Unlock()

	if !found {
		return ErrNotFound
	}
	s.persistCurrent(ctx, id)
	return nil
}

// Sessions returns a snapshot of the session collection, most recent first.
func (s *Store) Sessions() []*chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sessions)
}

// Send runs one streaming exchange against the current session: the user's
// message and an empty streaming placeholder are appended optimistically
// before the request is issued, each token updates the placeholder in
// arrival order, and the finalized pair is committed through UpdateMessages
// once the stream ends. On failure a fixed-text error message is committed
// instead; the user's message is never lost. Durable writes happen once per
// exchange, never token by token.
func (s *Store) Send(ctx context.Context, text string, streamer Streamer) error {
	s.mu.Lock()
	var sess *chat.Session
	for _, candidate := range s.sessions {
		if candidate.ID == s.currentID {
			sess = candidate
			break
		}
	}
	if sess == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	id := sess.ID
	history := historyWindow(sess.Messages)

	userMsg := chat.NewMessage(chat.SenderUser, text)
	withUser := append(slices.Clone(sess.Messages), userMsg)
	placeholder := chat.NewStreamingPlaceholder()

	// optimistic local append: the exchange is visible before any network
	// round trip completes, and nothing is persisted yet
	sess.Messages = append(slices.Clone(withUser), placeholder)
	s.mu.Unlock()

	var buf strings.Builder
	var charts []chat.Chart
	streamErr := streamer.Stream(ctx, text, history, func(ev chat.StreamEvent) error {
		switch ev.Type {
		case chat.EventToken:
			buf.WriteString(ev.Content)
			s.setStreamingText(id, placeholder.ID, buf.String())
		case chat.EventCharts:
			// last charts event wins
			charts = ev.Charts
		}
		return nil
	})

	if streamErr != nil {
		slog.Error("Streaming exchange failed", "session_id", id, "error", streamErr)
		s.UpdateMessages(ctx, id, append(slices.Clone(withUser), chat.NewErrorMessage()))
		return streamErr
	}

	reply := buf.String()
	if reply == "" {
		reply = chat.FallbackReply
	}
	final := chat.Message{
		ID:        placeholder.ID,
		Text:      reply,
		Sender:    chat.SenderBot,
		Timestamp: time.Now(),
		Charts:    charts,
	}
	s.UpdateMessages(ctx, id, append(slices.Clone(withUser), final))
	return nil
}

// historyWindow returns the last messages preceding the new user message,
// filtered to non-empty text, bounding the request payload.
func historyWindow(messages []chat.Message) []chat.Message {
	start := len(messages) - chat.HistoryWindow
	if start < 0 {
		start = 0
	}
	history := []chat.Message{}
	for _, msg := range messages[start:] {
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		history = append(history, msg)
	}
	return history
}

func (s *Store) setStreamingText(sessionID, messageID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ID != sessionID {
			continue
		}
		for i := range sess.Messages {
			if sess.Messages[i].ID == messageID {
				sess.Messages[i].Text = text
				return
			}
		}
		return
	}
}

func (s *Store) persistCurrent(ctx context.Context, id string) {
	tracker, ok := s.backing.(storage.CurrentTracker)
	if !ok {
		return
	}
	if err := tracker.SetCurrent(ctx, id); err != nil {
		slog.Error("Failed to persist current session pointer", "id", id, "error", err)
	}
}
