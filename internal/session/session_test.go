package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cryptochat/internal/chat"
	"cryptochat/storage"
)

// mockStore implements storage.Store with call tracking.
type mockStore struct {
	mu sync.Mutex

	createErr error
	deleteErr error
	saveErr   error
	titleErr  error

	listResult []*chat.Session

	createCalls   int
	deleteCalls   int
	titleCalls    []string
	savedMessages []chat.Message

	// when set, CreateSession signals createStarted and blocks until
	// createRelease is closed
	createStarted chan struct{}
	createRelease chan struct{}
}

func (m *mockStore) CreateSession(ctx context.Context, userKey, title string) (*storage.SessionRecord, error) {
	m.mu.Lock()
	m.createCalls++
	n := m.createCalls
	started, release := m.createStarted, m.createRelease
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
		<-release
	}
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &storage.SessionRecord{ID: fmt.Sprintf("durable-%d", n), CreatedAt: time.Now()}, nil
}

func (m *mockStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	return m.deleteErr
}

func (m *mockStore) SaveMessage(ctx context.Context, sessionID string, msg chat.Message) (*storage.MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	m.savedMessages = append(m.savedMessages, msg)
	return &storage.MessageRecord{ID: msg.ID, SessionID: sessionID, Timestamp: msg.Timestamp}, nil
}

func (m *mockStore) UpdateSessionTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.titleErr != nil {
		return m.titleErr
	}
	m.titleCalls = append(m.titleCalls, title)
	return nil
}

func (m *mockStore) ListSessionsWithMessages(ctx context.Context, userKey string) ([]*chat.Session, error) {
	return m.listResult, nil
}

func (m *mockStore) Close() error { return nil }

// fakeStreamer replays a fixed event sequence.
type fakeStreamer struct {
	events []chat.StreamEvent
	err    error

	history []chat.Message
}

func (f *fakeStreamer) Stream(ctx context.Context, message string, history []chat.Message, fn func(chat.StreamEvent) error) error {
	f.history = history
	for _, ev := range f.events {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return f.err
}

func TestCreateReusesEmptySession(t *testing.T) {
	ctx := context.Background()
	mock := &mockStore{}
	store := NewStore(mock, "test")

	first := store.Create(ctx)
	second := store.Create(ctx)

	if first == "" {
		t.Fatal("Create() returned empty id")
	}
	if first != second {
		t.Errorf("Create() twice without messages = %q then %q, want same id", first, second)
	}
	if mock.createCalls != 1 {
		t.Errorf("store.CreateSession called %d times, want 1", mock.createCalls)
	}
}

func TestCreateNoDuplicateEmptySessions(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&mockStore{}, "test")

	for i := 0; i < 5; i++ {
		store.Create(ctx)
	}
	if got := len(store.Sessions()); got != 1 {
		t.Errorf("5 consecutive Create() calls left %d sessions, want 1", got)
	}
}

func TestCreateAdoptsDurableID(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&mockStore{}, "test")

	id := store.Create(ctx)
	if id != "durable-1" {
		t.Errorf("Create() = %q, want durable id from store", id)
	}
}

func TestCreateKeepsTemporaryIDOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&mockStore{createErr: errors.New("store down")}, "test")

	id := store.Create(ctx)
	if id == "" {
		t.Fatal("Create() returned empty id on persist failure")
	}
	current, err := store.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if current.ID != id {
		t.Errorf("current session id = %q, want %q", current.ID, id)
	}
}

func TestCreateConcurrentCallersJoin(t *testing.T) {
	ctx := context.Background()
	mock := &mockStore{
		createStarted: make(chan struct{}, 2),
		createRelease: make(chan struct{}),
	}
	store := NewStore(mock, "test")

	ids := make(chan string, 2)
	go func() { ids <- store.Create(ctx) }()
	<-mock.createStarted // first creation is now in flight
	go func() { ids <- store.Create(ctx) }()

	close(mock.createRelease)
	first, second := <-ids, <-ids

	if first != second {
		t.Errorf("concurrent Create() = %q and %q, want same id", first, second)
	}
	if mock.createCalls != 1 {
		t.Errorf("store.CreateSession called %d times, want 1", mock.createCalls)
	}
}

func TestDeleteFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	mock := &mockStore{}
	store := NewStore(mock, "test")
	id := store.Create(ctx)

	mock.deleteErr = errors.New("remote delete failed")
	if err := store.Delete(ctx, id); err == nil {
		t.Fatal("Delete() returned nil, want error")
	}

	if got := len(store.Sessions()); got != 1 {
		t.Errorf("session collection has %d sessions after failed delete, want 1", got)
	}
	if _, err := store.Current(); err != nil {
		t.Errorf("Current() after failed delete error = %v", err)
	}
}

func TestDeleteReselectsMostRecent(t *testing.T) {
	ctx := context.Background()
	mock := &mockStore{
		listResult: []*chat.Session{
			{ID: "newer", Messages: []chat.Message{{Sender: chat.SenderUser, Text: "a"}}},
			{ID: "older", Messages: []chat.Message{{Sender: chat.SenderUser, Text: "b"}}},
		},
	}
	store := NewStore(mock, "test")
	if err := store.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := store.Delete(ctx, "newer"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	current, err := store.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if current.ID != "older" {
		t.Errorf("current after delete = %q, want %q", current.ID, "older")
	}

	if err := store.Delete(ctx, "older"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Current(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Current() with no sessions error = %v, want ErrNotFound", err)
	}
}

func TestUpdateMessagesDeltaSave(t *testing.T) {
	ctx := context.Background()
	persisted := []chat.Message{
		{ID: "m1", Sender: chat.SenderUser, Text: "What is Bitcoin worth today?"},
		{ID: "m2", Sender: chat.SenderBot, Text: "A lot."},
	}
	mock := &mockStore{
		listResult: []*chat.Session{
			{ID: "s1", Title: "What is Bitcoin worth today?", Messages: persisted},
		},
	}
	store := NewStore(mock, "test")
	if err := store.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	full := append(append([]chat.Message{}, persisted...),
		chat.Message{ID: "m3", Sender: chat.SenderUser, Text: "And Ethereum?"},
		chat.Message{ID: "m4", Sender: chat.SenderBot, Text: "Also a lot."},
	)
	store.UpdateMessages(ctx, "s1", full)

	if len(mock.savedMessages) != 2 {
		t.Fatalf("saved %d messages, want 2", len(mock.savedMessages))
	}
	if mock.savedMessages[0].ID != "m3" || mock.savedMessages[1].ID != "m4" {
		t.Errorf("saved messages %q, %q; want m3, m4", mock.savedMessages[0].ID, mock.savedMessages[1].ID)
	}
}

func TestUpdateMessagesTitlePersistedOnlyWhenChanged(t *testing.T) {
	ctx := context.Background()
	mock := &mockStore{}
	store := NewStore(mock, "test")
	id := store.Create(ctx)

	// bot-only list derives the default title: no title write expected
	store.UpdateMessages(ctx, id, []chat.Message{{ID: "b1", Sender: chat.SenderBot, Text: "hi"}})
	if len(mock.titleCalls) != 0 {
		t.Fatalf("title persisted %d times for unchanged title, want 0", len(mock.titleCalls))
	}

	store.UpdateMessages(ctx, id, []chat.Message{
		{ID: "b1", Sender: chat.SenderBot, Text: "hi"},
		{ID: "u1", Sender: chat.SenderUser, Text: "What is Bitcoin worth today?"},
	})
	if len(mock.titleCalls) != 1 || mock.titleCalls[0] != "What is Bitcoin worth today?" {
		t.Fatalf("title calls = %v, want one call with derived title", mock.titleCalls)
	}

	// repeat with the same list: title unchanged again
	store.UpdateMessages(ctx, id, []chat.Message{
		{ID: "b1", Sender: chat.SenderBot, Text: "hi"},
		{ID: "u1", Sender: chat.SenderUser, Text: "What is Bitcoin worth today?"},
	})
	if len(mock.titleCalls) != 1 {
		t.Errorf("title persisted again without change: %v", mock.titleCalls)
	}
}

func TestUpdateMessagesPersistFailureKeepsLocalState(t *testing.T) {
	ctx := context.Background()
	mock := &mockStore{saveErr: errors.New("store down")}
	store := NewStore(mock, "test")
	id := store.Create(ctx)

	store.UpdateMessages(ctx, id, []chat.Message{{ID: "u1", Sender: chat.SenderUser, Text: "hello"}})

	current, err := store.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if len(current.Messages) != 1 || current.Messages[0].Text != "hello" {
		t.Errorf("in-memory messages rolled back on persist failure: %+v", current.Messages)
	}
}

func TestSendAppliesTokensInOrder(t *testing.T) {
	ctx := context.Background()
	mock := &mockStore{}
	store := NewStore(mock, "test")
	store.Create(ctx)

	streamer := &fakeStreamer{events: []chat.StreamEvent{
		{Type: chat.EventToken, Content: "a"},
		{Type: chat.EventToken, Content: "b"},
		{Type: chat.EventToken, Content: "c"},
	}}
	if err := store.Send(ctx, "spell abc", streamer); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	current, err := store.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if len(current.Messages) != 2 {
		t.Fatalf("session has %d messages, want 2", len(current.Messages))
	}
	bot := current.Messages[1]
	if bot.Text != "abc" {
		t.Errorf("finalized bot text = %q, want %q", bot.Text, "abc")
	}
	if bot.IsStreaming {
		t.Error("finalized bot message still marked streaming")
	}
}

func TestSendChartsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&mockStore{}, "test")
	store.Create(ctx)

	c1 := []chat.Chart{json.RawMessage(`{"series":"first"}`)}
	c2 := []chat.Chart{json.RawMessage(`{"series":"second"}`)}
	streamer := &fakeStreamer{events: []chat.StreamEvent{
		{Type: chat.EventToken, Content: "here you go"},
		{Type: chat.EventCharts, Charts: c1},
		{Type: chat.EventCharts, Charts: c2},
	}}
	if err := store.Send(ctx, "chart it", streamer); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	current, _ := store.Current()
	bot := current.Messages[len(current.Messages)-1]
	if len(bot.Charts) != 1 || string(bot.Charts[0]) != `{"series":"second"}` {
		t.Errorf("finalized charts = %v, want the last charts event", bot.Charts)
	}
}

func TestSendEmptyBufferUsesFallbackReply(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&mockStore{}, "test")
	store.Create(ctx)

	if err := store.Send(ctx, "hello", &fakeStreamer{}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	current, _ := store.Current()
	bot := current.Messages[len(current.Messages)-1]
	if bot.Text != chat.FallbackReply {
		t.Errorf("bot text = %q, want fallback reply", bot.Text)
	}
}

func TestSendErrorPathPreservesUserInput(t *testing.T) {
	ctx := context.Background()
	mock := &mockStore{}
	store := NewStore(mock, "test")
	store.Create(ctx)

	streamer := &fakeStreamer{err: errors.New("connection reset")}
	if err := store.Send(ctx, "hello", streamer); err == nil {
		t.Fatal("Send() returned nil, want stream error")
	}

	current, err := store.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if len(current.Messages) != 2 {
		t.Fatalf("session has %d messages, want 2", len(current.Messages))
	}
	if current.Messages[0].Sender != chat.SenderUser || current.Messages[0].Text != "hello" {
		t.Errorf("user message = %+v, want preserved input", current.Messages[0])
	}
	if current.Messages[1].Sender != chat.SenderBot || !current.Messages[1].IsError {
		t.Errorf("bot message = %+v, want error notice", current.Messages[1])
	}

	// the failed exchange is still committed durably
	if len(mock.savedMessages) != 2 {
		t.Errorf("saved %d messages, want 2", len(mock.savedMessages))
	}
}

func TestSendHistoryWindow(t *testing.T) {
	ctx := context.Background()
	history := []chat.Message{
		{ID: "m1", Sender: chat.SenderUser, Text: "one"},
		{ID: "m2", Sender: chat.SenderBot, Text: "two"},
		{ID: "m3", Sender: chat.SenderUser, Text: "three"},
		{ID: "m4", Sender: chat.SenderBot, Text: ""},
		{ID: "m5", Sender: chat.SenderUser, Text: "five"},
		{ID: "m6", Sender: chat.SenderBot, Text: "six"},
	}
	mock := &mockStore{listResult: []*chat.Session{{ID: "s1", Messages: history}}}
	store := NewStore(mock, "test")
	if err := store.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	streamer := &fakeStreamer{events: []chat.StreamEvent{{Type: chat.EventToken, Content: "ok"}}}
	if err := store.Send(ctx, "next", streamer); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// last 4 prior messages, filtered to non-empty text
	want := []string{"three", "five", "six"}
	if len(streamer.history) != len(want) {
		t.Fatalf("history has %d messages, want %d", len(streamer.history), len(want))
	}
	for i, text := range want {
		if streamer.history[i].Text != text {
			t.Errorf("history[%d].Text = %q, want %q", i, streamer.history[i].Text, text)
		}
	}
}

func TestSendWithoutCurrentSession(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&mockStore{}, "test")
	if err := store.Send(ctx, "hello", &fakeStreamer{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Send() without session error = %v, want ErrNotFound", err)
	}
}

func TestSelectUnknownSession(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&mockStore{}, "test")
	if err := store.Select(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Select() unknown id error = %v, want ErrNotFound", err)
	}
}
