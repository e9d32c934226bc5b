package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTitle is the placeholder title a session carries until its
	// first user message is known.
	DefaultTitle = "New Chat"

	// FallbackReply is used when a stream completes without producing any text.
	FallbackReply = "Sorry, I could not process your request."

	// ErrorReply is the synthesized bot message for a failed exchange.
	ErrorReply = "Sorry, there was an error connecting to the assistant. Please try again."

	// HistoryWindow bounds how many prior messages are sent as context.
	HistoryWindow = 4
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Chart is an opaque chart descriptor produced by the backend. Its contents
// are only interpreted by the chart-rendering collaborator.
type Chart = json.RawMessage

// Message represents a single chat message
type Message struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Sender      Sender    `json:"sender"`
	Timestamp   time.Time `json:"timestamp"`
	Charts      []Chart   `json:"charts,omitempty"`
	IsStreaming bool      `json:"isStreaming,omitempty"`
	IsError     bool      `json:"isError,omitempty"`
}

// NewMessage creates a new finalized Message instance
func NewMessage(sender Sender, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    sender,
		Timestamp: time.Now(),
	}
}

// NewStreamingPlaceholder creates an empty bot message that is actively
// receiving tokens.
func NewStreamingPlaceholder() Message {
	return Message{
		ID:          uuid.NewString(),
		Sender:      SenderBot,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// NewErrorMessage creates the fixed-text failure notice committed when an
// exchange fails.
func NewErrorMessage() Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      ErrorReply,
		Sender:    SenderBot,
		Timestamp: time.Now(),
		IsError:   true,
	}
}

type EventType string

const (
	EventToken  EventType = "token"
	EventCharts EventType = "charts"
	EventDone   EventType = "done"
	EventError  EventType = "error"
)

// StreamEvent is one decoded record from the chat streaming endpoint. Type
// discriminates which of the remaining fields is meaningful.
type StreamEvent struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Charts  []Chart   `json:"charts,omitempty"`
	Error   string    `json:"error,omitempty"`
}
