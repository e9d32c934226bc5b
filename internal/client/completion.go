package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"cryptochat/internal/chat"
)

// CompletionRequest is the payload for the legacy non-streaming chat
// endpoint.
type CompletionRequest struct {
	Message string `json:"message"`
}

type CompletionResponse struct {
	Response string       `json:"response"`
	Charts   []chat.Chart `json:"charts,omitempty"`
}

// Complete sends a message to the non-streaming chat endpoint and returns
// the full response at once. The streaming endpoint is the authoritative
// path; this one is kept as the superseded alternate.
func (c *Client) Complete(ctx context.Context, message string) (*CompletionResponse, error) {
	reqBytes, err := json.Marshal(CompletionRequest{Message: message})
	if err != nil {
		slog.Error("Failed to marshal completion request", "error", err)
		return nil, err
	}

	chatPath := c.Config.BaseURL + "/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatPath, bytes.NewBuffer(reqBytes))
	if err != nil {
		slog.Error("Failed to build completion request", "error", err)
		return nil, err
	}
	req.Header.Set("Content-Type", JSONContentType)
	req.Header.Set("Accept", JSONContentType)

	res, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send completion request", "error", err)
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		slog.Error("Failed to read completion response body", "error", err)
		return nil, err
	}

	if err := handleApiError(res, body); err != nil {
		slog.Error("Failed to get completion", "error", err)
		return nil, err
	}

	completion := CompletionResponse{}
	if err := json.Unmarshal(body, &completion); err != nil {
		slog.Error("Failed to unmarshal completion response body", "error", err)
		return nil, err
	}
	return &completion, nil
}

// CompletionStreamer adapts the non-streaming endpoint to the session
// store's streaming exchange: the whole response is delivered as a single
// token event, followed by a charts event when charts are present.
type CompletionStreamer struct {
	Client *Client
}

func (cs CompletionStreamer) Stream(ctx context.Context, message string, history []chat.Message, fn func(chat.StreamEvent) error) error {
	completion, err := cs.Client.Complete(ctx, message)
	if err != nil {
		return err
	}
	if err := fn(chat.StreamEvent{Type: chat.EventToken, Content: completion.Response}); err != nil {
		return err
	}
	if len(completion.Charts) > 0 {
		if err := fn(chat.StreamEvent{Type: chat.EventCharts, Charts: completion.Charts}); err != nil {
			return err
		}
	}
	return nil
}
