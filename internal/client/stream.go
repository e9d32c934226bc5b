package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"cryptochat/internal/chat"
)

const dataPrefix = "data: "

// StreamRequest is the payload sent to the streaming chat endpoint.
type StreamRequest struct {
	Message string         `json:"message"`
	History []chat.Message `json:"history"`
}

// Stream issues a request to the streaming chat endpoint and decodes the
// newline-delimited event records it produces, invoking fn for each token
// and charts event in arrival order. Malformed or unrecognized records are
// skipped; the read loop ends on a done event, an error event, or stream
// close. A non-nil return means the exchange failed.
func (c *Client) Stream(ctx context.Context, message string, history []chat.Message, fn func(chat.StreamEvent) error) error {
	reqBytes, err := json.Marshal(StreamRequest{Message: message, History: history})
	if err != nil {
		slog.Error("Failed to marshal stream request", "error", err)
		return err
	}

	streamPath := c.Config.BaseURL + "/chat/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, streamPath, bytes.NewBuffer(reqBytes))
	if err != nil {
		slog.Error("Failed to build stream request", "error", err)
		return err
	}
	req.Header.Set("Content-Type", JSONContentType)
	req.Header.Set("Accept", EventStreamType)

	res, err := c.streamClient.Do(req)
	if err != nil {
		slog.Error("Failed to send stream request", "error", err)
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(res.Body)
		if readErr != nil {
			slog.Error("Failed to read stream error response", "error", readErr)
			return readErr
		}
		err := handleApiError(res, body)
		slog.Error("Failed to open stream", "error", err)
		return err
	}

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		var event chat.StreamEvent
		if err := json.Unmarshal([]byte(line[len(dataPrefix):]), &event); err != nil {
			slog.Debug("skipping malformed stream record", "error", err)
			continue
		}

		switch event.Type {
		case chat.EventToken, chat.EventCharts:
			if err := fn(event); err != nil {
				return err
			}
		case chat.EventDone:
			return nil
		case chat.EventError:
			return fmt.Errorf("stream reported error: %s", event.Error)
		default:
			slog.Debug("skipping unknown stream event", "type", string(event.Type))
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Error("Failed to read stream", "error", err)
		return err
	}
	return nil
}
