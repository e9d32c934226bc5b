// Package newsletter manages newsletter subscriptions through the backend.
package newsletter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cryptochat/internal/config"
)

type Client struct {
	httpClient *http.Client
	Config     *config.Config
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: time.Second * 15},
		Config:     cfg,
	}
}

type SubscribeRequest struct {
	Email    string   `json:"email"`
	Topics   []string `json:"topics"`
	UserName string   `json:"userName,omitempty"`
}

type UnsubscribeRequest struct {
	Email string `json:"email"`
}

type SubscriptionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Subscribe signs an email address up for the newsletter with at least one
// topic.
func (c *Client) Subscribe(ctx context.Context, email string, topics []string, userName string) (*SubscriptionResponse, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("at least one topic must be selected")
	}
	payload := SubscribeRequest{Email: email, Topics: topics, UserName: userName}
	return c.post(ctx, "/api/newsletter/subscribe", payload)
}

// Unsubscribe removes an email address from the newsletter.
func (c *Client) Unsubscribe(ctx context.Context, email string) (*SubscriptionResponse, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	return c.post(ctx, "/api/newsletter/unsubscribe", UnsubscribeRequest{Email: email})
}

func (c *Client) post(ctx context.Context, path string, payload any) (*SubscriptionResponse, error) {
	reqBytes, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal newsletter request", "error", err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Config.BaseURL+path, bytes.NewBuffer(reqBytes))
	if err != nil {
		slog.Error("Failed to build newsletter request", "error", err)
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send newsletter request", "path", path, "error", err)
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		slog.Error("Failed to read newsletter response body", "error", err)
		return nil, err
	}

	subscription := SubscriptionResponse{}
	if err := json.Unmarshal(body, &subscription); err != nil {
		slog.Error("Failed to unmarshal newsletter response body", "status", res.StatusCode, "error", err)
		return nil, fmt.Errorf("newsletter request failed: status code %d", res.StatusCode)
	}
	if !subscription.Success {
		reason := subscription.Error
		if reason == "" {
			reason = subscription.Message
		}
		return &subscription, fmt.Errorf("newsletter request failed: %s", reason)
	}
	return &subscription, nil
}
