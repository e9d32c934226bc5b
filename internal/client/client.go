package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cryptochat/internal/config"
)

const (
	JSONContentType = "application/json"
	EventStreamType = "text/event-stream"
	defaultTimeout  = time.Second * 10
)

type ApiErrorResponse struct {
	Error string `json:"error"`
}

// Client talks to the chat backend. Plain request/response calls go through
// httpClient; the streaming endpoint uses streamClient, which carries no
// overall timeout because a stream stays open for the whole response.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	Config       *config.Config
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: defaultTimeout},
		streamClient: &http.Client{},
		Config:       cfg,
	}
}

func handleApiError(res *http.Response, body []byte) error {
	if res.StatusCode == http.StatusOK {
		return nil
	}
	apiErr := ApiErrorResponse{}
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error == "" {
		return fmt.Errorf("api request failed: status code %d", res.StatusCode)
	}
	return fmt.Errorf("api request failed: status code %d, message %s", res.StatusCode, apiErr.Error)
}
