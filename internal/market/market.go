// Package market fetches dashboard data from the backend: trending coins
// from CoinGecko and crypto news, both proxied by the chat server.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
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

// TrendingResponse wraps the CoinGecko trending payload. Data is kept
// opaque; its shape belongs to the upstream API.
type TrendingResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

type NewsVotes struct {
	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
}

type NewsItem struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Source      string   `json:"source"`
	URL         string   `json:"url"`
	ImageURL    string   `json:"imageurl"`
	// epoch seconds from the aggregator or an RFC timestamp from the RSS
	// fallback, depending on which source served the request
	PublishedAt json.RawMessage `json:"published_at"`
	Tags        string          `json:"tags"`
	Categories  []string        `json:"categories"`
	Votes       NewsVotes       `json:"votes"`
}

type NewsResponse struct {
	Success     bool       `json:"success"`
	Source      string     `json:"source"`
	SearchQuery string     `json:"search_query,omitempty"`
	Count       int        `json:"count"`
	News        []NewsItem `json:"news"`
	Error       string     `json:"error,omitempty"`
}

// Trending fetches the trending coins, NFTs and categories board.
func (c *Client) Trending(ctx context.Context) (*TrendingResponse, error) {
	trending := TrendingResponse{}
	if err := c.get(ctx, c.Config.BaseURL+"/trending", &trending); err != nil {
		return nil, err
	}
	if !trending.Success {
		return nil, fmt.Errorf("trending request failed: %s", trending.Error)
	}
	return &trending, nil
}

// News fetches the latest crypto news, optionally filtered by a search
// query, with page/perPage pagination.
func (c *Client) News(ctx context.Context, search string, page, perPage int) (*NewsResponse, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))
	if search != "" {
		query.Set("search", search)
	}

	news := NewsResponse{}
	if err := c.get(ctx, c.Config.BaseURL+"/news?"+query.Encode(), &news); err != nil {
		return nil, err
	}
	if !news.Success {
		return nil, fmt.Errorf("news request failed: %s", news.Error)
	}
	return &news, nil
}

func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		slog.Error("Failed to build market request", "error", err)
		return err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send market request", "url", rawURL, "error", err)
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		slog.Error("Failed to read market response body", "error", err)
		return err
	}

	// error payloads carry the same envelope, so decode regardless of status
	if err := json.Unmarshal(body, out); err != nil {
		slog.Error("Failed to unmarshal market response body", "status", res.StatusCode, "error", err)
		return fmt.Errorf("market request failed: status code %d", res.StatusCode)
	}
	return nil
}
