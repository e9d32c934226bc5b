package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cryptochat/internal/config"
)

func TestTrending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trending" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"success":true,"data":{"coins":[{"item":{"name":"Bitcoin"}}]}}`)
	}))
	t.Cleanup(srv.Close)

	trending, err := NewClient(&config.Config{BaseURL: srv.URL}).Trending(context.Background())
	if err != nil {
		t.Fatalf("Trending() error = %v", err)
	}
	if !strings.Contains(string(trending.Data), "Bitcoin") {
		t.Errorf("trending data = %s", trending.Data)
	}
}

func TestTrendingFailureEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"success":false,"error":"CoinGecko API error: 502"}`)
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(&config.Config{BaseURL: srv.URL}).Trending(context.Background())
	if err == nil {
		t.Fatal("Trending() returned nil, want error")
	}
	if !strings.Contains(err.Error(), "CoinGecko API error") {
		t.Errorf("Trending() error = %v", err)
	}
}

func TestNews(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"success":true,"source":"cryptocompare","count":1,"news":[{"title":"BTC hits a new high","source":"Wire","url":"https://example.com/a"}]}`)
	}))
	t.Cleanup(srv.Close)

	news, err := NewClient(&config.Config{BaseURL: srv.URL}).News(context.Background(), "bitcoin", 2, 5)
	if err != nil {
		t.Fatalf("News() error = %v", err)
	}

	if !strings.Contains(gotQuery, "search=bitcoin") || !strings.Contains(gotQuery, "page=2") || !strings.Contains(gotQuery, "per_page=5") {
		t.Errorf("request query = %q", gotQuery)
	}
	if len(news.News) != 1 || news.News[0].Title != "BTC hits a new high" {
		t.Errorf("news = %+v", news.News)
	}
}
