package newsletter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cryptochat/internal/config"
)

func TestSubscribe(t *testing.T) {
	var gotReq SubscribeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/newsletter/subscribe" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		fmt.Fprint(w, `{"success":true,"message":"Subscribed successfully"}`)
	}))
	t.Cleanup(srv.Close)

	result, err := NewClient(&config.Config{BaseURL: srv.URL}).
		Subscribe(context.Background(), "user@example.com", []string{"bitcoin", "defi"}, "User")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if result.Message != "Subscribed successfully" {
		t.Errorf("message = %q", result.Message)
	}
	if gotReq.Email != "user@example.com" || len(gotReq.Topics) != 2 {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := NewClient(&config.Config{BaseURL: "http://unused"})

	if _, err := c.Subscribe(context.Background(), "", []string{"bitcoin"}, ""); err == nil {
		t.Error("Subscribe() without email returned nil, want error")
	}
	if _, err := c.Subscribe(context.Background(), "user@example.com", nil, ""); err == nil {
		t.Error("Subscribe() without topics returned nil, want error")
	}
}

func TestUnsubscribeFailureEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"success":false,"error":"Email not found"}`)
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(&config.Config{BaseURL: srv.URL}).Unsubscribe(context.Background(), "user@example.com")
	if err == nil {
		t.Fatal("Unsubscribe() returned nil, want error")
	}
	if !strings.Contains(err.Error(), "Email not found") {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}
