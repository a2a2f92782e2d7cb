package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bdobrica/aibuddy/internal/aibuddy/session"
)

func TestComplete_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key-123" {
			t.Errorf("unexpected Authorization header: %s", r.Header.Get("Authorization"))
		}

		var req oaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("expected default model, got %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(oaiResponse{
			Choices: []oaiChoice{
				{Message: oaiMessage{Role: "assistant", Content: "hello back"}},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "test-key-123", BaseURL: srv.URL})
	got, err := c.Complete(context.Background(), []session.Message{
		{Role: session.RoleSystem, Content: "you are a test"},
		{Role: session.RoleUser, Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got != "hello back" {
		t.Errorf("Complete() = %q, want %q", got, "hello back")
	}
}

func TestComplete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(oaiResponse{
			Error: &oaiError{Message: "rate limited", Type: "rate_limit_error"},
		})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), []session.Message{
		{Role: session.RoleUser, Content: "hi"},
	})
	if err == nil {
		t.Fatal("expected error from API error body")
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(oaiResponse{})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), []session.Message{
		{Role: session.RoleUser, Content: "hi"},
	})
	if err == nil {
		t.Fatal("expected error when no choices are returned")
	}
}

func TestGenerateImage_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("expected /images/generations, got %s", r.URL.Path)
		}
		var req imageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.N != 1 || req.Size != "1024x1024" || req.ResponseFormat != "url" {
			t.Errorf("unexpected image request: %+v", req)
		}

		json.NewEncoder(w).Encode(imageResponse{
			Data: []struct {
				URL string `json:"url"`
			}{{URL: "https://img.example/cat.png"}},
		})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL})
	url, err := c.GenerateImage(context.Background(), "a cat in a hat")
	if err != nil {
		t.Fatalf("GenerateImage() error: %v", err)
	}
	if url != "https://img.example/cat.png" {
		t.Errorf("GenerateImage() = %q", url)
	}
}

func TestGenerateImage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(imageResponse{
			Error: &oaiError{Message: "prompt rejected", Type: "invalid_request_error"},
		})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := c.GenerateImage(context.Background(), "something disallowed")
	if err == nil {
		t.Fatal("expected error from API error body")
	}
}
