// Package openai provides minimal clients for the OpenAI-compatible chat
// completions and image generation endpoints. The bot treats any error from
// this package as "do not mutate the session" — quota is only debited after a
// successful upstream response.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bdobrica/aibuddy/internal/aibuddy/session"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
)

// Config configures the OpenAI-compatible client.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint. Useful for local models (Ollama),
	// Azure OpenAI, or any other OpenAI-compatible endpoint.
	// Defaults to https://api.openai.com/v1 when empty.
	BaseURL string

	// Model is the chat model to use. Defaults to gpt-4o-mini when empty.
	Model string

	// Timeout is the HTTP request timeout. Defaults to 60 s — completions for
	// long summaries can take a while.
	Timeout time.Duration
}

// Client talks to the chat-completions and images APIs. Safe for concurrent
// use.
type Client struct {
	cfg    Config
	client *http.Client
}

// New returns a Client with defaults applied.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
}

type oaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Error   *oaiError   `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// Complete sends the assembled prompt to the chat-completions endpoint and
// returns the generated text.
func (c *Client) Complete(ctx context.Context, msgs []session.Message) (string, error) {
	wire := make([]oaiMessage, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, oaiMessage{Role: m.Role, Content: m.Content})
	}

	body := oaiRequest{Model: c.cfg.Model, Messages: wire}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	respBody, status, err := c.post(ctx, "/chat/completions", data)
	if err != nil {
		return "", err
	}

	var resp oaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("openai: decode API response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("openai: API error (%s): %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices returned (HTTP %d)", status)
	}
	return resp.Choices[0].Message.Content, nil
}

// post issues an authenticated JSON POST and returns the raw response body.
func (c *Client) post(ctx context.Context, path string, data []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("openai: create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("openai: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("openai: read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}
