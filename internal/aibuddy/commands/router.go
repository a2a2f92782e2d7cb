// Package commands provides command parsing and routing for AiBuddy, plus the
// handlers that orchestrate the session engine against the upstream
// collaborators.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/event"
)

// Command represents a parsed slash command.
type Command struct {
	// Name is the command word without the leading slash, e.g. "ask".
	Name string
	// Text is everything after the command word, trimmed.
	Text string
	// RawText is the full message as received.
	RawText string
}

// ErrNotACommand is returned by Parse when the message does not start with a
// slash. Callers use errors.Is to route such messages to the plain-chat
// handler instead of treating them as failures.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// Handler is a function that handles a command.
type Handler func(ctx context.Context, cmd *Command, evt *event.Event) (string, error)

// Router routes slash commands to handlers.
type Router struct {
	handlers map[string]Handler
}

// NewRouter creates a new command router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register registers a command handler under its command word.
func (r *Router) Register(command string, handler Handler) {
	r.handlers[command] = handler
}

// Parse parses a message into a command.
func (r *Router) Parse(text string) (*Command, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return nil, ErrNotACommand
	}

	word, rest, _ := strings.Cut(trimmed, " ")
	name := strings.ToLower(strings.TrimPrefix(word, "/"))
	if name == "" {
		return nil, fmt.Errorf("empty command")
	}

	return &Command{
		Name:    name,
		Text:    strings.TrimSpace(rest),
		RawText: text,
	}, nil
}

// Route parses and routes a command to its handler.
func (r *Router) Route(ctx context.Context, text string, evt *event.Event) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}

	handler, ok := r.handlers[cmd.Name]
	if !ok {
		return "", fmt.Errorf("unknown command: /%s", cmd.Name)
	}
	return handler(ctx, cmd, evt)
}
