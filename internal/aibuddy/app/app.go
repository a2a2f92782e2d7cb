// Package app provides the main AiBuddy application
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/aibuddy/internal/aibuddy/commands"
	"github.com/bdobrica/aibuddy/internal/aibuddy/config"
	"github.com/bdobrica/aibuddy/internal/aibuddy/content"
	"github.com/bdobrica/aibuddy/internal/aibuddy/matrix"
	"github.com/bdobrica/aibuddy/internal/aibuddy/openai"
	"github.com/bdobrica/aibuddy/internal/aibuddy/store"
)

// typingTimeout is how long the typing indicator stays up while waiting on
// the upstream model.
const typingTimeout = 30 * time.Second

// App is the main AiBuddy application
type App struct {
	config       *config.Config
	store        *store.Store
	matrix       *matrix.Client
	router       *commands.Router
	handlers     *commands.Handlers
	healthServer *HealthServer
}

// New creates a new AiBuddy application
func New(cfg *config.Config) (*App, error) {
	// Initialize database
	slog.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	sessions := store.NewSessionStore(st)

	// Initialize Matrix client.
	// Inject the DB so the client can persist the sync token across restarts.
	matrixCfg := matrix.Config{
		Homeserver:  cfg.Homeserver,
		UserID:      cfg.UserID,
		AccessToken: cfg.AccessToken,
		Rooms:       cfg.Rooms,
		DB:          st.DB(),
	}
	slog.Info("connecting to Matrix", "homeserver", matrixCfg.Homeserver)
	matrixClient, err := matrix.New(&matrixCfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
	}

	// Upstream OpenAI client for chat completions and image generation.
	oai := openai.New(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.Model,
	})

	handlers := commands.NewHandlers(commands.HandlersConfig{
		Sessions:  sessions,
		Completer: oai,
		Images:    oai,
		Extractor: content.NewExtractor(),
		Persona:   cfg.Persona,
		Quota:     cfg.Quota,
	})

	// Register command handlers
	router := commands.NewRouter()
	router.Register("help", handlers.HandleHelp)
	router.Register("ask", handlers.HandleAsk)
	router.Register("pretend", handlers.HandlePretend)
	router.Register("status", handlers.HandleStatus)
	router.Register("summarize", handlers.HandleSummarize)
	router.Register("clear", handlers.HandleClear)

	app := &App{
		config:   cfg,
		store:    st,
		matrix:   matrixClient,
		router:   router,
		handlers: handlers,
	}

	// Image responses go out as m.image events, not text, so /imagine gets a
	// wrapper that re-hosts the generated picture on the homeserver.
	router.Register("imagine", app.handleImagine)

	// Optionally build the health/status HTTP server.
	if cfg.HTTPAddr != "" {
		app.healthServer = NewHealthServer(cfg.HTTPAddr, sessions)
		slog.Info("health server configured", "addr", cfg.HTTPAddr)
	}

	return app, nil
}

// Run starts the AiBuddy application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start health/status HTTP server if configured.
	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	// Start Matrix client
	slog.Info("starting Matrix sync")
	if err := a.matrix.Start(ctx, a.handleMessage); err != nil {
		return fmt.Errorf("failed to start Matrix client: %w", err)
	}

	// Announce availability in each configured room.
	for _, roomID := range a.config.Rooms {
		if err := a.matrix.SendMessage(roomID, "Hi! I'm AiBuddy. Type /help to see what I can do."); err != nil {
			slog.Warn("failed to send startup message", "room", roomID, "err", err)
		}
	}

	slog.Info("AiBuddy is running; press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop stops the AiBuddy application
func (a *App) Stop() {
	slog.Info("stopping Matrix client")
	a.matrix.Stop()

	if a.healthServer != nil {
		slog.Info("stopping health server")
		a.healthServer.Stop()
	}

	slog.Info("closing database")
	a.store.Close()
}

// handleMessage processes incoming Matrix messages
func (a *App) handleMessage(ctx context.Context, evt *event.Event) {
	msgContent := evt.Content.AsMessage()
	if msgContent == nil {
		return
	}
	text := msgContent.Body
	roomID := evt.RoomID.String()

	// Show a typing indicator while the upstream call is in flight; model
	// responses can take tens of seconds.
	if err := a.matrix.SetTyping(roomID, true, typingTimeout); err != nil {
		slog.Debug("failed to set typing indicator", "room", roomID, "err", err)
	}
	defer a.matrix.SetTyping(roomID, false, 0)

	response, err := a.router.Route(ctx, text, evt)
	if err != nil {
		if errors.Is(err, commands.ErrNotACommand) {
			// Plain chat message — relay it through the session engine.
			response, err = a.handlers.HandleChat(ctx, text, evt)
			if err != nil {
				a.replyError(evt, err)
				return
			}
		} else {
			a.replyError(evt, err)
			return
		}
	}

	// Send response — use the formatted variant so Markdown syntax (bold, code
	// blocks, etc.) is rendered by Matrix clients that support HTML messages.
	if response != "" {
		htmlBody := markdownToHTML(response)
		if err := a.matrix.SendFormattedMessage(roomID, htmlBody, response); err != nil {
			slog.Error("failed to send response", "room", roomID, "err", err)
		}
	}
}

// handleImagine wraps the /imagine handler: a successful generation is posted
// as a re-hosted m.image event; refusals and validation messages pass through
// as text.
func (a *App) handleImagine(ctx context.Context, cmd *commands.Command, evt *event.Event) (string, error) {
	resp, err := a.handlers.HandleImagine(ctx, cmd, evt)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(resp, "http") {
		// A refusal or prompt-for-input message, not an image URL.
		return resp, nil
	}

	if err := a.matrix.SendImageURL(ctx, evt.RoomID.String(), resp, cmd.Text); err != nil {
		slog.Warn("failed to post image; falling back to URL", "err", err)
		return resp, nil
	}
	return "", nil
}

// replyError reports a handler failure as a threaded reply.
func (a *App) replyError(evt *event.Event, err error) {
	msg := fmt.Sprintf("❌ Error: %s", err)
	if sendErr := a.matrix.ReplyToMessage(evt.RoomID.String(), evt.ID.String(), msg); sendErr != nil {
		slog.Error("failed to send error reply", "room", evt.RoomID.String(), "err", sendErr)
	}
}

// markdownToHTML converts the small subset of Markdown produced by AiBuddy
// handlers and the upstream model into HTML suitable for a Matrix m.text
// event with format=org.matrix.custom.html.
//
// Supported constructs (in order of processing):
//   - Fenced code blocks  ```…```  → <pre><code>…</code></pre>
//   - Inline code  `…`             → <code>…</code>
//   - Bold  **…**                  → <strong>…</strong>
//   - Newlines                     → <br/>
func markdownToHTML(md string) string {
	// Process fenced code blocks first so their content is not touched by
	// subsequent inline passes.
	var out strings.Builder
	lines := strings.Split(md, "\n")
	inCode := false
	for _, line := range lines {
		if strings.HasPrefix(line, "```") {
			if !inCode {
				out.WriteString("<pre><code>")
				inCode = true
			} else {
				out.WriteString("</code></pre>")
				inCode = false
			}
			continue
		}
		if inCode {
			// Escape HTML entities inside code blocks.
			escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(line)
			out.WriteString(escaped)
			out.WriteString("\n")
		} else {
			out.WriteString(line)
			out.WriteString("\n")
		}
	}
	result := out.String()

	// Inline code: `…`
	result = replaceDelimited(result, "`", "<code>", "</code>")

	// Bold: **…**
	result = replaceDelimited(result, "**", "<strong>", "</strong>")

	// Convert bare newlines to <br/>.
	result = strings.ReplaceAll(result, "\n", "<br/>")

	return result
}

// replaceDelimited replaces occurrences of delim…delim with open+content+close.
// Only complete pairs are replaced; an unmatched opener is left as-is.
func replaceDelimited(s, delim, open, close string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, delim)
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start+len(delim):], delim)
		if end == -1 {
			b.WriteString(s)
			break
		}
		end += start + len(delim) // absolute index of closing delim
		b.WriteString(s[:start])
		b.WriteString(open)
		b.WriteString(s[start+len(delim) : end])
		b.WriteString(close)
		s = s[end+len(delim):]
	}
	return b.String()
}
