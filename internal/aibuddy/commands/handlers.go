package commands

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/aibuddy/internal/aibuddy/session"
)

// User-facing replies. Defined here so the transport layer never hard-codes
// them.
const (
	// NoRequestsLeftMessage is the QuotaExhausted refusal.
	NoRequestsLeftMessage = "You have no requests left."

	// NoQuestionMessage is returned when /ask is issued with no text.
	NoQuestionMessage = "Please provide a question."

	// NoPromptMessage is returned when /imagine is issued with no text.
	NoPromptMessage = "Please describe the image you want."

	// NoURLMessage is returned when /summarize finds no URL in the message.
	NoURLMessage = "Please provide a URL to summarize."

	// NoContentMessage is returned when a page yields no extractable text.
	NoContentMessage = "Could not extract content from that URL."

	// HistoryClearedMessage confirms /clear.
	HistoryClearedMessage = "Chat history cleared!"
)

// summarizePromptTmpl frames extracted page content for the model. Two verbs:
// the URL and the content.
const summarizePromptTmpl = `Summarize the following content in a list, ignoring any mentions of subscribing to a newspaper or magazine. ----
Url: %q.

Content:
%q`

// urlPattern matches the first http(s) URL in a message.
var urlPattern = regexp.MustCompile(`https?://\S+`)

// Completer is the upstream chat-completion collaborator.
type Completer interface {
	Complete(ctx context.Context, msgs []session.Message) (string, error)
}

// ImageGenerator is the upstream image-generation collaborator.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Extractor fetches a web page and reduces it to readable text.
type Extractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// HandlersConfig wires the handlers' collaborators.
type HandlersConfig struct {
	Sessions  session.Store
	Completer Completer
	Images    ImageGenerator
	Extractor Extractor

	// Persona is the default system instruction; a session's override wins.
	Persona string
	// Quota is the allowance for newly created sessions.
	Quota int
}

// Handlers implements the bot commands. Each interaction takes the user's
// lock for its whole load → call → mutate → save span so overlapping
// messages from one user cannot race the read-modify-write cycle.
type Handlers struct {
	sessions  session.Store
	completer Completer
	images    ImageGenerator
	extractor Extractor
	persona   string
	quota     int
	locks     *session.UserLocks
}

// NewHandlers creates the command handlers.
func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{
		sessions:  cfg.Sessions,
		completer: cfg.Completer,
		images:    cfg.Images,
		extractor: cfg.Extractor,
		persona:   cfg.Persona,
		quota:     cfg.Quota,
		locks:     session.NewUserLocks(),
	}
}

// HandleHelp lists the available commands.
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	return strings.Join([]string{
		"**AiBuddy commands**",
		"`/ask <question>` — ask a question",
		"`/imagine <description>` — generate an image",
		"`/pretend <persona>` — change who I pretend to be (empty to reset)",
		"`/summarize <url>` — summarize a web page",
		"`/status` — show your usage",
		"`/clear` — clear your chat history",
	}, "\n"), nil
}

// HandleAsk relays a question through the session engine.
func (h *Handlers) HandleAsk(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if cmd.Text == "" {
		return NoQuestionMessage, nil
	}
	return h.chatInteraction(ctx, evt, cmd.Text, false)
}

// HandleChat handles a plain (non-command) message: URLs are summarized,
// everything else is treated like /ask.
func (h *Handlers) HandleChat(ctx context.Context, text string, evt *event.Event) (string, error) {
	if url := urlPattern.FindString(text); url != "" {
		return h.summarize(ctx, evt, url)
	}
	return h.chatInteraction(ctx, evt, text, false)
}

// HandleImagine generates an image. Image prompts do not join the text
// history window; only the quota moves.
func (h *Handlers) HandleImagine(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	if cmd.Text == "" {
		return NoPromptMessage, nil
	}

	userID, username := senderIdentity(evt)
	unlock := h.locks.Lock(userID)
	defer unlock()

	sess, err := session.GetOrCreate(ctx, h.sessions, userID, username, h.quota)
	if err != nil {
		return "", err
	}
	if !sess.HasCapacity() {
		return NoRequestsLeftMessage, nil
	}

	requestID := uuid.New().String()
	slog.Info("image request", "request_id", requestID, "user_id", userID)

	url, err := h.images.GenerateImage(ctx, cmd.Text)
	if err != nil {
		slog.Warn("image generation failed", "request_id", requestID, "err", err)
		return "", fmt.Errorf("image generation failed: %w", err)
	}

	if err := h.commit(ctx, sess, ""); err != nil {
		return "", err
	}
	return url, nil
}

// HandlePretend sets or clears the session's persona override. No quota is
// debited — persona changes are free.
func (h *Handlers) HandlePretend(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	userID, username := senderIdentity(evt)
	unlock := h.locks.Lock(userID)
	defer unlock()

	sess, err := session.GetOrCreate(ctx, h.sessions, userID, username, h.quota)
	if err != nil {
		return "", err
	}

	sess.SetPersona(cmd.Text)
	if err := h.sessions.Save(ctx, sess); err != nil {
		return "", fmt.Errorf("could not save your persona: %w", err)
	}

	if cmd.Text == "" {
		return "Back to my usual self.", nil
	}
	return fmt.Sprintf("From now on, I'll pretend %q", cmd.Text), nil
}

// HandleStatus reports the session's all-time usage.
func (h *Handlers) HandleStatus(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	userID, username := senderIdentity(evt)
	unlock := h.locks.Lock(userID)
	defer unlock()

	sess, err := session.GetOrCreate(ctx, h.sessions, userID, username, h.quota)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("You have performed %d requests since %s. %d remaining.",
		sess.TotalRequests,
		sess.CreatedAt.UTC().Format(time.RFC1123),
		sess.RequestsRemaining,
	), nil
}

// HandleSummarize summarizes the web page linked in the command text.
func (h *Handlers) HandleSummarize(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	url := urlPattern.FindString(cmd.Text)
	if url == "" {
		return NoURLMessage, nil
	}
	return h.summarize(ctx, evt, url)
}

// HandleClear empties the session's history window.
func (h *Handlers) HandleClear(ctx context.Context, cmd *Command, evt *event.Event) (string, error) {
	userID, username := senderIdentity(evt)
	unlock := h.locks.Lock(userID)
	defer unlock()

	sess, err := session.GetOrCreate(ctx, h.sessions, userID, username, h.quota)
	if err != nil {
		return "", err
	}

	sess.ClearHistory()
	if err := h.sessions.Save(ctx, sess); err != nil {
		return "", fmt.Errorf("could not clear your history: %w", err)
	}
	return HistoryClearedMessage, nil
}

// summarize fetches url, frames its content as a summarization prompt, and
// runs a chat interaction on a cleared history window so unrelated prior
// messages do not leak into the summary.
func (h *Handlers) summarize(ctx context.Context, evt *event.Event, url string) (string, error) {
	content, err := h.extractor.Extract(ctx, url)
	if err != nil {
		slog.Warn("content extraction failed", "url", url, "err", err)
		return NoContentMessage, nil
	}
	if content == "" {
		return NoContentMessage, nil
	}

	prompt := fmt.Sprintf(summarizePromptTmpl, url, content)
	return h.chatInteraction(ctx, evt, prompt, true)
}

// chatInteraction is the accepted-interaction sequence: get-or-create →
// capacity check → assemble → upstream call → debit + history + save.
// The session is mutated only after the upstream call succeeds; any earlier
// failure leaves it exactly as loaded.
func (h *Handlers) chatInteraction(ctx context.Context, evt *event.Event, message string, clearHistory bool) (string, error) {
	userID, username := senderIdentity(evt)
	unlock := h.locks.Lock(userID)
	defer unlock()

	sess, err := session.GetOrCreate(ctx, h.sessions, userID, username, h.quota)
	if err != nil {
		return "", err
	}
	if !sess.HasCapacity() {
		return NoRequestsLeftMessage, nil
	}
	if clearHistory {
		sess.ClearHistory()
	}

	requestID := uuid.New().String()
	slog.Info("chat request",
		"request_id", requestID,
		"user_id", userID,
		"history_len", len(sess.History),
		"remaining", sess.RequestsRemaining,
	)

	msgs := session.Assemble(sess, message, h.persona)
	reply, err := h.completer.Complete(ctx, msgs)
	if err != nil {
		slog.Warn("completion failed", "request_id", requestID, "err", err)
		return "", fmt.Errorf("the assistant is unavailable right now: %w", err)
	}

	if err := h.commit(ctx, sess, message); err != nil {
		return "", err
	}

	slog.Info("chat response", "request_id", requestID, "user_id", userID, "reply_len", len(reply))
	return reply, nil
}

// commit records one accepted interaction and persists the session. An empty
// utterance skips the history append (image requests). A failed save is
// reported to the caller; the in-memory mutation is discarded with it, so
// the user's durable state stays at the last successful save.
func (h *Handlers) commit(ctx context.Context, sess *session.Session, utterance string) error {
	if err := sess.Debit(); err != nil {
		return err
	}
	if utterance != "" {
		sess.AppendHistory(session.TruncateMessage(utterance))
	}
	sess.Touch(time.Now())

	if err := h.sessions.Save(ctx, sess); err != nil {
		slog.Error("session save failed; interaction not recorded",
			"user_id", sess.UserID, "err", err)
		return fmt.Errorf("could not record your interaction: %w", err)
	}
	return nil
}

// senderIdentity extracts the stable user ID and a display-friendly name from
// the Matrix event.
func senderIdentity(evt *event.Event) (userID, username string) {
	return evt.Sender.String(), evt.Sender.Localpart()
}
