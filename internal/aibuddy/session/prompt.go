package session

// Role values for assembled prompt messages, matching the chat-completions
// wire format.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one (role, content) pair in an assembled prompt.
type Message struct {
	Role    string
	Content string
}

// Assemble builds the ordered message list for the upstream model:
//
//  1. the system instruction — the session's persona override when set,
//     otherwise defaultPersona,
//  2. the history window, oldest first, as user messages (the window already
//     reflects FIFO eviction; no further trimming happens here),
//  3. the new message, truncated per the token-budget policy, as the final
//     user message.
//
// Assemble is pure and total: it performs no I/O and always returns at least
// the system and new-message entries.
func Assemble(s *Session, newMessage, defaultPersona string) []Message {
	persona := defaultPersona
	if s.PersonaOverride != "" {
		persona = s.PersonaOverride
	}

	msgs := make([]Message, 0, len(s.History)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: persona})
	for _, h := range s.History {
		msgs = append(msgs, Message{Role: RoleUser, Content: h})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: TruncateMessage(newMessage)})
	return msgs
}
