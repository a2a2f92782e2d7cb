package session

const (
	// charsPerToken is the ~4 characters/token English heuristic. The budget
	// is deliberately approximate; it bounds the context window, it does not
	// bill anyone.
	charsPerToken = 4

	// MaxPromptTokens is the estimator ceiling above which a new message is
	// truncated before prompt assembly.
	MaxPromptTokens = 3000

	// MaxMessageChars is the hard character cutoff applied to an oversized
	// message: MaxPromptTokens × charsPerToken, so the estimator threshold and
	// the cut agree on where the budget lies.
	MaxMessageChars = MaxPromptTokens * charsPerToken
)

// EstimateTokens returns an approximate token count for text. Deterministic
// and monotonic in text length; not a vendor tokenizer.
func EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// TruncateMessage applies the budget policy to a new message: when the
// estimated cost exceeds MaxPromptTokens the message is hard-cut at
// MaxMessageChars. The cut lands on a rune boundary so the result stays valid
// UTF-8. Only the newest message is ever truncated — history entries already
// admitted to the window are never revisited.
func TruncateMessage(text string) string {
	if EstimateTokens(text) <= MaxPromptTokens {
		return text
	}
	cut := MaxMessageChars
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// isRuneStart reports whether b is the first byte of a UTF-8 sequence.
func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
