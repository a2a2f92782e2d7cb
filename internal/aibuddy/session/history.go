package session

// HistoryMax is the fixed bound on the history window. Eviction is strict
// FIFO: appending to a full window drops exactly the oldest entry. The window
// deliberately does no relevance scoring — it is a latency/simplicity
// trade-off, not a cache.
const HistoryMax = 6

// AppendHistory appends utterance at the tail of the history window, evicting
// from the head until the window is back within HistoryMax entries.
func (s *Session) AppendHistory(utterance string) {
	s.History = append(s.History, utterance)
	for len(s.History) > HistoryMax {
		s.History = s.History[1:]
	}
}

// ClearHistory empties the history window. Quota counters and persona are
// unaffected.
func (s *Session) ClearHistory() {
	s.History = nil
}
