package conversation

import (
	"sync"

	"tableside/internal/engine"
)

// maxHistoryMessages bounds the per-session transcript kept for context.
// Older messages are dropped from the front; the model still sees the
// system prompt, which the loop prepends on every turn.
const maxHistoryMessages = 40

// historyStore keeps per-session conversation transcripts in memory.
type historyStore struct {
	mu       sync.Mutex
	messages map[string][]engine.Message
}

func newHistoryStore() *historyStore {
	return &historyStore{messages: make(map[string][]engine.Message)}
}

// Get returns a copy of the session's transcript.
func (h *historyStore) Get(sessionID string) []engine.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := h.messages[sessionID]
	out := make([]engine.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Append adds a turn's messages to the session's transcript, trimming from
// the front past the size bound. Trimming never splits an assistant
// tool-call message from its tool results.
func (h *historyStore) Append(sessionID string, msgs []engine.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	combined := append(h.messages[sessionID], msgs...)
	for len(combined) > maxHistoryMessages {
		drop := 1
		if len(combined[0].ToolCalls) > 0 {
			for drop < len(combined) && combined[drop].Role == engine.MessageRoleTool {
				drop++
			}
		}
		combined = combined[drop:]
	}
	h.messages[sessionID] = combined
}

// Forget drops the session's transcript.
func (h *historyStore) Forget(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.messages, sessionID)
}
