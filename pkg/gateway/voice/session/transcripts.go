package session

import (
	"strings"
	"sync"

	"github.com/aeternacy/aeterngw/pkg/ai"
)

// turnAccumulator collects incremental transcript fragments for the
// current turn and flushes them into the persistent message history
// when the server signals turn completion.
type turnAccumulator struct {
	mu      sync.Mutex
	user    strings.Builder
	ai      strings.Builder
	history []ai.ChatMessage
}

func (t *turnAccumulator) addUser(fragment string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.user.WriteString(fragment)
}

func (t *turnAccumulator) addAI(fragment string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ai.WriteString(fragment)
}

// flush moves the accumulated turn into history, one user entry and one
// companion entry, each only if non-empty, and resets the accumulators.
func (t *turnAccumulator) flush() (userText, aiText string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	userText = strings.TrimSpace(t.user.String())
	aiText = strings.TrimSpace(t.ai.String())
	if userText != "" {
		t.history = append(t.history, ai.ChatMessage{Role: "user", Text: userText})
	}
	if aiText != "" {
		t.history = append(t.history, ai.ChatMessage{Role: "model", Text: aiText})
	}
	t.user.Reset()
	t.ai.Reset()
	return userText, aiText
}

// appendAI injects a message straight into history, bypassing the
// accumulators. Used for the apology on transport failure.
func (t *turnAccumulator) appendAI(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, ai.ChatMessage{Role: "model", Text: text})
}

// clear drops the live accumulators without touching history.
func (t *turnAccumulator) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.user.Reset()
	t.ai.Reset()
}

// History returns a copy of the flushed conversation so far.
func (t *turnAccumulator) History() []ai.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ai.ChatMessage, len(t.history))
	copy(out, t.history)
	return out
}
