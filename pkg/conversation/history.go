package conversation

import (
	"sync"

	"github.com/ovelia/duplex/pkg/llm"
)

// History is the append-only conversation record for one session. It always
// starts with exactly one system message; user and assistant messages append
// in strict chronological order. A new session gets a new History.
type History struct {
	mu       sync.Mutex
	messages []llm.Message
}

func NewHistory(systemPrompt string) *History {
	return &History{
		messages: []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}},
	}
}

// AppendUser appends one user message.
func (h *History) AppendUser(content string) {
	h.append(llm.RoleUser, content)
}

// AppendAssistant appends one assistant message.
func (h *History) AppendAssistant(content string) {
	h.append(llm.RoleAssistant, content)
}

func (h *History) append(role, content string) {
	h.mu.Lock()
	h.messages = append(h.messages, llm.Message{Role: role, Content: content})
	h.mu.Unlock()
}

// Messages returns a copy of the history in chronological order.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages including the system entry.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}
