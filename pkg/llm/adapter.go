package llm

import "context"

// Message roles, in the order they may appear in a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Token is one incremental piece of a streamed completion. A token with
// IsDone set carries no content and marks the end of the stream.
type Token struct {
	Content string
	IsDone  bool
}

type GenerationConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// StreamClient defines the contract for any streaming LLM implementation.
type StreamClient interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// StreamCompletion requests a completion for the conversation and
	// streams tokens back. A successful stream delivers a final Token
	// with IsDone set before the channel closes; a channel that closes
	// without one signals a broken stream (dropped connection, provider
	// hangup) and the consumer must treat the response as incomplete.
	StreamCompletion(ctx context.Context, messages []Message, cfg GenerationConfig) (<-chan Token, error)
}
