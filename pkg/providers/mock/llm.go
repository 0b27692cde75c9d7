package mock

import (
	"context"
	"sync"
	"time"

	"github.com/ovelia/duplex/pkg/llm"
)

// LLMClient replays a scripted token stream.
type LLMClient struct {
	mu       sync.Mutex
	requests [][]llm.Message

	// Chunks are streamed one token each. An empty slice produces an
	// empty response; Err fails the stream request itself.
	Chunks     []string
	TokenDelay time.Duration
	Err        error

	// TruncateStream closes the channel after the chunks without the
	// final done token, the shape a dropped provider connection leaves.
	TruncateStream bool
}

func NewLLMClient(chunks ...string) *LLMClient {
	return &LLMClient{Chunks: chunks}
}

func (c *LLMClient) Name() string { return "mock" }

func (c *LLMClient) StreamCompletion(ctx context.Context, messages []llm.Message, cfg llm.GenerationConfig) (<-chan llm.Token, error) {
	c.mu.Lock()
	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	c.requests = append(c.requests, snapshot)
	chunks := c.Chunks
	delay := c.TokenDelay
	err := c.Err
	truncate := c.TruncateStream
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan llm.Token, len(chunks)+1)
	go func() {
		defer close(out)
		for _, chunk := range chunks {
			if delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			select {
			case <-ctx.Done():
				return
			case out <- llm.Token{Content: chunk}:
			}
		}
		if truncate {
			return
		}
		select {
		case <-ctx.Done():
		case out <- llm.Token{IsDone: true}:
		}
	}()
	return out, nil
}

// Requests returns a copy of every conversation snapshot sent for completion.
func (c *LLMClient) Requests() [][]llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]llm.Message, len(c.requests))
	copy(out, c.requests)
	return out
}

var _ llm.StreamClient = (*LLMClient)(nil)
