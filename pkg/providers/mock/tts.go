package mock

import (
	"context"
	"sync"
	"time"

	"github.com/ovelia/duplex/pkg/adapters/tts"
)

// TTSSynthesizer synthesizes deterministic audio: each chunk's bytes embed
// the sentence text so tests can map played audio back to sentences.
// Per-sentence delays and gates make completion order controllable.
type TTSSynthesizer struct {
	mu         sync.Mutex
	calls      []string
	flushCalls int

	// Delay applies to every synthesis; DelayFor overrides per sentence.
	Delay    time.Duration
	DelayFor map[string]time.Duration
	// Gates, when set, holds synthesis of a sentence until the test closes
	// or sends on its channel.
	Gates map[string]chan struct{}
	// Err, when set, fails every Synthesize call immediately.
	Err error
	// ChunksPerSentence controls how many chunks each sentence produces.
	ChunksPerSentence int
}

func NewTTSSynthesizer() *TTSSynthesizer {
	return &TTSSynthesizer{ChunksPerSentence: 2}
}

func (t *TTSSynthesizer) Name() string { return "mock" }

func (t *TTSSynthesizer) Synthesize(ctx context.Context, text string) (<-chan tts.AudioChunk, error) {
	t.mu.Lock()
	if t.Err != nil {
		err := t.Err
		t.mu.Unlock()
		return nil, err
	}
	t.calls = append(t.calls, text)
	delay := t.Delay
	if d, ok := t.DelayFor[text]; ok {
		delay = d
	}
	var gate chan struct{}
	if t.Gates != nil {
		gate = t.Gates[text]
	}
	n := t.ChunksPerSentence
	t.mu.Unlock()
	if n <= 0 {
		n = 1
	}

	start := time.Now()
	out := make(chan tts.AudioChunk, n)
	go func() {
		defer close(out)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if gate != nil {
			select {
			case <-ctx.Done():
				return
			case <-gate:
			}
		}
		for i := 0; i < n; i++ {
			chunk := tts.AudioChunk{
				Bytes:   []byte(text),
				IsFirst: i == 0,
				IsLast:  i == n-1,
			}
			if i == 0 {
				chunk.TTFB = time.Since(start)
			}
			select {
			case <-ctx.Done():
				return
			case out <- chunk:
			}
		}
	}()
	return out, nil
}

func (t *TTSSynthesizer) Flush() {
	t.mu.Lock()
	t.flushCalls++
	t.mu.Unlock()
}

func (t *TTSSynthesizer) Close() error { return nil }

// Calls returns every synthesized sentence in request order.
func (t *TTSSynthesizer) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.calls))
	copy(out, t.calls)
	return out
}

func (t *TTSSynthesizer) FlushCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushCalls
}

var _ tts.Synthesizer = (*TTSSynthesizer)(nil)
