package tts

import (
	"context"
	"time"
)

// Synthesizer defines the contract for any streaming TTS vendor
// implementation. Synthesize is safe for concurrent calls; the orchestrator
// uses that for speculative sentence prefetching.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize streams audio for the given text. The channel closes after
	// the chunk flagged IsLast, or early when ctx is cancelled.
	Synthesize(ctx context.Context, text string) (<-chan AudioChunk, error)
	// Flush discards any audio buffered inside the service.
	Flush()
	// Close shuts down the synthesizer.
	Close() error
}

// AudioChunk is one streamed piece of synthesized audio.
type AudioChunk struct {
	Bytes   []byte
	IsFirst bool
	IsLast  bool
	TTFB    time.Duration
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Voice      string
}
