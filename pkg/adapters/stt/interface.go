package stt

import (
	"context"
	"time"

	"github.com/ovelia/duplex/pkg/frames"
)

// Stream defines the contract for any streaming STT vendor implementation.
type Stream interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start initializes the STT connection.
	Start(ctx context.Context) error
	// Close shuts down the STT connection.
	Close() error
	// SendAudio sends one audio frame to the STT service.
	SendAudio(frame frames.AudioFrame) error
	// Results returns the stream of transcription results.
	Results() <-chan Result
}

// Result is one transcription update. Final results flagged with
// EndOfUtterance conclude the user's speaking turn.
type Result struct {
	Transcript     string
	IsFinal        bool
	EndOfUtterance bool
	Latency        time.Duration
}

// Config contains vendor-agnostic STT configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Encoding   string
	Language   string
}
