package mock

import (
	"context"
	"sync"

	"github.com/ovelia/duplex/pkg/adapters/stt"
	"github.com/ovelia/duplex/pkg/frames"
)

// STTStream is a scriptable transcription stream. Tests emit results with
// EmitResult and inspect the audio the orchestrator forwarded.
type STTStream struct {
	mu      sync.Mutex
	started bool
	out     chan stt.Result
	sent    int
}

func NewSTTStream() *STTStream {
	return &STTStream{out: make(chan stt.Result, 16)}
}

func (s *STTStream) Name() string { return "mock" }

func (s *STTStream) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *STTStream) Close() error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

func (s *STTStream) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	return nil
}

func (s *STTStream) Results() <-chan stt.Result { return s.out }

// EmitResult injects one transcription result.
func (s *STTStream) EmitResult(res stt.Result) {
	s.out <- res
}

// SentFrames returns how many audio frames were forwarded.
func (s *STTStream) SentFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

var _ stt.Stream = (*STTStream)(nil)
