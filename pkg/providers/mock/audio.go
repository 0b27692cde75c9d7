package mock

import (
	"context"
	"sync"

	"github.com/ovelia/duplex/pkg/adapters/audio"
	"github.com/ovelia/duplex/pkg/frames"
)

// AudioIO is a scriptable audio engine. Tests push tagged frames in with
// EmitFrame and inspect everything the orchestrator asked the engine to do.
type AudioIO struct {
	mu      sync.Mutex
	cfg     audio.Config
	started bool
	paused  bool
	out     chan frames.TaggedAudio
	pts     *frames.PTSGen

	played            [][]byte
	pauseCalls        int
	resumeCalls       int
	stopPlaybackCalls int

	// PlayGate, when set, blocks each PlayAudio call until the test sends
	// a token. Used to hold a sentence "playing" deterministically.
	PlayGate chan struct{}
}

func NewAudioIO() *AudioIO {
	return &AudioIO{
		out: make(chan frames.TaggedAudio, 64),
		pts: frames.NewPTSGen(),
	}
}

func (a *AudioIO) Name() string { return "mock" }

func (a *AudioIO) Configure(cfg audio.Config) error {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
	return nil
}

func (a *AudioIO) Start(ctx context.Context) error {
	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
	return nil
}

func (a *AudioIO) Stop() error {
	a.mu.Lock()
	a.started = false
	a.mu.Unlock()
	return nil
}

func (a *AudioIO) Frames() <-chan frames.TaggedAudio { return a.out }

// EmitFrame injects one captured frame tagged with the given classification.
func (a *AudioIO) EmitFrame(data []byte, vad frames.VADResult) {
	af := frames.NewAudioFrame("mock-mic", a.pts.Next("mock-mic"), data, 16000, 1, nil)
	a.out <- frames.TaggedAudio{Audio: af, VAD: vad}
}

func (a *AudioIO) PlayAudio(chunk []byte) error {
	if a.PlayGate != nil {
		<-a.PlayGate
	}
	a.mu.Lock()
	a.played = append(a.played, append([]byte(nil), chunk...))
	a.mu.Unlock()
	return nil
}

func (a *AudioIO) PausePlayback() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pauseCalls++
	if a.paused {
		return false
	}
	a.paused = true
	return true
}

func (a *AudioIO) ResumePlayback() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resumeCalls++
	if !a.paused {
		return false
	}
	a.paused = false
	return true
}

func (a *AudioIO) StopPlayback() {
	a.mu.Lock()
	a.stopPlaybackCalls++
	a.paused = false
	a.mu.Unlock()
}

// Played returns copies of all chunks handed to PlayAudio, in order.
func (a *AudioIO) Played() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]byte, len(a.played))
	copy(out, a.played)
	return out
}

func (a *AudioIO) PauseCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pauseCalls
}

func (a *AudioIO) ResumeCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resumeCalls
}

func (a *AudioIO) StopPlaybackCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopPlaybackCalls
}

func (a *AudioIO) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

var _ audio.IO = (*AudioIO)(nil)
