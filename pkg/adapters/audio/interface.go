package audio

import (
	"context"

	"github.com/ovelia/duplex/pkg/frames"
)

// IO defines the contract for any audio engine implementation. Captured
// microphone frames arrive tagged with their voice-activity classification;
// playback accepts raw synthesized chunks and supports pause/resume/stop.
type IO interface {
	// Name returns engine name for logging/metrics.
	Name() string
	// Configure applies the capture/playback format before Start.
	Configure(cfg Config) error
	// Start begins audio capture.
	Start(ctx context.Context) error
	// Stop ends capture and playback and releases the device.
	Stop() error
	// Frames returns the stream of captured, VAD-tagged audio frames.
	Frames() <-chan frames.TaggedAudio
	// PlayAudio enqueues one synthesized chunk for playback.
	PlayAudio(chunk []byte) error
	// PausePlayback pauses playback without discarding buffered audio.
	// Returns false when nothing was playing.
	PausePlayback() bool
	// ResumePlayback resumes from the paused position.
	// Returns false when playback was not paused.
	ResumePlayback() bool
	// StopPlayback stops playback and discards buffered audio.
	StopPlayback()
}

// Config contains engine-agnostic audio configuration.
type Config struct {
	SampleRate int
	Channels   int
	FrameMS    int
}
