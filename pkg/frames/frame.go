package frames

import (
	"sync"
	"time"
)

// ControlCode identifies a playback control signal sent to the audio engine.
type ControlCode string

const (
	ControlPausePlayback  ControlCode = "pause_playback"
	ControlResumePlayback ControlCode = "resume_playback"
	ControlStopPlayback   ControlCode = "stop_playback"
)

// VADResult is the per-frame voice-activity classification delivered
// alongside captured audio.
type VADResult struct {
	Speech     bool
	Confidence float64
}

// TaggedAudio pairs a captured audio frame with its VAD classification.
type TaggedAudio struct {
	Audio AudioFrame
	VAD   VADResult
}

type AudioFrame struct {
	pts  int64
	data []byte
	rate int
	ch   int
	meta map[string]string
}

func NewAudioFrame(streamID string, pts int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	return AudioFrame{
		pts:  pts,
		data: data,
		rate: rate,
		ch:   ch,
		meta: mergeMeta(streamID, meta),
	}
}

func (a AudioFrame) PTS() int64              { return a.pts }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Rate() int               { return a.rate }
func (a AudioFrame) Channels() int           { return a.ch }

// PTSGen issues monotonically increasing per-stream presentation timestamps.
type PTSGen struct {
	mu    sync.Mutex
	value map[string]int64
}

func NewPTSGen() *PTSGen {
	return &PTSGen{value: make(map[string]int64)}
}

func (g *PTSGen) Next(streamID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.value[streamID] + time.Millisecond.Nanoseconds()
	g.value[streamID] = v
	return v
}

func mergeMeta(streamID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 1+len(meta))
	if streamID != "" {
		out[MetaStreamID] = streamID
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
