package orchestrator

import (
	"strings"
	"time"

	"github.com/ovelia/duplex/pkg/adapters/stt"
	"github.com/ovelia/duplex/pkg/errorsx"
	"github.com/ovelia/duplex/pkg/frames"
	"github.com/ovelia/duplex/pkg/metrics"
	"github.com/ovelia/duplex/pkg/redact"
)

// handleListeningFrame tracks the speech/silence boundary while the user is
// speaking. Every frame is forwarded to STT regardless of classification;
// the vendor needs the trailing silence for its own endpointing.
func (o *Orchestrator) handleListeningFrame(ta frames.TaggedAudio) {
	o.mu.Lock()
	if ta.VAD.Speech {
		o.speechDetected = true
		o.cancelSilenceTimerLocked()
	} else if o.speechDetected && o.silenceTimer == nil {
		o.silenceTimer = time.AfterFunc(silenceTimeout, o.onSilenceTimeout)
	}
	stream := o.sttStream
	o.mu.Unlock()

	if stream != nil {
		if err := stream.SendAudio(ta.Audio); err != nil {
			// Transient send failures do not end the turn.
			o.log.Warn("stt send failed", "reason", string(errorsx.ReasonSTTSend), "error", err)
		}
	}
}

// onSilenceTimeout fires after sustained silence following speech. It is one
// of the two finalization triggers; the state guard in finalizeUtterance
// arbitrates against the STT end-of-utterance path.
func (o *Orchestrator) onSilenceTimeout() {
	o.mu.Lock()
	o.silenceTimer = nil
	transcript := o.transcriptLocked()
	o.mu.Unlock()

	if o.sm.State() != StateUserSpeaking {
		return
	}
	if transcript == "" {
		// Speech was detected but nothing transcribed; keep listening.
		o.log.Warn("silence timeout with empty transcript", "session_id", o.SessionID())
		return
	}
	o.finalizeUtterance(transcript, "silence timeout")
}

// handleSTTResult folds one transcription update into the utterance. Final
// segments accumulate; interim results replace the tail. A final result
// flagged end-of-utterance finalizes immediately without waiting for the
// silence timer.
func (o *Orchestrator) handleSTTResult(res stt.Result) {
	if res.Latency > 0 {
		metrics.RecordLatency(o.obs, metrics.LatencySTT, res.Latency, o.turnTags())
	}

	o.mu.Lock()
	text := strings.TrimSpace(res.Transcript)
	if res.IsFinal {
		if text != "" {
			o.finalParts = append(o.finalParts, text)
		}
		o.partial = ""
	} else {
		o.partial = text
	}
	transcript := o.transcriptLocked()
	o.mu.Unlock()

	if res.IsFinal && res.EndOfUtterance && transcript != "" {
		o.recordEvent(metrics.EventSTTFinal, map[string]any{"transcript": redact.Text(transcript)})
		o.finalizeUtterance(transcript, "stt end of utterance")
	}
}

// finalizeUtterance concludes the user's speaking turn exactly once. Both
// triggers funnel here; the first valid one wins the state transition and
// the loser returns without side effects.
func (o *Orchestrator) finalizeUtterance(transcript, reason string) {
	if !o.sm.TransitionIf(StateUserSpeaking, StateProcessingUtterance, reason) {
		return
	}

	o.mu.Lock()
	o.cancelSilenceTimerLocked()
	o.resetUtteranceLocked()
	o.history.AppendUser(transcript)
	sessionCtx := o.sessionContextLocked()
	o.beginTurnLocked(sessionCtx)
	turnCtx := o.turnCtx
	o.mu.Unlock()

	o.log.Info("utterance finalized",
		"session_id", o.SessionID(),
		"reason", reason,
		"transcript", redact.Clip(redact.Text(transcript)),
	)
	o.recordEvent(metrics.EventUserFinishedSpeaking, nil)

	_ = o.sm.Transition(StateAIThinking, "utterance committed")
	go o.runGeneration(turnCtx)
}

// transcriptLocked assembles the utterance text from accumulated final
// segments plus the current interim tail.
func (o *Orchestrator) transcriptLocked() string {
	parts := o.finalParts
	if o.partial != "" {
		parts = append(parts[:len(parts):len(parts)], o.partial)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (o *Orchestrator) resetUtteranceLocked() {
	o.speechDetected = false
	o.finalParts = nil
	o.partial = ""
}

func (o *Orchestrator) cancelSilenceTimerLocked() {
	if o.silenceTimer != nil {
		o.silenceTimer.Stop()
		o.silenceTimer = nil
	}
}
