package orchestrator

import (
	"time"

	"github.com/ovelia/duplex/pkg/frames"
	"github.com/ovelia/duplex/pkg/metrics"
)

// qualifiesAsSpeech applies the confidence gate for barge-in detection.
// Plain speech/no-speech classification is enough while listening; talking
// over the AI demands higher confidence to keep false pauses rare.
func (o *Orchestrator) qualifiesAsSpeech(v frames.VADResult) bool {
	return v.Speech && v.Confidence >= o.cfg.VADConfidence
}

// tentativePause is phase one of the barge-in protocol: pause playback
// without discarding anything, and start the confirmation window. Playback
// position is preserved so a false positive resumes seamlessly.
func (o *Orchestrator) tentativePause() {
	if !o.sm.TransitionIf(StateAISpeaking, StateInterrupted, "possible barge-in") {
		return
	}
	o.audioIO.PausePlayback()

	o.mu.Lock()
	o.cancelBargeTimerLocked()
	o.bargeTimer = time.AfterFunc(bargeInWindow, o.onBargeInTimeout)
	o.mu.Unlock()

	o.log.Debug("playback paused on possible barge-in", "session_id", o.SessionID())
}

// onBargeInTimeout fires when no further qualifying speech arrived within
// the confirmation window: the pause was a false positive, resume playback.
func (o *Orchestrator) onBargeInTimeout() {
	o.mu.Lock()
	o.bargeTimer = nil
	o.mu.Unlock()

	if !o.sm.TransitionIf(StateInterrupted, StateAISpeaking, "barge-in not confirmed") {
		return
	}
	o.audioIO.ResumePlayback()
	o.log.Debug("playback resumed, barge-in not confirmed", "session_id", o.SessionID())
}

// confirmBargeIn is phase two: further qualifying speech inside the window
// means the user really is talking. The AI turn is abandoned wholesale and
// the floor passes to the user. The state guard makes confirmation fire at
// most once per pause.
func (o *Orchestrator) confirmBargeIn() {
	o.mu.Lock()
	o.cancelBargeTimerLocked()
	o.mu.Unlock()

	if !o.sm.TransitionIf(StateInterrupted, StateUserSpeaking, "barge-in confirmed") {
		return
	}

	o.mu.Lock()
	turnCancel := o.turnCancel
	o.turnCancel = nil
	o.clearSynthesisLocked()
	o.resetUtteranceLocked()
	o.mu.Unlock()

	if turnCancel != nil {
		turnCancel()
	}
	o.audioIO.StopPlayback()
	o.ttsClient.Flush()

	o.recordEvent(metrics.EventUserInterrupted, nil)
	o.log.Info("barge-in confirmed", "session_id", o.SessionID())
}

func (o *Orchestrator) cancelBargeTimerLocked() {
	if o.bargeTimer != nil {
		o.bargeTimer.Stop()
		o.bargeTimer = nil
	}
}
