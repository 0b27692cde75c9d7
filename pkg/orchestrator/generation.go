package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ovelia/duplex/pkg/errorsx"
	"github.com/ovelia/duplex/pkg/metrics"
	"github.com/ovelia/duplex/pkg/redact"
	"github.com/ovelia/duplex/pkg/segment"
)

// runGeneration streams one completion for the current conversation, feeds
// tokens through the sentence segmenter into the synthesis queue, and commits
// the full response to history. Cancellation of the turn context abandons
// everything silently; a confirmed interruption leaves no trace in history.
func (o *Orchestrator) runGeneration(ctx context.Context) {
	o.mu.Lock()
	history := o.history
	o.mu.Unlock()
	if history == nil {
		return
	}

	stream, err := o.llmClient.StreamCompletion(ctx, history.Messages(), o.cfg.Generation)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.enterError(errorsx.Wrap(err, errorsx.ReasonLLMStream))
		return
	}

	var full strings.Builder
	seg := segment.New()
	firstToken := false

loop:
	for {
		select {
		case <-ctx.Done():
			return
		case tok, ok := <-stream:
			if !ok {
				// Closure without a done token means the stream died
				// mid-response. The partial text must not be spoken or
				// remembered as if the model finished the thought.
				if ctx.Err() != nil {
					return
				}
				o.enterError(errorsx.Reasonf(errorsx.ReasonLLMStream, "token stream closed before completion"))
				return
			}
			if tok.IsDone {
				break loop
			}
			if tok.Content == "" {
				continue
			}
			if !firstToken {
				firstToken = true
				o.onFirstToken(ctx)
			}
			full.WriteString(tok.Content)
			for _, sentence := range seg.Push(tok.Content) {
				o.enqueueSentence(ctx, sentence)
			}
		}
	}

	if ctx.Err() != nil {
		return
	}
	if rest := seg.Flush(); rest != "" {
		o.enqueueSentence(ctx, rest)
	}

	response := strings.TrimSpace(full.String())
	if response == "" {
		o.enterError(errorsx.Reasonf(errorsx.ReasonLLMEmpty, "model produced no content"))
		return
	}

	history.AppendAssistant(response)
	o.mu.Lock()
	o.genDone = true
	o.mu.Unlock()
	o.log.Debug("generation complete",
		"session_id", o.SessionID(),
		"response", redact.Clip(redact.Text(response)),
	)
}

// onFirstToken records time-to-first-token and moves the session into the
// speaking state, which starts the synthesis queue processor.
func (o *Orchestrator) onFirstToken(ctx context.Context) {
	o.mu.Lock()
	turnStart := o.turnStart
	o.mu.Unlock()

	metrics.RecordLatency(o.obs, metrics.LatencyFirstToken, time.Since(turnStart), o.turnTags())
	o.recordEvent(metrics.EventLLMFirstToken, nil)

	if o.sm.TransitionIf(StateAIThinking, StateAISpeaking, "first token") {
		go o.runPlaybackQueue(ctx)
	}
}

// enterError surfaces a generation failure, discards the partial turn and
// schedules automatic recovery back to listening. The user-visible message
// is the reason code; transports render it however they present errors.
func (o *Orchestrator) enterError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	o.log.Error("turn failed",
		"session_id", o.SessionID(),
		"reason", string(errorsx.Reason(err)),
		"error", err,
	)
	if e := o.sm.Transition(StateError, string(errorsx.Reason(err))); e != nil {
		return
	}

	o.mu.Lock()
	turnCancel := o.turnCancel
	o.turnCancel = nil
	o.clearSynthesisLocked()
	o.mu.Unlock()
	if turnCancel != nil {
		turnCancel()
	}
	o.audioIO.StopPlayback()

	time.AfterFunc(errorRecoveryDelay, func() {
		if o.sm.TransitionIf(StateError, StateUserSpeaking, "error recovery") {
			o.mu.Lock()
			o.resetUtteranceLocked()
			o.mu.Unlock()
		}
	})
}
