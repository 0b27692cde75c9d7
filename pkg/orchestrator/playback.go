package orchestrator

import (
	"context"
	"time"

	"github.com/ovelia/duplex/pkg/errorsx"
	"github.com/ovelia/duplex/pkg/metrics"
	"github.com/ovelia/duplex/pkg/redact"
)

// synthResult holds the fully buffered audio for one synthesized sentence.
type synthResult struct {
	chunks [][]byte
}

// prefetchTask tracks one in-flight speculative synthesis. res and err are
// written before done closes; waiters read them only after <-done.
type prefetchTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	res    *synthResult
	err    error
}

// enqueueSentence appends one sentence to the synthesis queue in arrival
// order and speculatively synthesizes it when it falls inside the prefetch
// window. Playback order never depends on synthesis completion order.
func (o *Orchestrator) enqueueSentence(ctx context.Context, sentence string) {
	o.mu.Lock()
	o.queue = append(o.queue, sentence)
	if o.cfg.PrefetchEnabled && len(o.queue) <= o.cfg.PrefetchDepth {
		o.startPrefetchLocked(ctx, sentence)
	}
	o.mu.Unlock()
}

// prefetchWindowLocked starts synthesis for the first prefetchDepth queued
// sentences that are neither cached nor already in flight.
func (o *Orchestrator) prefetchWindowLocked(ctx context.Context) {
	if !o.cfg.PrefetchEnabled {
		return
	}
	depth := o.cfg.PrefetchDepth
	if depth > len(o.queue) {
		depth = len(o.queue)
	}
	for _, sentence := range o.queue[:depth] {
		o.startPrefetchLocked(ctx, sentence)
	}
}

func (o *Orchestrator) startPrefetchLocked(ctx context.Context, sentence string) {
	if _, ok := o.cache[sentence]; ok {
		return
	}
	if _, ok := o.tasks[sentence]; ok {
		return
	}
	if !o.ttsBreaker.Allow() {
		// Tags are built inline; turnTags would re-acquire the mutex.
		o.obs.RecordEvent(metrics.MetricsEvent{
			Name:   metrics.EventBreakerDenied,
			Time:   time.Now(),
			Tags:   map[string]string{"session_id": o.sessionID, "turn_id": o.turnID},
			Fields: map[string]any{"stage": "prefetch"},
		})
		return
	}
	taskCtx, cancel := context.WithCancel(ctx)
	t := &prefetchTask{cancel: cancel, done: make(chan struct{})}
	o.tasks[sentence] = t
	go o.runPrefetch(taskCtx, sentence, t)
}

func (o *Orchestrator) runPrefetch(ctx context.Context, sentence string, t *prefetchTask) {
	defer close(t.done)

	ch, err := o.ttsClient.Synthesize(ctx, sentence)
	if err != nil {
		t.err = errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
		if o.ttsBreaker.OnError(err) {
			o.recordEvent(metrics.EventBreakerOpen, map[string]any{"stage": "prefetch"})
		}
		o.finishPrefetch(sentence, t, nil)
		return
	}

	res := &synthResult{}
	for chunk := range ch {
		res.chunks = append(res.chunks, chunk.Bytes)
	}
	if ctx.Err() != nil {
		o.finishPrefetch(sentence, t, nil)
		return
	}
	o.ttsBreaker.OnSuccess()
	t.res = res
	o.finishPrefetch(sentence, t, res)
}

// finishPrefetch retires the task slot and, on success, publishes the audio
// to the cache. A stale task (replaced after barge-in cleanup) publishes
// nothing.
func (o *Orchestrator) finishPrefetch(sentence string, t *prefetchTask, res *synthResult) {
	o.mu.Lock()
	if o.tasks[sentence] == t {
		delete(o.tasks, sentence)
		if res != nil {
			o.cache[sentence] = res
		}
	}
	o.mu.Unlock()
}

// runPlaybackQueue is the strict-order synthesis queue processor for one AI
// turn. It dequeues sentence by sentence: cached audio plays immediately,
// in-flight synthesis is awaited, everything else synthesizes on the spot
// with chunks streamed straight to the engine. It exits when generation is
// done and the queue is drained, or when the turn context is cancelled.
func (o *Orchestrator) runPlaybackQueue(ctx context.Context) {
	firstAudio := true
	for {
		if ctx.Err() != nil {
			return
		}

		o.mu.Lock()
		if len(o.queue) == 0 {
			done := o.genDone
			o.mu.Unlock()
			if done {
				if !o.waitResumed(ctx) {
					return
				}
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(queuePollInterval):
			}
			continue
		}
		sentence := o.queue[0]
		o.queue = o.queue[1:]
		o.prefetchWindowLocked(ctx)
		cached := o.cache[sentence]
		if cached != nil {
			// Consumption removes the entry; a duplicate sentence later in
			// the turn synthesizes again.
			delete(o.cache, sentence)
		}
		task := o.tasks[sentence]
		o.mu.Unlock()

		var err error
		switch {
		case cached != nil:
			err = o.playChunks(ctx, cached.chunks, firstAudio)
		case task != nil:
			select {
			case <-ctx.Done():
				return
			case <-task.done:
			}
			if task.res != nil {
				o.consumeCached(sentence)
				err = o.playChunks(ctx, task.res.chunks, firstAudio)
			} else {
				err = task.err
			}
		default:
			err = o.playColdSentence(ctx, sentence, firstAudio)
		}

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			// One failed sentence is skipped; the turn continues.
			o.log.Warn("sentence playback failed",
				"session_id", o.SessionID(),
				"sentence", redact.Clip(redact.Text(sentence)),
				"error", err,
			)
			continue
		}
		firstAudio = false

		if o.cfg.InterSentenceSilence > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.InterSentenceSilence):
			}
		}
	}
	o.finishTurn(ctx)
}

func (o *Orchestrator) consumeCached(sentence string) {
	o.mu.Lock()
	delete(o.cache, sentence)
	o.mu.Unlock()
}

// playChunks pushes buffered audio to the engine in order. The first chunk
// of the turn's first sentence records time-to-first-audio.
func (o *Orchestrator) playChunks(ctx context.Context, chunks [][]byte, firstAudio bool) error {
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return nil
		}
		if firstAudio && i == 0 {
			o.markFirstAudio()
		}
		if err := o.audioIO.PlayAudio(chunk); err != nil {
			return err
		}
	}
	return nil
}

// playColdSentence synthesizes without a cache entry, streaming chunks to
// the engine as they arrive so the first bytes are audible before the
// sentence finishes synthesizing.
func (o *Orchestrator) playColdSentence(ctx context.Context, sentence string, firstAudio bool) error {
	ch, err := o.ttsClient.Synthesize(ctx, sentence)
	if err != nil {
		if o.ttsBreaker.OnError(err) {
			o.recordEvent(metrics.EventBreakerOpen, map[string]any{"stage": "playback"})
		}
		return errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	first := true
	for chunk := range ch {
		if ctx.Err() != nil {
			return nil
		}
		if firstAudio && first {
			o.markFirstAudio()
		}
		first = false
		if err := o.audioIO.PlayAudio(chunk.Bytes); err != nil {
			return err
		}
	}
	if ctx.Err() == nil {
		o.ttsBreaker.OnSuccess()
	}
	return nil
}

func (o *Orchestrator) markFirstAudio() {
	o.mu.Lock()
	turnStart := o.turnStart
	o.mu.Unlock()
	metrics.RecordLatency(o.obs, metrics.LatencyFirstAudio, time.Since(turnStart), o.turnTags())
	o.recordEvent(metrics.EventTTSFirstByte, nil)
}

// waitResumed blocks while a tentative barge-in pause is pending so the turn
// does not conclude mid-arbitration. Returns false when the turn is over.
func (o *Orchestrator) waitResumed(ctx context.Context) bool {
	for o.sm.State() == StateInterrupted {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(queuePollInterval):
		}
	}
	return ctx.Err() == nil
}

// finishTurn closes out a fully spoken AI turn: abandon leftover prefetches,
// record end-to-end latency, hold the post-turn cooldown so the tail of the
// AI's own audio is not picked up as user speech, then hand the floor back.
func (o *Orchestrator) finishTurn(ctx context.Context) {
	o.mu.Lock()
	for _, t := range o.tasks {
		t.cancel()
	}
	o.tasks = make(map[string]*prefetchTask)
	o.cache = make(map[string]*synthResult)
	turnStart := o.turnStart
	o.mu.Unlock()

	metrics.RecordLatency(o.obs, metrics.LatencyTurnE2E, time.Since(turnStart), o.turnTags())
	o.recordEvent(metrics.EventAIFinishedSpeaking, nil)
	o.recordEvent(metrics.EventTurnEnd, nil)

	select {
	case <-ctx.Done():
		return
	case <-time.After(turnCooldown):
	}

	// A tentative pause during the cooldown resolves before the handoff:
	// a confirmation cancels ctx, a false positive returns to AI_SPEAKING.
	if !o.waitResumed(ctx) {
		return
	}
	o.mu.Lock()
	o.resetUtteranceLocked()
	o.mu.Unlock()
	o.sm.TransitionIf(StateAISpeaking, StateUserSpeaking, "turn complete")
}
