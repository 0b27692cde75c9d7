package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/ovelia/duplex/pkg/adapters/stt"
	"github.com/ovelia/duplex/pkg/errorsx"
	"github.com/ovelia/duplex/pkg/frames"
	"github.com/ovelia/duplex/pkg/llm"
	"github.com/ovelia/duplex/pkg/metrics"
	"github.com/ovelia/duplex/pkg/providers/mock"
)

type harness struct {
	orch  *Orchestrator
	audio *mock.AudioIO
	stt   *mock.STTStream
	tts   *mock.TTSSynthesizer
	llm   *mock.LLMClient
	obs   *metrics.MemoryObserver
	rec   *stateRecorder
}

func newHarness(cfg Config, chunks ...string) *harness {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are a helpful voice assistant."
	}
	h := &harness{
		audio: mock.NewAudioIO(),
		stt:   mock.NewSTTStream(),
		tts:   mock.NewTTSSynthesizer(),
		llm:   mock.NewLLMClient(chunks...),
		obs:   metrics.NewMemoryObserver(),
		rec:   &stateRecorder{},
	}
	h.orch = New(cfg)
	h.orch.SetAudioIO(h.audio)
	h.orch.SetSTTFactory(func(stt.Config) stt.Stream { return h.stt })
	h.orch.SetTTS(h.tts)
	h.orch.SetLLM(h.llm)
	h.orch.SetObserver(h.obs)
	h.orch.AddStateListener(h.rec)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.orch.StartSession(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	t.Cleanup(h.orch.StopSession)
}

// speak injects one qualifying speech frame followed by the final STT result,
// concluding the user's turn through the end-of-utterance path.
func (h *harness) speak(t *testing.T, transcript string) {
	t.Helper()
	waitState(t, h.orch, StateUserSpeaking)
	h.audio.EmitFrame([]byte{1, 2}, frames.VADResult{Speech: true, Confidence: 0.9})
	h.stt.EmitResult(stt.Result{Transcript: transcript, IsFinal: true, EndOfUtterance: true})
}

func waitState(t *testing.T, o *Orchestrator, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return o.State() == want })
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func playedStrings(a *mock.AudioIO) []string {
	chunks := a.Played()
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = string(c)
	}
	return out
}

func TestStartSessionFailsFastWhenUnconfigured(t *testing.T) {
	o := New(Config{SystemPrompt: "sys"})
	err := o.StartSession(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonNotConfigured) {
		t.Fatalf("expected not_configured reason, got %v", err)
	}
	if o.State() != StateIdle {
		t.Fatalf("failed start must leave state idle, got %s", o.State())
	}
}

func TestStartSessionEntersListening(t *testing.T) {
	h := newHarness(Config{}, "Hi.")
	h.start(t)
	waitState(t, h.orch, StateUserSpeaking)
	if h.orch.SessionID() == "" {
		t.Fatal("expected a session id")
	}
}

func TestAISpeaksFirst(t *testing.T) {
	h := newHarness(Config{
		AISpeaksFirst: true,
		OpeningPrompt: "Greet the learner briefly.",
	}, "Hello!", " Ready when you are.")
	h.tts.ChunksPerSentence = 1
	h.start(t)

	waitState(t, h.orch, StateUserSpeaking)
	reqs := h.llm.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 completion request, got %d", len(reqs))
	}
	last := reqs[0][len(reqs[0])-1]
	if last.Role != llm.RoleUser || last.Content != "Greet the learner briefly." {
		t.Fatalf("opening prompt missing, got %+v", last)
	}
	got := playedStrings(h.audio)
	want := []string{"Hello!", "Ready when you are."}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestEndOfUtteranceDrivesFullTurn(t *testing.T) {
	h := newHarness(Config{}, "Four.")
	h.tts.ChunksPerSentence = 1
	h.start(t)
	h.speak(t, "what is two plus two")

	waitState(t, h.orch, StateUserSpeaking)

	reqs := h.llm.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	last := reqs[0][len(reqs[0])-1]
	if last.Role != llm.RoleUser || last.Content != "what is two plus two" {
		t.Fatalf("unexpected final message %+v", last)
	}

	want := []State{StateUserSpeaking, StateProcessingUtterance, StateAIThinking, StateAISpeaking, StateUserSpeaking}
	got := h.rec.states()
	if len(got) != len(want) {
		t.Fatalf("expected states %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state %d: expected %s, got %s (full %v)", i, want[i], got[i], got)
		}
	}

	if n := len(h.obs.Named(metrics.EventUserFinishedSpeaking)); n != 1 {
		t.Fatalf("expected 1 user_finished_speaking event, got %d", n)
	}
	if n := len(h.obs.Named(metrics.EventTurnEnd)); n != 1 {
		t.Fatalf("expected 1 turn_end event, got %d", n)
	}
}

func TestFinalizeFiresExactlyOnce(t *testing.T) {
	h := newHarness(Config{}, "Hi.")
	h.start(t)
	waitState(t, h.orch, StateUserSpeaking)

	h.audio.EmitFrame([]byte{1}, frames.VADResult{Speech: true, Confidence: 0.9})
	h.stt.EmitResult(stt.Result{Transcript: "hello there", IsFinal: false})
	waitFor(t, "transcript", func() bool {
		h.orch.mu.Lock()
		defer h.orch.mu.Unlock()
		return h.orch.transcriptLocked() == "hello there"
	})

	// Both triggers fire back to back; the state guard lets one through.
	h.orch.onSilenceTimeout()
	h.orch.onSilenceTimeout()
	h.stt.EmitResult(stt.Result{Transcript: "hello there", IsFinal: true, EndOfUtterance: true})

	waitState(t, h.orch, StateUserSpeaking)
	if n := len(h.llm.Requests()); n != 1 {
		t.Fatalf("utterance must finalize exactly once, got %d requests", n)
	}
	if n := len(h.obs.Named(metrics.EventUserFinishedSpeaking)); n != 1 {
		t.Fatalf("expected 1 user_finished_speaking event, got %d", n)
	}
}

func TestSilenceTimeoutWithEmptyTranscriptKeepsListening(t *testing.T) {
	h := newHarness(Config{}, "Hi.")
	h.start(t)
	waitState(t, h.orch, StateUserSpeaking)

	h.audio.EmitFrame([]byte{1}, frames.VADResult{Speech: true, Confidence: 0.9})
	h.orch.onSilenceTimeout()

	time.Sleep(50 * time.Millisecond)
	if h.orch.State() != StateUserSpeaking {
		t.Fatalf("expected to keep listening, got %s", h.orch.State())
	}
	if len(h.llm.Requests()) != 0 {
		t.Fatal("no generation should start without a transcript")
	}
}

func TestPlaybackStrictOrderDespiteCompletionOrder(t *testing.T) {
	h := newHarness(Config{
		PrefetchEnabled: true,
		PrefetchDepth:   2,
	}, "One banana.", " Two bananas.", " Three bananas.")
	h.tts.ChunksPerSentence = 1
	h.tts.DelayFor = map[string]time.Duration{
		"One banana.":    80 * time.Millisecond,
		"Two bananas.":   5 * time.Millisecond,
		"Three bananas.": 40 * time.Millisecond,
	}
	h.start(t)
	h.speak(t, "tell me about bananas")

	waitState(t, h.orch, StateUserSpeaking)
	got := playedStrings(h.audio)
	want := []string{"One banana.", "Two bananas.", "Three bananas."}
	if len(got) != len(want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("playback out of order: expected %q, got %q", want, got)
		}
	}
}

func TestPrefetchRespectsDepthWindow(t *testing.T) {
	h := newHarness(Config{
		PrefetchEnabled: true,
		PrefetchDepth:   1,
	}, "Alpha.", " Beta.", " Gamma.")
	h.tts.ChunksPerSentence = 1
	h.audio.PlayGate = make(chan struct{})
	h.start(t)
	h.speak(t, "run the alphabet")

	// While the first sentence is held mid-playback, only the next one may
	// be synthesized ahead.
	waitFor(t, "two synth calls", func() bool { return len(h.tts.Calls()) == 2 })
	time.Sleep(100 * time.Millisecond)
	if calls := h.tts.Calls(); len(calls) != 2 {
		t.Fatalf("prefetch overran its window: %q", calls)
	}

	// Releasing the first sentence lets the second start playing, which
	// pulls the third into the window.
	h.audio.PlayGate <- struct{}{}
	waitFor(t, "three synth calls", func() bool { return len(h.tts.Calls()) == 3 })

	h.audio.PlayGate <- struct{}{}
	h.audio.PlayGate <- struct{}{}
	waitState(t, h.orch, StateUserSpeaking)

	got := playedStrings(h.audio)
	want := []string{"Alpha.", "Beta.", "Gamma."}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestBargeInFalsePositiveResumes(t *testing.T) {
	h := newHarness(Config{}, "This is a fairly long answer.")
	h.tts.ChunksPerSentence = 1
	h.tts.Delay = 400 * time.Millisecond
	h.start(t)
	h.speak(t, "go on")

	waitState(t, h.orch, StateAISpeaking)
	h.audio.EmitFrame([]byte{1}, frames.VADResult{Speech: true, Confidence: 0.95})
	waitState(t, h.orch, StateInterrupted)
	if n := h.audio.PauseCalls(); n != 1 {
		t.Fatalf("expected 1 pause, got %d", n)
	}

	// Window elapses with no further speech.
	h.orch.onBargeInTimeout()
	waitState(t, h.orch, StateAISpeaking)

	waitState(t, h.orch, StateUserSpeaking)
	if n := h.audio.ResumeCalls(); n != 1 {
		t.Fatalf("expected exactly 1 resume, got %d", n)
	}
	if n := h.audio.StopPlaybackCalls(); n != 0 {
		t.Fatalf("false positive must not stop playback, got %d stops", n)
	}
	if n := len(h.obs.Named(metrics.EventUserInterrupted)); n != 0 {
		t.Fatalf("false positive must not record an interruption, got %d", n)
	}
}

func TestBargeInConfirmedAbandonsTurn(t *testing.T) {
	h := newHarness(Config{}, "Let me explain this at length.")
	h.tts.ChunksPerSentence = 1
	h.tts.Delay = 400 * time.Millisecond
	h.start(t)
	h.speak(t, "explain gravity")

	waitState(t, h.orch, StateAISpeaking)
	h.audio.EmitFrame([]byte{1}, frames.VADResult{Speech: true, Confidence: 0.95})
	waitState(t, h.orch, StateInterrupted)
	h.audio.EmitFrame([]byte{1}, frames.VADResult{Speech: true, Confidence: 0.95})
	waitState(t, h.orch, StateUserSpeaking)

	if n := h.audio.StopPlaybackCalls(); n != 1 {
		t.Fatalf("expected 1 stop, got %d", n)
	}
	if h.tts.FlushCalls() == 0 {
		t.Fatal("expected buffered synthesis to be flushed")
	}
	if n := len(h.obs.Named(metrics.EventUserInterrupted)); n != 1 {
		t.Fatalf("expected 1 user_interrupted event, got %d", n)
	}

	// The abandoned answer must not reach history: the next request holds
	// two user messages with no assistant message between them.
	h.speak(t, "never mind, what time is it")
	waitFor(t, "second request", func() bool { return len(h.llm.Requests()) == 2 })
	msgs := h.llm.Requests()[1]
	if len(msgs) != 3 {
		t.Fatalf("expected [system,user,user], got %d messages", len(msgs))
	}
	if msgs[1].Role != llm.RoleUser || msgs[2].Role != llm.RoleUser {
		t.Fatalf("abandoned answer leaked into history: %+v", msgs)
	}
}

func TestLowConfidenceSpeechDoesNotPause(t *testing.T) {
	h := newHarness(Config{}, "Quite a long sentence here.")
	h.tts.ChunksPerSentence = 1
	h.tts.Delay = 300 * time.Millisecond
	h.start(t)
	h.speak(t, "talk to me")

	waitState(t, h.orch, StateAISpeaking)
	h.audio.EmitFrame([]byte{1}, frames.VADResult{Speech: true, Confidence: 0.4})
	time.Sleep(50 * time.Millisecond)
	if h.orch.State() != StateAISpeaking {
		t.Fatalf("low confidence speech must not pause, got %s", h.orch.State())
	}
	if n := h.audio.PauseCalls(); n != 0 {
		t.Fatalf("expected 0 pauses, got %d", n)
	}
}

func TestEmptyResponseEntersErrorAndRecovers(t *testing.T) {
	h := newHarness(Config{})
	h.start(t)
	h.speak(t, "say nothing")

	waitFor(t, "error state", func() bool {
		for _, s := range h.rec.states() {
			if s == StateError {
				return true
			}
		}
		return false
	})
	waitState(t, h.orch, StateUserSpeaking)
}

func TestLLMFailureEntersError(t *testing.T) {
	h := newHarness(Config{})
	h.llm.Err = errorsx.Wrap(context.DeadlineExceeded, errorsx.ReasonLLMStream)
	h.start(t)
	h.speak(t, "break please")

	waitFor(t, "error state", func() bool {
		for _, s := range h.rec.states() {
			if s == StateError {
				return true
			}
		}
		return false
	})
}

// silenceTimer reads the armed silence timer under the orchestrator lock.
func (h *harness) silenceTimer() *time.Timer {
	h.orch.mu.Lock()
	defer h.orch.mu.Unlock()
	return h.orch.silenceTimer
}

func TestSilenceTimerLifecycleThroughFrames(t *testing.T) {
	h := newHarness(Config{}, "Sure.")
	h.tts.ChunksPerSentence = 1
	h.start(t)
	waitState(t, h.orch, StateUserSpeaking)

	speech := frames.VADResult{Speech: true, Confidence: 0.9}
	silence := frames.VADResult{Speech: false, Confidence: 0.9}

	// Silence before any speech must not arm the timer.
	h.audio.EmitFrame([]byte{1}, silence)
	waitFor(t, "first frame forwarded", func() bool { return h.stt.SentFrames() == 1 })
	if h.silenceTimer() != nil {
		t.Fatal("timer armed before any speech")
	}

	h.audio.EmitFrame([]byte{1}, speech)
	h.stt.EmitResult(stt.Result{Transcript: "hello", IsFinal: false})
	h.audio.EmitFrame([]byte{1}, silence)
	waitFor(t, "timer armed", func() bool { return h.silenceTimer() != nil })
	first := h.silenceTimer()

	// Further silence keeps the one running timer.
	h.audio.EmitFrame([]byte{1}, silence)
	waitFor(t, "fourth frame forwarded", func() bool { return h.stt.SentFrames() == 4 })
	if h.silenceTimer() != first {
		t.Fatal("repeated silence must not restart the timer")
	}

	// Resumed speech cancels it.
	h.audio.EmitFrame([]byte{1}, speech)
	waitFor(t, "timer cancelled", func() bool { return h.silenceTimer() == nil })

	// Sustained silence after the last word re-arms the timer and lets it
	// finalize the utterance for real.
	h.audio.EmitFrame([]byte{1}, silence)
	waitFor(t, "timer rearmed", func() bool { return h.silenceTimer() != nil })
	waitFor(t, "generation request", func() bool { return len(h.llm.Requests()) == 1 })
	waitState(t, h.orch, StateUserSpeaking)

	if n := len(h.obs.Named(metrics.EventUserFinishedSpeaking)); n != 1 {
		t.Fatalf("expected exactly 1 finalize, got %d", n)
	}
}

func TestTruncatedStreamEntersErrorAndDropsPartial(t *testing.T) {
	h := newHarness(Config{}, "The answer is")
	h.llm.TruncateStream = true
	h.start(t)
	h.speak(t, "what is the answer")

	waitFor(t, "error state", func() bool {
		for _, s := range h.rec.states() {
			if s == StateError {
				return true
			}
		}
		return false
	})
	waitState(t, h.orch, StateUserSpeaking)
	if n := len(h.audio.Played()); n != 0 {
		t.Fatalf("truncated response must not be spoken, got %d chunks", n)
	}

	// The partial text must not be remembered as a finished answer.
	h.speak(t, "ask again")
	waitFor(t, "second request", func() bool { return len(h.llm.Requests()) == 2 })
	msgs := h.llm.Requests()[1]
	if len(msgs) != 3 {
		t.Fatalf("expected [system,user,user], got %d messages", len(msgs))
	}
	if msgs[1].Role != llm.RoleUser || msgs[2].Role != llm.RoleUser {
		t.Fatalf("partial answer leaked into history: %+v", msgs)
	}
}

func TestStopSessionClearsHistory(t *testing.T) {
	h := newHarness(Config{}, "Noted.")
	h.tts.ChunksPerSentence = 1
	h.start(t)
	h.speak(t, "remember the number seven")
	waitState(t, h.orch, StateUserSpeaking)

	h.orch.StopSession()
	h.orch.mu.Lock()
	cleared := h.orch.history == nil
	h.orch.mu.Unlock()
	if !cleared {
		t.Fatal("history must clear on session stop")
	}

	// A restarted session gets a fresh conversation.
	if err := h.orch.StartSession(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	h.speak(t, "what number did I say")
	waitFor(t, "second request", func() bool { return len(h.llm.Requests()) == 2 })
	msgs := h.llm.Requests()[1]
	if len(msgs) != 2 || msgs[1].Content != "what number did I say" {
		t.Fatalf("expected a fresh [system,user] conversation, got %+v", msgs)
	}
}

func TestStopSessionIsIdempotent(t *testing.T) {
	h := newHarness(Config{}, "Hi.")
	h.start(t)
	waitState(t, h.orch, StateUserSpeaking)

	h.orch.StopSession()
	h.orch.StopSession()
	if h.orch.State() != StateIdle {
		t.Fatalf("expected idle after stop, got %s", h.orch.State())
	}
	if h.orch.SessionID() != "" {
		t.Fatal("session id must clear on stop")
	}

	// A fresh session can start after teardown.
	if err := h.orch.StartSession(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	waitState(t, h.orch, StateUserSpeaking)
}
