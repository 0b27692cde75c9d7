package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ovelia/duplex/pkg/adapters/audio"
	"github.com/ovelia/duplex/pkg/adapters/stt"
	"github.com/ovelia/duplex/pkg/adapters/tts"
	"github.com/ovelia/duplex/pkg/conversation"
	"github.com/ovelia/duplex/pkg/errorsx"
	"github.com/ovelia/duplex/pkg/llm"
	"github.com/ovelia/duplex/pkg/logging"
	"github.com/ovelia/duplex/pkg/metrics"
	"github.com/ovelia/duplex/pkg/resilience"
)

// Timing constants of the turn-taking protocol. These are part of the
// conversational contract and deliberately not configurable.
const (
	silenceTimeout     = 1500 * time.Millisecond
	bargeInWindow      = 600 * time.Millisecond
	turnCooldown       = 500 * time.Millisecond
	errorRecoveryDelay = 1500 * time.Millisecond
	queuePollInterval  = 20 * time.Millisecond
)

// Config holds the orchestrator's tunable settings. Timing constants of the
// turn-taking protocol itself are fixed above.
type Config struct {
	SystemPrompt         string
	AISpeaksFirst        bool
	OpeningPrompt        string
	PrefetchEnabled      bool
	PrefetchDepth        int
	InterSentenceSilence time.Duration
	VADConfidence        float64
	SampleRate           int
	Channels             int
	FrameMS              int
	Language             string
	Generation           llm.GenerationConfig
}

// STTFactory builds a fresh STT stream for one session.
type STTFactory func(cfg stt.Config) stt.Stream

// Orchestrator coordinates audio capture, transcription, generation and
// synthesis playback for one full-duplex voice session at a time.
type Orchestrator struct {
	cfg Config
	sm  *stateMachine
	log *slog.Logger
	obs metrics.Observer

	audioIO    audio.IO
	sttFactory STTFactory
	ttsClient  tts.Synthesizer
	llmClient  llm.StreamClient

	ttsBreaker *resilience.CircuitBreaker

	mu            sync.Mutex
	sessionID     string
	sessionCtx    context.Context
	sessionCancel context.CancelFunc
	sttStream     stt.Stream
	history       *conversation.History

	turnID     string
	turnStart  time.Time
	turnCtx    context.Context
	turnCancel context.CancelFunc

	// utterance tracking while the user speaks
	speechDetected bool
	silenceTimer   *time.Timer
	finalParts     []string
	partial        string

	// synthesis queue for the current AI turn
	queue   []string
	genDone bool
	cache   map[string]*synthResult
	tasks   map[string]*prefetchTask

	bargeTimer *time.Timer
}

// New creates an Orchestrator with the given settings. Collaborators are
// attached with the Set* methods before StartSession.
func New(cfg Config) *Orchestrator {
	if cfg.VADConfidence <= 0 {
		cfg.VADConfidence = 0.7
	}
	if cfg.PrefetchDepth <= 0 {
		cfg.PrefetchDepth = 1
	}
	return &Orchestrator{
		cfg:        cfg,
		sm:         newStateMachine(),
		log:        logging.NewComponentLogger(slog.Default(), "orchestrator"),
		obs:        metrics.NoopObserver{},
		ttsBreaker: resilience.NewCircuitBreaker(3, 30*time.Second),
		cache:      make(map[string]*synthResult),
		tasks:      make(map[string]*prefetchTask),
	}
}

func (o *Orchestrator) SetAudioIO(io audio.IO)         { o.audioIO = io }
func (o *Orchestrator) SetSTTFactory(f STTFactory)     { o.sttFactory = f }
func (o *Orchestrator) SetTTS(s tts.Synthesizer)       { o.ttsClient = s }
func (o *Orchestrator) SetLLM(c llm.StreamClient)      { o.llmClient = c }
func (o *Orchestrator) SetObserver(obs metrics.Observer) {
	if obs != nil {
		o.obs = obs
	}
}
func (o *Orchestrator) SetLogger(log *slog.Logger) {
	if log != nil {
		o.log = log
	}
}

// AddStateListener registers a listener for session state changes.
func (o *Orchestrator) AddStateListener(l StateListener) {
	o.sm.AddListener(l)
}

// State returns the current session state.
func (o *Orchestrator) State() State {
	return o.sm.State()
}

// SessionID returns the active session identifier, or "" when idle.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

func (o *Orchestrator) requireConfigured() error {
	var missing string
	switch {
	case o.audioIO == nil:
		missing = "audio engine"
	case o.sttFactory == nil:
		missing = "stt factory"
	case o.ttsClient == nil:
		missing = "tts synthesizer"
	case o.llmClient == nil:
		missing = "llm client"
	}
	if missing == "" {
		return nil
	}
	return errorsx.Reasonf(errorsx.ReasonNotConfigured, "missing collaborator: %s", missing)
}

// StartSession brings up the audio engine and STT stream, seeds the
// conversation history and begins the first turn. It fails fast before
// touching session state when a collaborator is missing.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	if err := o.requireConfigured(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.sessionCancel != nil {
		o.mu.Unlock()
		return errors.New("session already active")
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	o.sessionCtx = sessionCtx
	o.sessionCancel = cancel
	o.sessionID = uuid.NewString()
	o.history = conversation.NewHistory(o.cfg.SystemPrompt)
	o.resetUtteranceLocked()
	sessionID := o.sessionID
	o.mu.Unlock()

	if err := o.audioIO.Configure(audio.Config{
		SampleRate: o.cfg.SampleRate,
		Channels:   o.cfg.Channels,
		FrameMS:    o.cfg.FrameMS,
	}); err != nil {
		o.abortStart(cancel)
		return errorsx.Wrap(err, errorsx.ReasonAudioPlay)
	}
	if err := o.audioIO.Start(sessionCtx); err != nil {
		o.abortStart(cancel)
		return errorsx.Wrap(err, errorsx.ReasonAudioPlay)
	}

	stream := o.sttFactory(stt.Config{
		SessionID:  sessionID,
		SampleRate: o.cfg.SampleRate,
		Encoding:   "linear16",
		Language:   o.cfg.Language,
	})
	if err := stream.Start(sessionCtx); err != nil {
		_ = o.audioIO.Stop()
		o.abortStart(cancel)
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}

	o.mu.Lock()
	o.sttStream = stream
	o.mu.Unlock()

	o.log.Info("session started",
		"session_id", sessionID,
		"audio", o.audioIO.Name(),
		"stt", stream.Name(),
		"tts", o.ttsClient.Name(),
		"llm", o.llmClient.Name(),
		"ai_speaks_first", o.cfg.AISpeaksFirst,
	)

	go o.consumeFrames(sessionCtx)
	go o.consumeSTT(sessionCtx, stream)

	if o.cfg.AISpeaksFirst {
		_ = o.sm.Transition(StateAIThinking, "session start, ai speaks first")
		o.mu.Lock()
		if o.cfg.OpeningPrompt != "" {
			o.history.AppendUser(o.cfg.OpeningPrompt)
		}
		o.beginTurnLocked(sessionCtx)
		turnCtx := o.turnCtx
		o.mu.Unlock()
		go o.runGeneration(turnCtx)
	} else {
		_ = o.sm.Transition(StateUserSpeaking, "session start")
	}
	return nil
}

func (o *Orchestrator) abortStart(cancel context.CancelFunc) {
	cancel()
	o.mu.Lock()
	o.sessionCtx = nil
	o.sessionCancel = nil
	o.sessionID = ""
	o.mu.Unlock()
}

// sessionContextLocked returns the session context for deriving turn scopes.
func (o *Orchestrator) sessionContextLocked() context.Context {
	if o.sessionCtx != nil {
		return o.sessionCtx
	}
	return context.Background()
}

// StopSession tears the session down from any state. Safe to call twice;
// the second call finds nothing to release.
func (o *Orchestrator) StopSession() {
	o.mu.Lock()
	cancel := o.sessionCancel
	o.sessionCtx = nil
	o.sessionCancel = nil
	turnCancel := o.turnCancel
	o.turnCancel = nil
	stream := o.sttStream
	o.sttStream = nil
	sessionID := o.sessionID
	o.sessionID = ""
	o.history = nil
	o.cancelSilenceTimerLocked()
	o.cancelBargeTimerLocked()
	o.clearSynthesisLocked()
	o.resetUtteranceLocked()
	o.mu.Unlock()

	if cancel == nil && o.sm.State() == StateIdle {
		return
	}
	if turnCancel != nil {
		turnCancel()
	}
	if cancel != nil {
		cancel()
	}
	if o.audioIO != nil {
		o.audioIO.StopPlayback()
		_ = o.audioIO.Stop()
	}
	if stream != nil {
		_ = stream.Close()
	}
	if o.ttsClient != nil {
		o.ttsClient.Flush()
	}
	if o.sm.State() != StateIdle {
		_ = o.sm.Transition(StateIdle, "session stop")
	}
	o.log.Info("session stopped", "session_id", sessionID)
}

// beginTurnLocked starts a fresh AI turn: new turn id, timing origin and a
// turn-scoped context whose cancellation silently abandons the turn's work.
func (o *Orchestrator) beginTurnLocked(parent context.Context) {
	if o.turnCancel != nil {
		o.turnCancel()
	}
	o.turnID = uuid.NewString()
	o.turnStart = time.Now()
	o.turnCtx, o.turnCancel = context.WithCancel(parent)
	o.queue = nil
	o.genDone = false
	o.cache = make(map[string]*synthResult)
	o.tasks = make(map[string]*prefetchTask)
}

func (o *Orchestrator) clearSynthesisLocked() {
	for _, t := range o.tasks {
		t.cancel()
	}
	o.tasks = make(map[string]*prefetchTask)
	o.cache = make(map[string]*synthResult)
	o.queue = nil
	o.genDone = false
}

// consumeFrames routes captured audio by current state. Frames arriving in
// states with no audio role are dropped.
func (o *Orchestrator) consumeFrames(ctx context.Context) {
	in := o.audioIO.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case ta, ok := <-in:
			if !ok {
				return
			}
			switch o.sm.State() {
			case StateUserSpeaking:
				o.handleListeningFrame(ta)
			case StateAISpeaking:
				if o.qualifiesAsSpeech(ta.VAD) {
					o.tentativePause()
				}
			case StateInterrupted:
				if o.qualifiesAsSpeech(ta.VAD) {
					o.confirmBargeIn()
				}
			}
		}
	}
}

// consumeSTT folds transcription results into the current utterance.
func (o *Orchestrator) consumeSTT(ctx context.Context, stream stt.Stream) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-stream.Results():
			if !ok {
				return
			}
			o.handleSTTResult(res)
		}
	}
}
