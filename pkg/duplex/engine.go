package duplex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ovelia/duplex/pkg/llm"
	"github.com/ovelia/duplex/pkg/logging"
	"github.com/ovelia/duplex/pkg/metrics"
	"github.com/ovelia/duplex/pkg/observers"
	"github.com/ovelia/duplex/pkg/orchestrator"
	"github.com/ovelia/duplex/pkg/redact"
)

// EngineOptions bundles everything NewEngine needs.
type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Logger    *slog.Logger
}

// Engine assembles the orchestrator with its configured providers and the
// observability chain, and owns their lifecycle.
type Engine struct {
	cfg  Config
	orch *orchestrator.Orchestrator
	log  *slog.Logger

	asyncObs    *metrics.AsyncObserver
	metricsFile *os.File
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	registry := opts.Providers
	if registry == nil {
		registry = NewProviderRegistry()
		RegisterDefaults(registry)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = logging.NewComponentLogger(log, "engine")

	redact.SetEnabled(cfg.Privacy.RedactPII)

	eng := &Engine{cfg: cfg, log: log}

	obs, err := eng.buildObserverChain(log)
	if err != nil {
		return nil, err
	}

	audioIO, err := registry.BuildAudio(cfg.Audio.Provider, cfg)
	if err != nil {
		eng.closeObservers()
		return nil, fmt.Errorf("build audio transport: %w", err)
	}
	sttFactory, err := registry.BuildSTTFactory(cfg.Vendors.STT.Provider, cfg)
	if err != nil {
		eng.closeObservers()
		return nil, fmt.Errorf("build stt provider: %w", err)
	}
	ttsClient, err := registry.BuildTTS(cfg.Vendors.TTS.Provider, cfg)
	if err != nil {
		eng.closeObservers()
		return nil, fmt.Errorf("build tts provider: %w", err)
	}
	llmClient, err := registry.BuildLLM(cfg.Vendors.LLM.Provider, cfg)
	if err != nil {
		eng.closeObservers()
		return nil, fmt.Errorf("build llm provider: %w", err)
	}

	orch := orchestrator.New(orchestrator.Config{
		SystemPrompt:         cfg.SystemPrompt,
		AISpeaksFirst:        cfg.Conversation.AISpeaksFirst,
		OpeningPrompt:        cfg.Conversation.OpeningPrompt,
		PrefetchEnabled:      cfg.Conversation.PrefetchEnabled,
		PrefetchDepth:        cfg.Conversation.PrefetchDepth,
		InterSentenceSilence: time.Duration(cfg.Conversation.InterSentenceSilenceMS) * time.Millisecond,
		VADConfidence:        cfg.Conversation.VADConfidence,
		SampleRate:           cfg.Audio.SampleRate,
		Channels:             cfg.Audio.Channels,
		FrameMS:              cfg.Audio.FrameMS,
		Language:             cfg.Conversation.Language,
		Generation: llm.GenerationConfig{
			Model:       cfg.Conversation.Generation.Model,
			MaxTokens:   cfg.Conversation.Generation.MaxTokens,
			Temperature: cfg.Conversation.Generation.Temperature,
		},
	})
	orch.SetAudioIO(audioIO)
	orch.SetSTTFactory(sttFactory)
	orch.SetTTS(ttsClient)
	orch.SetLLM(llmClient)
	orch.SetObserver(obs)

	eng.orch = orch
	return eng, nil
}

// buildObserverChain layers turn latency logging, optional JSONL export and
// sampling behind a single async fan-out.
func (e *Engine) buildObserverChain(log *slog.Logger) (metrics.Observer, error) {
	chain := []metrics.Observer{observers.NewTurnLatencyObserver(log)}

	if path := e.cfg.Observability.MetricsPath; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open metrics file: %w", err)
		}
		e.metricsFile = f
		chain = append(chain, metrics.NewJSONLObserver(f))
	}

	var obs metrics.Observer = observers.NewMultiObserver(chain...)
	e.asyncObs = metrics.NewAsyncObserver(obs, 2048)
	obs = e.asyncObs
	if rate := e.cfg.Observability.SampleRate; rate < 1 {
		obs = metrics.NewSamplingObserver(obs, rate)
	}
	return obs, nil
}

// Orchestrator exposes the underlying session orchestrator, mainly so callers
// can attach state listeners.
func (e *Engine) Orchestrator() *orchestrator.Orchestrator {
	return e.orch
}

func (e *Engine) Start(ctx context.Context) error {
	e.log.Info("starting session",
		"audio", e.cfg.Audio.Provider,
		"stt", e.cfg.Vendors.STT.Provider,
		"tts", e.cfg.Vendors.TTS.Provider,
		"llm", e.cfg.Vendors.LLM.Provider,
	)
	return e.orch.StartSession(ctx)
}

// Drain stops the session and flushes the observability pipeline.
func (e *Engine) Drain() error {
	e.orch.StopSession()
	e.closeObservers()
	e.log.Info("engine drained")
	return nil
}

func (e *Engine) closeObservers() {
	if e.asyncObs != nil {
		e.asyncObs.Close()
		e.asyncObs = nil
	}
	if e.metricsFile != nil {
		_ = e.metricsFile.Close()
		e.metricsFile = nil
	}
}
