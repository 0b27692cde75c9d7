package duplex

import (
	"fmt"
	"strings"

	"github.com/ovelia/duplex/pkg/adapters/audio"
	"github.com/ovelia/duplex/pkg/adapters/stt"
	"github.com/ovelia/duplex/pkg/adapters/tts"
	"github.com/ovelia/duplex/pkg/configutil"
	"github.com/ovelia/duplex/pkg/llm"
	"github.com/ovelia/duplex/pkg/orchestrator"
	"github.com/ovelia/duplex/pkg/providers/deepgram"
	"github.com/ovelia/duplex/pkg/providers/elevenlabs"
	"github.com/ovelia/duplex/pkg/providers/mock"
	"github.com/ovelia/duplex/pkg/providers/openai"
	"github.com/ovelia/duplex/pkg/transports/ws"
)

type AudioFactory func(cfg Config) (audio.IO, error)
type STTFactoryBuilder func(cfg Config) (orchestrator.STTFactory, error)
type TTSFactory func(cfg Config) (tts.Synthesizer, error)
type LLMFactory func(cfg Config) (llm.StreamClient, error)

// ProviderRegistry maps provider names from config onto constructors.
type ProviderRegistry struct {
	audio map[string]AudioFactory
	stt   map[string]STTFactoryBuilder
	tts   map[string]TTSFactory
	llm   map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		audio: make(map[string]AudioFactory),
		stt:   make(map[string]STTFactoryBuilder),
		tts:   make(map[string]TTSFactory),
		llm:   make(map[string]LLMFactory),
	}
}

func (r *ProviderRegistry) RegisterAudio(name string, factory AudioFactory) {
	r.audio[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactoryBuilder) {
	r.stt[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[normalizeName(name)] = factory
}

func (r *ProviderRegistry) BuildAudio(provider string, cfg Config) (audio.IO, error) {
	fn := r.audio[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("audio provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildSTTFactory(provider string, cfg Config) (orchestrator.STTFactory, error) {
	fn := r.stt[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTTS(provider string, cfg Config) (tts.Synthesizer, error) {
	fn := r.tts[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg Config) (llm.StreamClient, error) {
	fn := r.llm[normalizeName(provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(cfg)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterDefaults wires up the built-in providers.
func RegisterDefaults(r *ProviderRegistry) {
	r.RegisterAudio("websocket", func(cfg Config) (audio.IO, error) {
		var wsCfg ws.Config
		if err := configutil.DecodeSettings(cfg.Audio.Settings, &wsCfg); err != nil {
			return nil, err
		}
		return ws.New(wsCfg), nil
	})
	r.RegisterAudio("mock", func(cfg Config) (audio.IO, error) {
		return mock.NewAudioIO(), nil
	})

	r.RegisterSTT("deepgram", func(cfg Config) (orchestrator.STTFactory, error) {
		settings := cfg.Vendors.STT.Settings
		if err := configutil.ValidateSettings(settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "interim", "utterance_end_ms"},
		}); err != nil {
			return nil, fmt.Errorf("deepgram settings: %w", err)
		}
		var dg deepgram.Config
		if err := configutil.DecodeSettings(settings, &dg); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(dg.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, err
		}
		return func(sc stt.Config) stt.Stream {
			c := dg
			c.SessionID = sc.SessionID
			c.SampleRate = sc.SampleRate
			c.Encoding = sc.Encoding
			c.Language = sc.Language
			return deepgram.New(c)
		}, nil
	})
	r.RegisterSTT("mock", func(cfg Config) (orchestrator.STTFactory, error) {
		return func(stt.Config) stt.Stream { return mock.NewSTTStream() }, nil
	})

	r.RegisterTTS("elevenlabs", func(cfg Config) (tts.Synthesizer, error) {
		settings := cfg.Vendors.TTS.Settings
		if err := configutil.ValidateSettings(settings, configutil.Schema{
			Required: []string{"api_key", "voice_id"},
			Optional: []string{"model_id", "output_format", "sample_rate", "base_url"},
		}); err != nil {
			return nil, fmt.Errorf("elevenlabs settings: %w", err)
		}
		var el elevenlabs.Config
		if err := configutil.DecodeSettings(settings, &el); err != nil {
			return nil, err
		}
		return elevenlabs.New(el), nil
	})
	r.RegisterTTS("mock", func(cfg Config) (tts.Synthesizer, error) {
		return mock.NewTTSSynthesizer(), nil
	})

	r.RegisterLLM("openai", func(cfg Config) (llm.StreamClient, error) {
		settings := cfg.Vendors.LLM.Settings
		if err := configutil.ValidateSettings(settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "base_url"},
		}); err != nil {
			return nil, fmt.Errorf("openai settings: %w", err)
		}
		var oc struct {
			APIKey  string `mapstructure:"api_key"`
			Model   string `mapstructure:"model"`
			BaseURL string `mapstructure:"base_url"`
		}
		if err := configutil.DecodeSettings(settings, &oc); err != nil {
			return nil, err
		}
		adapter := openai.NewAdapter(oc.APIKey, oc.Model)
		if oc.BaseURL != "" {
			adapter.BaseURL = oc.BaseURL
		}
		return adapter, nil
	})
	r.RegisterLLM("mock", func(cfg Config) (llm.StreamClient, error) {
		return mock.NewLLMClient("Hello!", " This is the built-in mock model."), nil
	})
}
