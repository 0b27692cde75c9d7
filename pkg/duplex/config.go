package duplex

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	SystemPrompt  string              `mapstructure:"system_prompt"`
	Conversation  ConversationConfig  `mapstructure:"conversation"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type ConversationConfig struct {
	AISpeaksFirst          bool    `mapstructure:"ai_speaks_first"`
	OpeningPrompt          string  `mapstructure:"opening_prompt"`
	PrefetchEnabled        bool    `mapstructure:"prefetch_enabled"`
	PrefetchDepth          int     `mapstructure:"prefetch_depth"`
	InterSentenceSilenceMS int     `mapstructure:"inter_sentence_silence_ms"`
	VADConfidence          float64 `mapstructure:"vad_confidence"`
	Language               string  `mapstructure:"language"`
	Generation             GenerationConfig `mapstructure:"generation"`
}

type GenerationConfig struct {
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type AudioConfig struct {
	Provider   string         `mapstructure:"provider"`
	Settings   map[string]any `mapstructure:"settings"`
	SampleRate int            `mapstructure:"sample_rate"`
	Channels   int            `mapstructure:"channels"`
	FrameMS    int            `mapstructure:"frame_ms"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type ObservabilityConfig struct {
	MetricsPath string  `mapstructure:"metrics_path"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("system_prompt", "You are a helpful voice assistant. Keep answers short and conversational.")
	v.SetDefault("conversation.ai_speaks_first", false)
	v.SetDefault("conversation.prefetch_enabled", true)
	v.SetDefault("conversation.prefetch_depth", 1)
	v.SetDefault("conversation.inter_sentence_silence_ms", 80)
	v.SetDefault("conversation.vad_confidence", 0.7)
	v.SetDefault("conversation.language", "en")
	v.SetDefault("conversation.generation.max_tokens", 512)
	v.SetDefault("conversation.generation.temperature", 0.7)
	v.SetDefault("audio.provider", "websocket")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.frame_ms", 20)
	v.SetDefault("observability.metrics_path", "")
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Audio.Provider) == "" {
		return fmt.Errorf("audio.provider is required")
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if c.Conversation.PrefetchDepth < 1 {
		return fmt.Errorf("conversation.prefetch_depth must be at least 1")
	}
	if c.Conversation.VADConfidence <= 0 || c.Conversation.VADConfidence > 1 {
		return fmt.Errorf("conversation.vad_confidence must be in (0, 1]")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive")
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be in [0, 1]")
	}
	return nil
}

// expandEnvStrings substitutes ${VAR} references so secrets stay out of the
// config file itself.
func expandEnvStrings(cfg *Config) {
	cfg.SystemPrompt = os.ExpandEnv(cfg.SystemPrompt)
	cfg.Conversation.OpeningPrompt = os.ExpandEnv(cfg.Conversation.OpeningPrompt)
	cfg.Audio.Settings = expandSettings(cfg.Audio.Settings)
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = expandAny(item)
		}
		return val
	default:
		return v
	}
}
