package tts

import (
	"fmt"
	"log/slog"
)

// Provider names accepted by New.
const (
	ProviderElevenLabs       = "elevenlabs"
	ProviderElevenLabsStream = "elevenlabs-stream"
	ProviderOpenAI           = "openai"
)

// Config selects and configures the speech providers.
type Config struct {
	Provider string

	// Fallback names an optional secondary provider.
	Fallback      string
	FallbackVoice string

	ElevenLabs ElevenLabsConfig

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// New builds the configured provider, wrapped in a FallbackProvider when a
// fallback is set.
func New(cfg Config, logger *slog.Logger) (Provider, error) {
	primary, err := newProvider(cfg.Provider, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Fallback == "" || cfg.Fallback == cfg.Provider {
		return primary, nil
	}
	secondary, err := newProvider(cfg.Fallback, cfg)
	if err != nil {
		return nil, fmt.Errorf("tts fallback: %w", err)
	}
	return NewFallbackProvider(primary, secondary, cfg.FallbackVoice, logger), nil
}

func newProvider(name string, cfg Config) (Provider, error) {
	switch name {
	case "", ProviderElevenLabs:
		return NewElevenLabsProvider(cfg.ElevenLabs), nil
	case ProviderElevenLabsStream:
		return NewElevenLabsStreamProvider(cfg.ElevenLabs), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("tts: unknown provider %q", name)
	}
}
