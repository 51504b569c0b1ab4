// Package config defines the bot configuration, loads it from YAML with
// .env support and resolves credentials from the environment, the OS
// keyring or AWS SSM Parameter Store.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jholhewres/amara/pkg/amara/bot"
	"github.com/jholhewres/amara/pkg/amara/channels/discord"
	"github.com/jholhewres/amara/pkg/amara/channels/telegram"
	"github.com/jholhewres/amara/pkg/amara/completion"
	"github.com/jholhewres/amara/pkg/amara/media"
	"github.com/jholhewres/amara/pkg/amara/tts"
)

// Channel names.
const (
	ChannelTelegram = "telegram"
	ChannelDiscord  = "discord"
)

// Config holds all bot configuration.
type Config struct {
	// Name is the persona name used in admin reports.
	Name string `yaml:"name"`

	// AdminID is the platform user id allowed to run admin commands and
	// receive the daily digest.
	AdminID string `yaml:"admin_id"`

	// Channel selects the transport: "telegram" or "discord".
	Channel string `yaml:"channel"`

	// Timezone names the location used by the digest schedule
	// (e.g. "Europe/Berlin"). Empty means the host's local time.
	Timezone string `yaml:"timezone"`

	Persona  PersonaConfig   `yaml:"persona"`
	Telegram telegram.Config `yaml:"telegram"`
	Discord  discord.Config  `yaml:"discord"`
	Database DatabaseConfig  `yaml:"database"`
	LLM      LLMConfig       `yaml:"llm"`
	TTS      TTSConfig       `yaml:"tts"`
	Media    MediaConfig     `yaml:"media"`
	Behavior BehaviorConfig  `yaml:"behavior"`
	Admin    AdminConfig     `yaml:"admin"`
	Digest   DigestConfig    `yaml:"digest"`
	Ops      OpsConfig       `yaml:"ops"`
	Logging  LoggingConfig   `yaml:"logging"`
	Secrets  SecretsConfig   `yaml:"secrets"`
}

// PersonaConfig points at the persona instruction.
type PersonaConfig struct {
	// PromptFile is a text file holding the system instruction.
	PromptFile string `yaml:"prompt_file"`
}

// DatabaseConfig selects the conversation store.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// URL is the Postgres connection string.
	URL string `yaml:"url"`
}

// LLMConfig configures the completion backend.
type LLMConfig struct {
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	Temperature   float32 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	HistoryTurns  int     `yaml:"history_turns"`
	FallbackReply string  `yaml:"fallback_reply"`
	EmptyReply    string  `yaml:"empty_reply"`

	// SkipFallbackTurns keeps failed exchanges out of the context window.
	SkipFallbackTurns bool `yaml:"skip_fallback_turns"`
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	// Provider is "elevenlabs" (default), "elevenlabs-stream" or "openai".
	Provider string `yaml:"provider"`

	// Fallback optionally names a secondary provider.
	Fallback      string `yaml:"fallback"`
	FallbackVoice string `yaml:"fallback_voice"`

	APIKey          string  `yaml:"api_key"`
	BaseURL         string  `yaml:"base_url"`
	VoiceID         string  `yaml:"voice_id"`
	ModelID         string  `yaml:"model_id"`
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
	OutputFormat    string  `yaml:"output_format"`

	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIModel  string `yaml:"openai_model"`
}

// MediaConfig configures the photo source.
type MediaConfig struct {
	SourceID  string   `yaml:"source_id"`
	ScanLimit int      `yaml:"scan_limit"`
	Captions  []string `yaml:"captions"`
}

// BehaviorConfig tunes the trigger policy.
type BehaviorConfig struct {
	QuietWindow    time.Duration `yaml:"quiet_window"`
	FlushBatch     int           `yaml:"flush_batch"`
	VoiceKeywords  []string      `yaml:"voice_keywords"`
	MediaKeywords  []string      `yaml:"media_keywords"`
	VoiceDelay     bot.Latency   `yaml:"voice_delay"`
	MediaDelay     bot.Latency   `yaml:"media_delay"`
	VoiceAt        int64         `yaml:"voice_at"`
	VoiceEvery     int64         `yaml:"voice_every"`
	MilestoneEvery int64         `yaml:"milestone_every"`

	// StageDir holds synthesized audio until sent (default: OS temp dir).
	StageDir string `yaml:"stage_dir"`
}

// AdminConfig tunes admin operations.
type AdminConfig struct {
	// BroadcastRate caps broadcast sends per second; 0 disables pacing.
	BroadcastRate float64 `yaml:"broadcast_rate"`
}

// DigestConfig configures the daily admin report.
type DigestConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	Window   time.Duration `yaml:"window"`
}

// OpsConfig configures the operations HTTP server.
type OpsConfig struct {
	// Address to listen on (e.g. "127.0.0.1:9090"). Empty disables it.
	Address string `yaml:"address"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Format is "json" (default) or "text".
	Format string `yaml:"format"`

	// Level is "info" (default), "debug", "warn" or "error".
	Level string `yaml:"level"`
}

// SecretsConfig controls where missing credentials are looked up.
type SecretsConfig struct {
	// Keyring enables the OS keyring lookup.
	Keyring bool `yaml:"keyring"`

	// SSMPrefix enables AWS SSM Parameter Store lookups under this path
	// (e.g. "/amara/prod/").
	SSMPrefix string `yaml:"ssm_prefix"`

	// SSMRegion overrides the AWS region.
	SSMRegion string `yaml:"ssm_region"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	b := bot.DefaultConfig()
	return &Config{
		Name:    b.Name,
		Channel: ChannelTelegram,
		Persona: PersonaConfig{PromptFile: "prompt.txt"},
		Telegram: telegram.DefaultConfig(),
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "./data/amara.db",
		},
		LLM: LLMConfig{
			Model:         "gpt-4o-mini",
			Temperature:   0.7,
			MaxTokens:     200,
			HistoryTurns:  5,
			FallbackReply: completion.DefaultFallbackReply,
			EmptyReply:    completion.DefaultEmptyReply,
		},
		TTS: TTSConfig{
			Provider:        tts.ProviderElevenLabs,
			ModelID:         "eleven_multilingual_v2",
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
		Media: MediaConfig{
			ScanLimit: media.DefaultScanLimit,
		},
		Behavior: BehaviorConfig{
			QuietWindow:    b.QuietWindow,
			FlushBatch:     b.FlushBatch,
			VoiceKeywords:  b.VoiceKeywords,
			MediaKeywords:  b.MediaKeywords,
			VoiceDelay:     b.VoiceDelay,
			MediaDelay:     b.MediaDelay,
			VoiceAt:        b.VoiceAt,
			VoiceEvery:     b.VoiceEvery,
			MilestoneEvery: b.MilestoneEvery,
		},
		Admin: AdminConfig{BroadcastRate: b.BroadcastRate},
		Digest: DigestConfig{
			Enabled:  true,
			Schedule: "@midnight",
			Window:   b.ReportWindow,
		},
		Logging: LoggingConfig{Format: "json", Level: "info"},
		Secrets: SecretsConfig{Keyring: true},
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.AdminID == "" {
		errs = append(errs, errors.New("admin_id is required"))
	}
	switch c.Channel {
	case ChannelTelegram, ChannelDiscord:
	default:
		errs = append(errs, fmt.Errorf("channel: unknown channel %q", c.Channel))
	}
	switch c.Database.Driver {
	case "", "sqlite", "sqlite3":
	case "postgres", "postgresql":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	if c.Behavior.QuietWindow <= 0 {
		errs = append(errs, errors.New("behavior.quiet_window must be positive"))
	}
	if c.Behavior.FlushBatch <= 0 {
		errs = append(errs, errors.New("behavior.flush_batch must be positive"))
	}
	if c.Behavior.VoiceDelay.Min > c.Behavior.VoiceDelay.Max {
		errs = append(errs, errors.New("behavior.voice_delay: min exceeds max"))
	}
	if c.Behavior.MediaDelay.Min > c.Behavior.MediaDelay.Max {
		errs = append(errs, errors.New("behavior.media_delay: min exceeds max"))
	}
	if c.Admin.BroadcastRate < 0 {
		errs = append(errs, errors.New("admin.broadcast_rate must not be negative"))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Location returns the digest time zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// BotConfig maps the behavior sections onto the engine configuration.
func (c *Config) BotConfig() bot.Config {
	stage := c.Behavior.StageDir
	if stage == "" {
		stage = filepath.Join(os.TempDir(), "amara")
	}
	return bot.Config{
		Name:           c.Name,
		AdminID:        c.AdminID,
		QuietWindow:    c.Behavior.QuietWindow,
		FlushBatch:     c.Behavior.FlushBatch,
		VoiceKeywords:  c.Behavior.VoiceKeywords,
		MediaKeywords:  c.Behavior.MediaKeywords,
		VoiceAt:        c.Behavior.VoiceAt,
		VoiceEvery:     c.Behavior.VoiceEvery,
		MilestoneEvery: c.Behavior.MilestoneEvery,
		VoiceDelay:     c.Behavior.VoiceDelay,
		MediaDelay:     c.Behavior.MediaDelay,
		VoiceID:        c.TTS.VoiceID,
		BroadcastRate:  c.Admin.BroadcastRate,
		ReportWindow:   c.Digest.Window,
		StageDir:       stage,
	}
}

// CompletionOptions maps the llm section onto gateway options.
func (c *Config) CompletionOptions(systemPrompt string) completion.Options {
	return completion.Options{
		SystemPrompt:      systemPrompt,
		Temperature:       c.LLM.Temperature,
		MaxTokens:         c.LLM.MaxTokens,
		HistoryTurns:      c.LLM.HistoryTurns,
		FallbackReply:     c.LLM.FallbackReply,
		EmptyReply:        c.LLM.EmptyReply,
		SkipFallbackTurns: c.LLM.SkipFallbackTurns,
	}
}

// OpenAIConfig maps the llm section onto the backend configuration.
func (c *Config) OpenAIConfig() completion.OpenAIConfig {
	return completion.OpenAIConfig{
		BaseURL: c.LLM.BaseURL,
		APIKey:  c.LLM.APIKey,
		Model:   c.LLM.Model,
	}
}

// SpeechConfig maps the tts section onto the provider factory input.
func (c *Config) SpeechConfig() tts.Config {
	return tts.Config{
		Provider:      c.TTS.Provider,
		Fallback:      c.TTS.Fallback,
		FallbackVoice: c.TTS.FallbackVoice,
		ElevenLabs: tts.ElevenLabsConfig{
			APIKey:          c.TTS.APIKey,
			BaseURL:         c.TTS.BaseURL,
			ModelID:         c.TTS.ModelID,
			Stability:       c.TTS.Stability,
			SimilarityBoost: c.TTS.SimilarityBoost,
			OutputFormat:    c.TTS.OutputFormat,
		},
		OpenAIAPIKey:  c.TTS.OpenAIAPIKey,
		OpenAIModel:   c.TTS.OpenAIModel,
	}
}

// MediaPickerConfig maps the media section onto the picker configuration.
func (c *Config) MediaPickerConfig() media.Config {
	return media.Config{
		SourceID:  c.Media.SourceID,
		ScanLimit: c.Media.ScanLimit,
		Captions:  c.Media.Captions,
	}
}
