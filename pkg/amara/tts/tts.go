// Package tts provides text-to-speech synthesis for Amara voice notes.
// Supports ElevenLabs (HTTP streaming and WebSocket stream-input), OpenAI
// TTS, and a primary/secondary fallback chain.
package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Provider is the interface for TTS backends.
type Provider interface {
	// Synthesize converts text to audio.
	// Returns audio bytes, MIME type (e.g. "audio/mpeg"), and error.
	Synthesize(ctx context.Context, text, voice string) ([]byte, string, error)
}

// ErrEmptyAudio is returned when a backend answers without audio.
var ErrEmptyAudio = errors.New("tts: empty audio")

// maxInputChars bounds the text sent to any backend.
const maxInputChars = 4096

func truncate(text string) string {
	if len(text) > maxInputChars {
		return text[:maxInputChars-3] + "..."
	}
	return text
}

// StageAudio writes audio to a temporary file in dir (the OS temp dir when
// empty) and returns its path. The caller removes the file.
func StageAudio(dir string, audio []byte, mime string) (string, error) {
	f, err := os.CreateTemp(dir, "voice-*"+extensionFor(mime))
	if err != nil {
		return "", fmt.Errorf("tts: staging audio: %w", err)
	}
	if _, err := f.Write(audio); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("tts: staging audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("tts: staging audio: %w", err)
	}
	return f.Name(), nil
}

func extensionFor(mime string) string {
	switch {
	case strings.Contains(mime, "ogg"), strings.Contains(mime, "opus"):
		return ".ogg"
	case strings.Contains(mime, "wav"):
		return ".wav"
	default:
		return ".mp3"
	}
}

// ============================================================
// Fallback Provider (tries primary, falls back to secondary)
// ============================================================

// FallbackProvider tries the primary provider and falls back to the
// secondary if the primary fails.
type FallbackProvider struct {
	primary        Provider
	secondary      Provider
	secondaryVoice string
	logger         *slog.Logger
}

// NewFallbackProvider creates a provider that tries primary first, then
// secondary with its own voice (the caller's voice when empty).
func NewFallbackProvider(primary, secondary Provider, secondaryVoice string, logger *slog.Logger) *FallbackProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackProvider{
		primary:        primary,
		secondary:      secondary,
		secondaryVoice: secondaryVoice,
		logger:         logger.With("component", "tts-fallback"),
	}
}

// Synthesize tries the primary provider, falling back to secondary on failure.
func (p *FallbackProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	audio, mime, err := p.primary.Synthesize(ctx, text, voice)
	if err == nil {
		return audio, mime, nil
	}

	p.logger.Warn("primary TTS failed, trying fallback", "error", err)

	v := p.secondaryVoice
	if v == "" {
		v = voice
	}
	audio, mime, err2 := p.secondary.Synthesize(ctx, text, v)
	if err2 != nil {
		return nil, "", fmt.Errorf("tts: primary: %v; fallback: %w", err, err2)
	}
	return audio, mime, nil
}
