package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jholhewres/amara/pkg/amara/completion"
)

// FallbackPersona is used when no persona file can be read.
const FallbackPersona = completion.DefaultSystemPrompt

// LoadPersona reads the persona instruction from path. A missing or empty
// file yields FallbackPersona with a warning; other read errors are
// returned.
func LoadPersona(path string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		logger.Warn("no persona file configured, using fallback instruction")
		return FallbackPersona, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("persona file not found, using fallback instruction", "path", path)
		return FallbackPersona, nil
	}
	if err != nil {
		return "", fmt.Errorf("config: reading persona %s: %w", path, err)
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		logger.Warn("persona file is empty, using fallback instruction", "path", path)
		return FallbackPersona, nil
	}
	return prompt, nil
}
