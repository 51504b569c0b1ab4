package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/amara/pkg/amara/bot"
	"github.com/jholhewres/amara/pkg/amara/channels"
	"github.com/jholhewres/amara/pkg/amara/channels/discord"
	"github.com/jholhewres/amara/pkg/amara/channels/telegram"
	"github.com/jholhewres/amara/pkg/amara/completion"
	"github.com/jholhewres/amara/pkg/amara/config"
	"github.com/jholhewres/amara/pkg/amara/media"
	"github.com/jholhewres/amara/pkg/amara/observability"
	"github.com/jholhewres/amara/pkg/amara/store"
	"github.com/jholhewres/amara/pkg/amara/tts"
)

// loadConfig reads the configuration named by --config or found on the
// search path. Secrets are resolved separately.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, used, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if used == "" {
		slog.Warn("no configuration file found, using defaults", "hint", "run 'amara setup'")
	} else {
		slog.Debug("config loaded", "path", used)
	}
	return cfg, nil
}

// newLogger builds the slog handler selected by the logging section.
func newLogger(cmd *cobra.Command, cfg *config.Config, out io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// resolveSecrets fills credentials from env, keyring and SSM.
func resolveSecrets(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var params config.ParamGetter
	if cfg.Secrets.SSMPrefix != "" {
		ps, err := config.NewSSMParamStore(ctx, cfg.Secrets.SSMRegion)
		if err != nil {
			logger.Warn("parameter store unavailable, skipping", "error", err)
		} else {
			params = ps
		}
	}
	return config.NewSecretResolver(cfg.Secrets, params, logger).Resolve(ctx, cfg)
}

// newChannel creates the configured transport.
func newChannel(cfg *config.Config, logger *slog.Logger) (channels.Channel, error) {
	switch cfg.Channel {
	case config.ChannelTelegram:
		return telegram.New(cfg.Telegram, logger), nil
	case config.ChannelDiscord:
		return discord.New(cfg.Discord, logger), nil
	default:
		return nil, fmt.Errorf("unknown channel %q", cfg.Channel)
	}
}

// app holds the wired components shared by serve, console and the admin
// commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	channel channels.Channel
	store   store.Store
	engine  *bot.Engine
	metrics *observability.Metrics
}

// newApp wires the store, gateways, media picker and engine around ch.
func newApp(ctx context.Context, cfg *config.Config, ch channels.Channel, botCfg bot.Config, logger *slog.Logger) (*app, error) {
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.Path, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	prompt, err := config.LoadPersona(cfg.Persona.PromptFile, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	gateway := completion.NewGateway(
		completion.NewOpenAIBackend(cfg.OpenAIConfig()),
		st,
		cfg.CompletionOptions(prompt),
		logger,
	)

	speech, err := tts.New(cfg.SpeechConfig(), logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	// Only platforms that can read channel history provide photos directly;
	// the others fall back to the media catalog.
	source, _ := ch.(channels.PhotoSource)
	picker := media.NewPicker(cfg.MediaPickerConfig(), st, source, logger)

	metrics := observability.NewMetrics("amara")

	engine, err := bot.New(botCfg, bot.Deps{
		Channel:   ch,
		Store:     st,
		Completer: gateway,
		Speech:    speech,
		Media:     picker,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		channel: ch,
		store:   st,
		engine:  engine,
		metrics: metrics,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store failed", "error", err)
	}
}
