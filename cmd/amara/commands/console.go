package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/amara/pkg/amara/bot"
	"github.com/jholhewres/amara/pkg/amara/channels/console"
)

// newConsoleCmd creates the `amara console` command: the full engine
// driven from the local terminal as one private chat.
func newConsoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Chat with the bot from the terminal",
		Long: `Run the engine against a local terminal. Every line you type is a
private message from --user; replies, voice notes and photos are printed.
Use --admin to test admin commands such as /stats.

Examples:
  amara console
  amara console --user 42 --fast
  amara console --admin`,
		RunE: runConsole,
	}

	cmd.Flags().String("user", "console", "user id the typed messages come from")
	cmd.Flags().Bool("admin", false, "type as the configured admin")
	cmd.Flags().Bool("fast", false, "shrink the quiet window and reply delays to seconds")
	return cmd
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Logs go to stderr so they do not interleave with the chat.
	logger := newLogger(cmd, cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := resolveSecrets(ctx, cfg, logger); err != nil {
		logger.Warn("some credentials are missing, replies may fall back", "error", err)
	}

	userID, _ := cmd.Flags().GetString("user")
	if admin, _ := cmd.Flags().GetBool("admin"); admin && cfg.AdminID != "" {
		userID = cfg.AdminID
	}

	botCfg := cfg.BotConfig()
	if fast, _ := cmd.Flags().GetBool("fast"); fast {
		botCfg.QuietWindow = 3 * time.Second
		botCfg.VoiceDelay = bot.Latency{Min: time.Second, Max: 3 * time.Second}
		botCfg.MediaDelay = bot.Latency{Min: time.Second, Max: 2 * time.Second}
	}

	history := ""
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, ".amara_history")
	}
	ch := console.New(console.Config{
		UserID:      userID,
		BotName:     cfg.Name,
		HistoryFile: history,
	}, logger)

	a, err := newApp(ctx, cfg, ch, botCfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := ch.Connect(ctx); err != nil {
		return err
	}
	defer ch.Disconnect()

	runErr := a.engine.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// EOF: let pending replies land before exiting.
	done := make(chan struct{})
	go func() {
		a.engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return runErr
}
