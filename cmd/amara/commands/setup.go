package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/amara/pkg/amara/config"
)

// newSetupCmd creates the `amara setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes config.yaml.
Asks for the bot name, admin id, channel, persona file and credentials.
Credentials are stored in the OS keyring when available; config.yaml only
ever holds ${ENV} references.

Examples:
  amara setup
  amara setup --config ./deploy/config.yaml`,
		RunE: runSetup,
	}
}

// setupAnswers collects the wizard fields before they are applied to the
// config.
type setupAnswers struct {
	name        string
	adminID     string
	channel     string
	token       string
	llmKey      string
	ttsKey      string
	promptFile  string
	useKeyring  bool
	confirmSave bool
}

func runSetup(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = "config.yaml"
	}

	cfg := config.DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		if existing, _, err := config.Load(path); err == nil {
			cfg = existing
		}
	}

	ans := setupAnswers{
		name:       cfg.Name,
		adminID:    cfg.AdminID,
		channel:    cfg.Channel,
		promptFile: cfg.Persona.PromptFile,
		useKeyring: true,
	}

	required := func(field string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s is required", field)
			}
			return nil
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Description("Used in replies and admin reports.").
				Value(&ans.name).
				Validate(required("name")),
			huh.NewInput().
				Title("Admin user id").
				Description("The only account allowed to run /stats and /broadcast.").
				Value(&ans.adminID).
				Validate(required("admin id")),
			huh.NewSelect[string]().
				Title("Channel").
				Options(
					huh.NewOption("Telegram", config.ChannelTelegram),
					huh.NewOption("Discord", config.ChannelDiscord),
				).
				Value(&ans.channel),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Bot token").
				Description("Leave empty to provide it through the environment.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.token),
			huh.NewInput().
				Title("OpenAI API key").
				EchoMode(huh.EchoModePassword).
				Value(&ans.llmKey),
			huh.NewInput().
				Title("ElevenLabs API key").
				Description("Optional. Voice replies fall back to OpenAI speech without it.").
				EchoMode(huh.EchoModePassword).
				Value(&ans.ttsKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Persona prompt file").
				Value(&ans.promptFile),
			huh.NewConfirm().
				Title("Store credentials in the OS keyring?").
				Affirmative("Yes").
				Negative("No").
				Value(&ans.useKeyring),
			huh.NewConfirm().
				Title(fmt.Sprintf("Write %s?", path)).
				Value(&ans.confirmSave),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(cmd.OutOrStdout(), "Setup cancelled.")
			return nil
		}
		return err
	}
	if !ans.confirmSave {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing written.")
		return nil
	}

	hints := applySetup(cfg, ans)
	if err := config.Save(cfg, path); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nConfiguration written to %s\n", path)
	if len(hints) > 0 {
		fmt.Fprintln(out, "\nSet these before running 'amara serve':")
		for _, h := range hints {
			fmt.Fprintf(out, "  export %s=...\n", h)
		}
	}
	return nil
}

// applySetup copies the answers into cfg. Secrets go to the keyring when
// requested; otherwise the config gets an ${ENV} reference. It returns the
// environment variables the user still has to set.
func applySetup(cfg *config.Config, ans setupAnswers) []string {
	cfg.Name = strings.TrimSpace(ans.name)
	cfg.AdminID = strings.TrimSpace(ans.adminID)
	cfg.Channel = ans.channel
	if p := strings.TrimSpace(ans.promptFile); p != "" {
		cfg.Persona.PromptFile = p
	}
	cfg.Secrets.Keyring = ans.useKeyring

	tokenKey, tokenEnv := config.SecretTelegramToken, "TELEGRAM_BOT_TOKEN"
	tokenField := &cfg.Telegram.Token
	if cfg.Channel == config.ChannelDiscord {
		tokenKey, tokenEnv = config.SecretDiscordToken, "DISCORD_BOT_TOKEN"
		tokenField = &cfg.Discord.Token
	}

	var hints []string
	secrets := []struct {
		key, env, value string
		field           *string
		optional        bool
	}{
		{tokenKey, tokenEnv, ans.token, tokenField, false},
		{config.SecretLLMKey, "OPENAI_API_KEY", ans.llmKey, &cfg.LLM.APIKey, false},
		{config.SecretTTSKey, "ELEVENLABS_API_KEY", ans.ttsKey, &cfg.TTS.APIKey, true},
	}
	for _, s := range secrets {
		value := strings.TrimSpace(s.value)
		if value != "" && ans.useKeyring {
			if err := config.StoreKeyring(s.key, value); err == nil {
				*s.field = ""
				continue
			}
			fmt.Fprintf(os.Stderr, "  [!] keyring unavailable for %s, use %s instead\n", s.key, s.env)
		}
		*s.field = "${" + s.env + "}"
		if value == "" && s.optional {
			continue
		}
		hints = append(hints, s.env)
	}
	return hints
}
