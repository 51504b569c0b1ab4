package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/amara/pkg/amara/bot"
	"github.com/jholhewres/amara/pkg/amara/store"
)

// newStatsCmd creates the `amara stats` command.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the active-user count for the report window",
		Long: `Count distinct users that interacted within digest.window (24h by
default). Only the store is opened; no channel connection is made.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			st, err := store.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.Path, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer st.Close()

			n, err := st.ActiveUsers(cmd.Context(), time.Now().Add(-cfg.Digest.Window))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), bot.FormatStats(cfg.Name, n))
			return nil
		},
	}
}

// newBroadcastCmd creates the `amara broadcast` command.
func newBroadcastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "broadcast <text>",
		Short: "Send a text to every known user",
		Long: `Connect to the configured channel and send the text to every user
that ever interacted, then print the tally. Sends are paced by
admin.broadcast_rate.

Examples:
  amara broadcast "New photos are up!"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return fmt.Errorf("broadcast text is empty")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg, os.Stderr)
			ctx := cmd.Context()

			if err := resolveSecrets(ctx, cfg, logger); err != nil {
				return err
			}
			ch, err := newChannel(cfg, logger)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, ch, cfg.BotConfig(), logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := ch.Connect(ctx); err != nil {
				return fmt.Errorf("connecting %s: %w", ch.Name(), err)
			}
			defer ch.Disconnect()

			res := a.engine.Broadcast(ctx, text, nil)
			fmt.Fprintln(cmd.OutOrStdout(), bot.FormatBroadcast(res))
			return nil
		},
	}
}

// newDigestCmd creates the `amara digest` command, the manual form of the
// scheduled daily job.
func newDigestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Run the daily digest once",
		Long: `Print the active-user count for the report window. With --prune,
delete interaction rows older than the window. With --send, deliver the
report to the admin through the channel (this also prunes), exactly as the
scheduled job does.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg, os.Stderr)
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if send, _ := cmd.Flags().GetBool("send"); send {
				if err := resolveSecrets(ctx, cfg, logger); err != nil {
					return err
				}
				ch, err := newChannel(cfg, logger)
				if err != nil {
					return err
				}
				a, err := newApp(ctx, cfg, ch, cfg.BotConfig(), logger)
				if err != nil {
					return err
				}
				defer a.Close()

				if err := ch.Connect(ctx); err != nil {
					return fmt.Errorf("connecting %s: %w", ch.Name(), err)
				}
				defer ch.Disconnect()

				res, err := a.engine.Digest(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, bot.FormatDigest(cfg.Name, res.Active))
				fmt.Fprintf(out, "Pruned interactions: %d\n", res.Pruned)
				return nil
			}

			st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.Path, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer st.Close()

			cutoff := time.Now().Add(-cfg.Digest.Window)
			n, err := st.ActiveUsers(ctx, cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, bot.FormatDigest(cfg.Name, n))

			if prune, _ := cmd.Flags().GetBool("prune"); prune {
				pruned, err := st.PruneInteractions(ctx, cutoff)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned interactions: %d\n", pruned)
			}
			return nil
		},
	}

	cmd.Flags().Bool("prune", false, "delete interactions older than the window")
	cmd.Flags().Bool("send", false, "send the report to the admin through the channel")
	return cmd
}
