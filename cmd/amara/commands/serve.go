package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/amara/pkg/amara/observability"
	"github.com/jholhewres/amara/pkg/amara/scheduler"
)

// shutdownGrace bounds how long in-flight tasks may finish after a signal.
const shutdownGrace = 10 * time.Second

// newServeCmd creates the `amara serve` command that runs the bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot on the configured channel",
		Long: `Connect to the configured channel (Telegram or Discord) and process
private messages until interrupted. Also schedules the daily admin digest
and, when ops.address is set, serves /healthz, /metrics and /stats.

Examples:
  amara serve
  amara serve --config ./config.yaml -v`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := resolveSecrets(ctx, cfg, logger); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ── Wire components ──
	ch, err := newChannel(cfg, logger)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, ch, cfg.BotConfig(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New(cfg.Location(), logger)
	if cfg.Digest.Enabled {
		if err := sched.Add(scheduler.Job{
			Name:     "digest",
			Schedule: cfg.Digest.Schedule,
			Run: func(ctx context.Context) error {
				_, err := a.engine.Digest(ctx)
				return err
			},
		}); err != nil {
			return err
		}
	}

	// ── Start ──
	if err := ch.Connect(ctx); err != nil {
		return fmt.Errorf("connecting %s: %w", ch.Name(), err)
	}
	sched.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.engine.Run(gctx)
	})
	if cfg.Ops.Address != "" {
		ops := observability.NewServer(observability.ServerConfig{
			Address:     cfg.Ops.Address,
			Channel:     ch,
			Metrics:     a.metrics,
			ActiveUsers: a.engine.ActiveUsers,
			Sessions:    a.engine.Sessions().Len,
			Jobs:        sched.Statuses,
		}, logger)
		g.Go(func() error {
			return ops.Run(gctx)
		})
	}

	logger.Info("amara running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"channel", ch.Name(),
		"admin_id", cfg.AdminID,
	)

	// ── Wait for shutdown ──
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	logger.Info("shutting down")

	sched.Stop(shutdownGrace)

	done := make(chan struct{})
	go func() {
		a.engine.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("in-flight tasks finished")
	case <-time.After(shutdownGrace):
		logger.Warn("shutdown timed out, abandoning in-flight tasks", "grace", shutdownGrace)
	}

	if err := ch.Disconnect(); err != nil {
		logger.Warn("disconnecting channel failed", "error", err)
	}
	logger.Info("shutdown complete")
	return runErr
}
