package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telepilotdev/telepilot/pkg/telepilot/channels/telegram"
	"github.com/telepilotdev/telepilot/pkg/telepilot/operator"
	"github.com/telepilotdev/telepilot/pkg/telepilot/scheduler"
)

// newServeCmd creates the `telepilot serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon and listen for chat messages",
		Long: `Start telepilot as a daemon: connect to Telegram, process incoming
messages through the reasoning service, and run any scheduled prompts.

Examples:
  telepilot serve
  telepilot serve --config ./telepilot.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token not configured; run `telepilot setup`")
	}
	if len(cfg.Telegram.AllowedChats) == 0 {
		logger.Warn("no allowed_chats configured; the bot will answer anyone who finds it")
	}

	orch, store, llm, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}

	channel := telegram.New(cfg.Telegram, logger)
	assistant := operator.NewAssistant(channel, orch, llm, store, operator.AssistantConfig{
		Policy:             cfg.Policy.ToPolicy(),
		VisionModel:        cfg.API.VisionModel,
		TranscriptionModel: cfg.API.TranscriptionModel,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		jobStore, err := scheduler.NewStore(schedulerDBPath(cfg))
		if err != nil {
			return fmt.Errorf("opening scheduler store: %w", err)
		}
		defer jobStore.Close()

		sched = scheduler.New(jobStore, orch, channel, cfg.Policy.ToPolicy(), logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- assistant.Start(ctx)
	}()

	logger.Info("telepilot running, press Ctrl+C to stop",
		"model", cfg.API.Model,
		"allowed_chats", len(cfg.Telegram.AllowedChats),
		"scheduler", cfg.Scheduler.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received, stopping")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("assistant stopped: %w", err)
		}
		return nil
	}

	cancel()

	done := make(chan struct{})
	go func() {
		if sched != nil {
			sched.Stop()
		}
		<-errCh
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}
	return nil
}
