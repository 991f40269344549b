package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/telepilotdev/telepilot/pkg/telepilot/config"
	"github.com/telepilotdev/telepilot/pkg/telepilot/scheduler"
)

// newScheduleCmd creates the `telepilot schedule` command group for managing
// recurring prompts. Changes take effect when the daemon restarts.
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring prompts",
		Long: `Manage prompts that run on a cron schedule while the daemon is up.
Results are delivered to the configured chat.

Examples:
  telepilot schedule list
  telepilot schedule add "0 9 * * *" "summarize overnight logs"
  telepilot schedule remove 1a2b3c4d`,
	}

	cmd.AddCommand(
		newScheduleListCmd(),
		newScheduleAddCmd(),
		newScheduleRemoveCmd(),
	)
	return cmd
}

// schedulerDBPath resolves the job database location, defaulting next to the
// user config.
func schedulerDBPath(cfg *config.Config) string {
	if cfg.Scheduler.DBPath != "" {
		return cfg.Scheduler.DBPath
	}
	if dir, err := os.UserConfigDir(); err == nil {
		base := filepath.Join(dir, "telepilot")
		if err := os.MkdirAll(base, 0o700); err == nil {
			return filepath.Join(base, "jobs.db")
		}
	}
	return "telepilot-jobs.db"
}

func openJobStore(cmd *cobra.Command) (*config.Config, *scheduler.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := scheduler.NewStore(schedulerDBPath(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("opening scheduler store: %w", err)
	}
	return cfg, store, nil
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recurring prompts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, err := openJobStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			jobs, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No recurring prompts.")
				return nil
			}
			for _, job := range jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-16s chat=%s  %s\n", job.ID, job.Spec, job.ChatID, job.Prompt)
			}
			return nil
		},
	}
}

func newScheduleAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <cron-spec> <prompt>",
		Short: "Add a recurring prompt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, prompt := args[0], args[1]
			if _, err := cron.ParseStandard(spec); err != nil {
				return fmt.Errorf("invalid cron spec %q: %w", spec, err)
			}

			cfg, store, err := openJobStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			chatID, _ := cmd.Flags().GetString("chat-id")
			if chatID == "" {
				if len(cfg.Telegram.AllowedChats) == 0 {
					return fmt.Errorf("no --chat-id given and no allowed_chats configured")
				}
				chatID = strconv.FormatInt(cfg.Telegram.AllowedChats[0], 10)
			}

			job := &scheduler.Job{
				ID:        uuid.New().String()[:8],
				ChatID:    chatID,
				Spec:      spec,
				Prompt:    prompt,
				CreatedAt: time.Now().UTC(),
			}
			if err := store.Save(cmd.Context(), job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %s: %q → %q (takes effect on daemon restart)\n", job.ID, spec, prompt)
			return nil
		},
	}

	cmd.Flags().String("chat-id", "", "chat that receives the results (default: first allowed chat)")
	return cmd
}

func newScheduleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a recurring prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openJobStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s.\n", args[0])
			return nil
		},
	}
}
