package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/telepilotdev/telepilot/pkg/telepilot/operator"
)

// newChatCmd creates the `telepilot chat` command for local conversations.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant from this terminal",
		Long: `Run the assistant locally without a chat transport. With a message
argument it answers once and exits; without one it opens an interactive
prompt.

Examples:
  telepilot chat "how much disk space is left?"
  telepilot chat  # interactive`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().StringP("model", "m", "", "override the configured model")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		cfg.API.Model = model
	}
	logger := buildLogger(cmd, cfg)

	orch, _, _, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	policy := cfg.Policy.ToPolicy()

	// Single-message mode.
	if len(args) > 0 {
		res, err := orch.Run(ctx, "cli", args[0], policy)
		if err != nil {
			return err
		}
		printResult(cmd, res)
		return nil
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initializing prompt: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(cmd.OutOrStdout(), "Interactive mode. Type 'exit' or Ctrl+D to quit.")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		res, err := orch.Run(ctx, "cli", line, policy)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}
		printResult(cmd, res)
	}
}

func printResult(cmd *cobra.Command, res *operator.RunResult) {
	fmt.Fprintln(cmd.OutOrStdout(), res.FinalText)
	for _, m := range res.Media {
		fmt.Fprintf(cmd.OutOrStdout(), "[file saved: %s]\n", m.FilePath)
	}
}
