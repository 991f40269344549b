package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/telepilotdev/telepilot/pkg/telepilot/config"
)

// newSetupCmd creates the `telepilot setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes your initial telepilot.yaml.
Asks for the Telegram bot token, your chat ID, and the reasoning service
endpoint. Secrets go to the OS keyring, never into the config file.

Examples:
  telepilot setup`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("setup needs an interactive terminal; write %s by hand instead", defaultConfigName)
	}

	var (
		botToken    string
		chatID      string
		baseURL     string
		apiKey      string
		model       string
		useKeyring  = true
		stepConfirm bool
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("From @BotFather. Leave empty to configure later.").
				EchoMode(huh.EchoModePassword).
				Value(&botToken),
			huh.NewInput().
				Title("Your Telegram chat ID").
				Description("Only this chat may control the machine. Get it from @userinfobot.").
				Validate(validateChatID).
				Value(&chatID),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Reasoning service base URL").
				Placeholder("https://api.openai.com/v1").
				Value(&baseURL),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
			huh.NewInput().
				Title("Model").
				Placeholder("gpt-4o").
				Value(&model),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Store secrets in the OS keyring?").
				Description("Otherwise they are written to the config file (0600).").
				Value(&useKeyring),
			huh.NewConfirm().
				Title("Require one tool action per turn (step confirm)?").
				Value(&stepConfirm),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup aborted: %w", err)
	}

	cfg := config.DefaultConfig()
	if baseURL != "" {
		cfg.API.BaseURL = baseURL
	}
	if model != "" {
		cfg.API.Model = model
	}
	cfg.Policy.StepConfirm = stepConfirm
	if chatID != "" {
		id, _ := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
		cfg.Telegram.AllowedChats = []int64{id}
	}

	if useKeyring {
		if apiKey != "" {
			if err := config.SetSecret(config.SecretAPIKey, apiKey); err != nil {
				return fmt.Errorf("storing API key in keyring: %w", err)
			}
		}
		if botToken != "" {
			if err := config.SetSecret(config.SecretTelegramToken, botToken); err != nil {
				return fmt.Errorf("storing bot token in keyring: %w", err)
			}
		}
	} else {
		cfg.API.APIKey = apiKey
		cfg.Telegram.Token = botToken
	}

	path := resolveConfigPath(cmd)
	if err := config.Save(cfg, path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "Start the daemon with: telepilot serve")
	return nil
}

func validateChatID(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return fmt.Errorf("chat ID must be numeric")
	}
	return nil
}
