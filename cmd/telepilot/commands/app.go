// app.go holds the shared assembly code: config resolution, logger setup,
// and wiring the tool stack behind the orchestrator.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/telepilotdev/telepilot/pkg/telepilot/browser"
	"github.com/telepilotdev/telepilot/pkg/telepilot/config"
	"github.com/telepilotdev/telepilot/pkg/telepilot/deps"
	"github.com/telepilotdev/telepilot/pkg/telepilot/dispatch"
	"github.com/telepilotdev/telepilot/pkg/telepilot/media"
	"github.com/telepilotdev/telepilot/pkg/telepilot/operator"
)

// defaultConfigName is looked up in the working directory and the user's
// config directory when no explicit path is given.
const defaultConfigName = "telepilot.yaml"

// resolveConfigPath returns the config file location, preferring the
// --config flag, then the working directory, then ~/.config/telepilot/.
func resolveConfigPath(cmd *cobra.Command) string {
	if path, _ := cmd.Root().PersistentFlags().GetString("config"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName
	}
	if dir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(dir, "telepilot", defaultConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return defaultConfigName
}

// loadConfig loads the resolved config file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := resolveConfigPath(cmd)
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("no usable configuration at %s (run `telepilot setup` first): %w", path, err)
	}
	return cfg, nil
}

// buildLogger builds the process logger from config and the --verbose flag.
func buildLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := slog.LevelInfo
	switch {
	case verbose, cfg.LogLevel == "debug":
		level = slog.LevelDebug
	case cfg.LogLevel == "warn":
		level = slog.LevelWarn
	case cfg.LogLevel == "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// buildOrchestrator assembles the tool stack and session store behind an
// orchestrator. The returned LLM client doubles as the vision/transcription
// enricher.
func buildOrchestrator(cfg *config.Config, logger *slog.Logger) (*operator.Orchestrator, *operator.MemoryStore, *operator.LLMClient, error) {
	llm := operator.NewLLMClient(cfg.API, logger)

	repairer := deps.NewRepairer(cfg.Deps, logger)
	registry := operator.NewRegistry(
		dispatch.New(cfg.Dispatch, logger),
		media.NewCapturer(cfg.Media, logger),
		browser.NewBridge(cfg.Browser, repairer, logger),
		repairer,
		logger,
	)

	var persister operator.SessionPersister
	if cfg.Sessions.DBPath != "" {
		p, err := operator.NewSQLitePersister(cfg.Sessions.DBPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening session database: %w", err)
		}
		persister = p
	}
	store := operator.NewMemoryStore(cfg.Sessions.MaxMessages, persister, logger)

	orch := operator.NewOrchestrator(llm, registry, store, cfg.SystemPrompt, logger)
	return orch, store, llm, nil
}
