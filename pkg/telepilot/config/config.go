// Package config defines telepilot's configuration and its loader.
package config

import (
	"github.com/telepilotdev/telepilot/pkg/telepilot/browser"
	"github.com/telepilotdev/telepilot/pkg/telepilot/channels/telegram"
	"github.com/telepilotdev/telepilot/pkg/telepilot/deps"
	"github.com/telepilotdev/telepilot/pkg/telepilot/dispatch"
	"github.com/telepilotdev/telepilot/pkg/telepilot/media"
	"github.com/telepilotdev/telepilot/pkg/telepilot/operator"
)

// Config is the full telepilot configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// SystemPrompt is prepended to every reasoning-service request.
	SystemPrompt string `yaml:"system_prompt"`

	Policy    PolicyConfig       `yaml:"policy"`
	Sessions  SessionsConfig     `yaml:"sessions"`
	API       operator.LLMConfig `yaml:"api"`
	Telegram  telegram.Config    `yaml:"telegram"`
	Dispatch  dispatch.Config    `yaml:"dispatch"`
	Browser   browser.Config     `yaml:"browser"`
	Media     media.Config       `yaml:"media"`
	Deps      deps.Config        `yaml:"deps"`
	Scheduler SchedulerConfig    `yaml:"scheduler"`
}

// PolicyConfig mirrors the orchestrator policy.
type PolicyConfig struct {
	// StepConfirm limits execution to one real tool call per reasoning turn.
	StepConfirm bool `yaml:"step_confirm"`

	// StopAfterBrowse ends a run after the first successful browse.
	StopAfterBrowse bool `yaml:"stop_after_browse"`

	// MaxIterations bounds tool-execution rounds per run (0 = default).
	MaxIterations int `yaml:"max_iterations"`
}

// SessionsConfig controls conversation history storage.
type SessionsConfig struct {
	// MaxMessages bounds per-conversation history (0 = default).
	MaxMessages int `yaml:"max_messages"`

	// DBPath enables SQLite persistence when set.
	DBPath string `yaml:"db_path"`
}

// SchedulerConfig controls recurring prompts.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`

	// DBPath is the SQLite file holding scheduled prompts.
	DBPath string `yaml:"db_path"`
}

// DefaultConfig returns the configuration defaults; file values overlay these.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		SystemPrompt: "You are telepilot, an assistant that operates this machine for a remote operator over chat. " +
			"Use the available tools to run commands, capture the screen or camera, and browse the web. " +
			"Be concise and report what you actually did.",
		Policy: PolicyConfig{
			MaxIterations: operator.DefaultMaxIterations,
		},
		Sessions: SessionsConfig{
			MaxMessages: operator.DefaultMaxSessionMessages,
		},
		API: operator.LLMConfig{
			Model: "gpt-4o",
		},
		Telegram: telegram.DefaultConfig(),
	}
}

// ToPolicy converts the config section into an orchestrator policy.
func (p PolicyConfig) ToPolicy() operator.Policy {
	return operator.Policy{
		StepConfirm:     p.StepConfirm,
		StopAfterBrowse: p.StopAfterBrowse,
		MaxIterations:   p.MaxIterations,
	}
}
