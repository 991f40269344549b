// loader.go loads configuration: .env file, environment expansion, YAML over
// defaults, and secret resolution from the OS keyring.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarRe matches ${VAR} and ${VAR:-default} references in config text.
var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// LoadFromFile reads the config file, expanding ${VAR} references from the
// environment (after loading a local .env, when present) and overlaying the
// parsed values onto the defaults.
func LoadFromFile(path string) (*Config, error) {
	// Best effort; a missing .env is normal.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := Parse(expandEnv(string(data)))
	if err != nil {
		return nil, err
	}
	resolveSecrets(cfg)
	return cfg, nil
}

// Parse unmarshals YAML config text onto the defaults.
func Parse(text string) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(text), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// expandEnv substitutes ${VAR} and ${VAR:-default} with environment values.
// An unset variable without a default expands to the empty string.
func expandEnv(text string) string {
	return envVarRe.ReplaceAllStringFunc(text, func(match string) string {
		groups := envVarRe.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(groups[1]); ok {
			return v
		}
		return groups[2]
	})
}

// resolveSecrets fills empty secrets from the OS keyring.
func resolveSecrets(cfg *Config) {
	if cfg.API.APIKey == "" {
		if v, err := GetSecret(SecretAPIKey); err == nil && v != "" {
			cfg.API.APIKey = v
		}
	}
	if cfg.Telegram.Token == "" {
		if v, err := GetSecret(SecretTelegramToken); err == nil && v != "" {
			cfg.Telegram.Token = v
		}
	}
}

// Save writes the config as YAML, readable only by the owner since it may
// hold tokens.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Redacted returns a YAML rendering with secrets masked, for display.
func Redacted(cfg *Config) (string, error) {
	clone := *cfg
	clone.API.APIKey = mask(clone.API.APIKey)
	clone.Telegram.Token = mask(clone.Telegram.Token)
	data, err := yaml.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return string(data), nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "********"
	}
	return secret[:4] + strings.Repeat("*", 8) + secret[len(secret)-4:]
}
