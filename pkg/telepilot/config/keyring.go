// keyring.go stores secrets in the OS keyring so tokens stay out of config
// files.
package config

import "github.com/zalando/go-keyring"

// keyringService namespaces telepilot's keyring entries.
const keyringService = "telepilot"

// Known secret names.
const (
	SecretAPIKey        = "api_key"
	SecretTelegramToken = "telegram_token"
)

// SetSecret stores a secret in the OS keyring.
func SetSecret(name, value string) error {
	return keyring.Set(keyringService, name, value)
}

// GetSecret reads a secret from the OS keyring.
func GetSecret(name string) (string, error) {
	return keyring.Get(keyringService, name)
}

// DeleteSecret removes a secret from the OS keyring.
func DeleteSecret(name string) error {
	return keyring.Delete(keyringService, name)
}
