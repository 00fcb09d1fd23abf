// Package config – keyring.go resolves secrets through the OS keyring
// (Secret Service / Keychain / Credential Manager) with environment
// variable and plaintext-config fallbacks.
//
// Resolution priority:
//  1. OS keyring (encrypted by the OS)
//  2. Environment variable (MIMIC_API_KEY, MIMIC_DISCORD_TOKEN)
//  3. config.yaml value (least secure — plaintext on disk)
package config

import (
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "mimic"

	// KeyAPIKey is the keyring entry for the completion backend key.
	KeyAPIKey = "api_key"

	// KeyDiscordToken is the keyring entry for the Discord bot token.
	KeyDiscordToken = "discord_token"
)

// StoreSecret saves a secret to the OS keyring.
func StoreSecret(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetSecret retrieves a secret from the OS keyring, empty when absent.
func GetSecret(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteSecret removes a secret from the OS keyring.
func DeleteSecret(key string) error {
	return keyring.Delete(keyringService, key)
}

// ResolveSecrets fills the config's secret fields from the keyring chain.
// Values already present in the config are kept only when no higher
// priority source provides one.
func ResolveSecrets(cfg *Config) {
	if v := resolve(KeyAPIKey, "MIMIC_API_KEY"); v != "" {
		cfg.API.Key = v
	}
	if v := resolve(KeyDiscordToken, "MIMIC_DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
}

func resolve(keyringKey, envVar string) string {
	if v := GetSecret(keyringKey); v != "" {
		return v
	}
	return os.Getenv(envVar)
}
