// Package config – loader.go reads YAML configuration with .env loading and
// environment variable expansion before parsing.
package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and bare $VAR references
// inside config values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadFile reads and parses a YAML configuration file. .env files next to
// the working directory are loaded first, ${VAR} references are expanded,
// then secrets are resolved through the keyring chain.
func LoadFile(path string) (*Config, error) {
	// Ignore a missing .env; it's optional.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse([]byte(expandEnvVars(string(data))))
	if err != nil {
		return nil, err
	}

	ResolveSecrets(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses YAML bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// expandEnvVars substitutes environment variable references in the raw
// YAML text. Unset variables without a default expand to the empty string.
func expandEnvVars(raw string) string {
	return envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)

		name := groups[1]
		if name == "" {
			name = groups[3] // bare $VAR form
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return groups[2] // default (may be empty)
	})
}
