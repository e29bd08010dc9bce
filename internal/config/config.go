package config

import (
	"fmt"

	"github.com/dudufisio/fisioflow/internal/providers"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		AI: AIConfig{
			Mode:            "merge",
			DefaultProvider: string(providers.DefaultKey),
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
			Auth: GatewayAuth{
				Mode: "token",
			},
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}

// Catalog builds the static provider table. In "merge" mode configured
// entries replace built-in entries with the same key in place and new keys
// are appended; "replace" uses the configured entries only. ${VAR}
// references in API keys and base URLs are expanded.
func Catalog(cfg Config) (*providers.Catalog, error) {
	cat, err := providers.NewCatalog(fallbackKey(cfg), catalogEntries(cfg)...)
	if err != nil {
		return nil, &ConfigError{Message: "invalid provider table: " + err.Error()}
	}
	return cat, nil
}

func fallbackKey(cfg Config) providers.Key {
	if cfg.AI.DefaultProvider == "" {
		return providers.DefaultKey
	}
	return providers.Key(cfg.AI.DefaultProvider)
}

func catalogEntries(cfg Config) []providers.Config {
	var entries []providers.Config
	if cfg.AI.Mode != "replace" {
		entries = providers.Builtin()
	}

	for _, p := range cfg.AI.Providers {
		replaced := false
		for i := range entries {
			if entries[i].Key == p.Key {
				entries[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			entries = append(entries, p)
		}
	}

	for i := range entries {
		entries[i].APIKey = expandEnvVars(entries[i].APIKey)
		entries[i].BaseURL = expandEnvVars(entries[i].BaseURL)
		if entries[i].API == "" {
			entries[i].API = providers.APIOpenAICompatible
		}
	}

	return entries
}
