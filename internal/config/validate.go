package config

import (
	"fmt"
	"slices"

	"github.com/dudufisio/fisioflow/internal/logging"
	"github.com/dudufisio/fisioflow/internal/providers"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// AI provider table
	validModes := []string{"merge", "replace"}
	if cfg.AI.Mode != "" && !slices.Contains(validModes, cfg.AI.Mode) {
		issues = append(issues, ValidationIssue{
			Path:    "ai.mode",
			Message: fmt.Sprintf("must be one of %v, got %q", validModes, cfg.AI.Mode),
		})
	}

	validAPIs := []string{"", providers.APIOpenAICompatible, providers.APIAnthropic}
	seen := map[providers.Key]bool{}
	for i, p := range cfg.AI.Providers {
		path := fmt.Sprintf("ai.providers[%d]", i)
		if p.Key == "" {
			issues = append(issues, ValidationIssue{Path: path + ".key", Message: "key is required"})
			continue
		}
		if seen[p.Key] {
			issues = append(issues, ValidationIssue{
				Path:    path + ".key",
				Message: fmt.Sprintf("duplicate provider key %q", p.Key),
			})
		}
		seen[p.Key] = true
		if !slices.Contains(validAPIs, p.API) {
			issues = append(issues, ValidationIssue{
				Path:    path + ".api",
				Message: fmt.Sprintf("must be one of %v, got %q", validAPIs[1:], p.API),
			})
		}
		if p.Model == "" {
			issues = append(issues, ValidationIssue{Path: path + ".model", Message: "model is required"})
		}
		if p.MaxTokens < 0 {
			issues = append(issues, ValidationIssue{
				Path:    path + ".maxTokens",
				Message: fmt.Sprintf("must not be negative, got %d", p.MaxTokens),
			})
		}
	}

	if len(issues) == 0 {
		def := fallbackKey(*cfg)
		if !slices.ContainsFunc(catalogEntries(*cfg), func(p providers.Config) bool { return p.Key == def }) {
			issues = append(issues, ValidationIssue{
				Path:    "ai.defaultProvider",
				Message: fmt.Sprintf("%q is not a configured provider", def),
			})
		}
	}

	// Storage
	validDrivers := []string{"sqlite", "memory"}
	if cfg.Storage.Driver != "" && !slices.Contains(validDrivers, cfg.Storage.Driver) {
		issues = append(issues, ValidationIssue{
			Path:    "storage.driver",
			Message: fmt.Sprintf("must be one of %v, got %q", validDrivers, cfg.Storage.Driver),
		})
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}

	validAuthModes := []string{"token", "password"}
	if cfg.Gateway.Auth.Mode != "" && !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.auth.mode",
			Message: fmt.Sprintf("must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode),
		})
	}

	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.tls",
			Message: "certPath and keyPath are required when TLS is enabled",
		})
	}

	// Logging
	if cfg.Logging.Level != "" && !logging.ValidLevel(cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("unknown level %q", cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	return issues
}
