package config

import (
	"testing"

	"github.com/dudufisio/fisioflow/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuePaths(issues []ValidationIssue) []string {
	var out []string
	for _, i := range issues {
		out = append(out, i.Path)
	}
	return out
}

func TestValidate_ValidDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"ai mode", func(c *Config) { c.AI.Mode = "append" }, "ai.mode"},
		{"default provider", func(c *Config) { c.AI.DefaultProvider = "gemini" }, "ai.defaultProvider"},
		{"storage driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"negative port", func(c *Config) { c.Gateway.Port = -1 }, "gateway.port"},
		{"port too high", func(c *Config) { c.Gateway.Port = 70000 }, "gateway.port"},
		{"bind", func(c *Config) { c.Gateway.Bind = "everywhere" }, "gateway.bind"},
		{"auth mode", func(c *Config) { c.Gateway.Auth.Mode = "oauth" }, "gateway.auth.mode"},
		{"tls without cert", func(c *Config) { c.Gateway.TLS.Enabled = true }, "gateway.tls"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"console style", func(c *Config) { c.Logging.ConsoleStyle = "compact" }, "logging.consoleStyle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			issues := Validate(&cfg)
			require.Len(t, issues, 1, issues)
			assert.Equal(t, tt.path, issues[0].Path)
		})
	}
}

func TestValidate_ProviderEntries(t *testing.T) {
	cfg := Defaults()
	cfg.AI.Providers = []providers.Config{
		{Name: "no key", Model: "m"},
		{Key: "groq", Model: "llama", API: "grpc"},
		{Key: "groq", Model: "llama"},
		{Key: "local", MaxTokens: -5},
	}

	assert.ElementsMatch(t, []string{
		"ai.providers[0].key",
		"ai.providers[1].api",
		"ai.providers[2].key",
		"ai.providers[3].model",
		"ai.providers[3].maxTokens",
	}, issuePaths(Validate(&cfg)))
}

func TestValidate_ReplaceModeDefaultMustExist(t *testing.T) {
	cfg := Defaults()
	cfg.AI.Mode = "replace"
	cfg.AI.Providers = []providers.Config{{Key: "local", Model: "llama3.2"}}

	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "ai.defaultProvider", issues[0].Path, "xai fallback is gone in replace mode")

	cfg.AI.DefaultProvider = "local"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_ValidLogLevels(t *testing.T) {
	for _, level := range []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"} {
		cfg := Defaults()
		cfg.Logging.Level = level
		assert.Empty(t, Validate(&cfg), level)
	}
}

func TestValidate_MultipleIssues(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = -1
	cfg.Gateway.Bind = "bad"
	cfg.Logging.Level = "bad"

	assert.Len(t, Validate(&cfg), 3)
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "gateway.port", Message: "out of range"}
	assert.Equal(t, "gateway.port: out of range", issue.String())
}
