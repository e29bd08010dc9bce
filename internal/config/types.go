package config

import "github.com/dudufisio/fisioflow/internal/providers"

// Config is the root configuration for the FisioFlow AI settings service.
type Config struct {
	AI      AIConfig      `yaml:"ai,omitempty"`
	Storage StorageConfig `yaml:"storage,omitempty"`
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// AIConfig defines the static provider table.
type AIConfig struct {
	Mode            string             `yaml:"mode,omitempty"` // "merge" | "replace"
	DefaultProvider string             `yaml:"defaultProvider,omitempty"`
	Providers       []providers.Config `yaml:"providers,omitempty"`
}

// StorageConfig selects where user overrides are persisted.
type StorageConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`   // sqlite file; defaults to <data>/settings.db
}

// GatewayConfig controls the HTTP/WebSocket server used by settings screens.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}
