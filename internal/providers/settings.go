package providers

import (
	"errors"
	"maps"
)

// SettingsKey is the storage key the resolver owns.
const SettingsKey = "economic-ai.settings"

var (
	// ErrUnknownProvider is returned for keys absent from the catalog.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrDefaultDrift means the persisted default names a provider the
	// catalog no longer defines.
	ErrDefaultDrift = errors.New("default provider not in catalog")
	// ErrNoProviderEnabled means every provider is disabled.
	ErrNoProviderEnabled = errors.New("no provider enabled")
)

// Override is a user preference for one provider.
type Override struct {
	Enabled bool `json:"enabled"`
}

// Settings is the persisted override set. Providers need not cover every
// catalog key.
type Settings struct {
	Providers       map[Key]Override `json:"providers"`
	DefaultProvider Key              `json:"defaultProvider"`
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	return Settings{
		Providers:       maps.Clone(s.Providers),
		DefaultProvider: s.DefaultProvider,
	}
}

// DefaultSettings synthesizes settings from the catalog's built-in flags.
func DefaultSettings(c *Catalog) Settings {
	s := Settings{
		Providers:       make(map[Key]Override, c.Len()),
		DefaultProvider: c.Fallback(),
	}
	for _, e := range c.entries {
		s.Providers[e.Key] = Override{Enabled: e.Enabled}
	}
	return s
}

// EffectiveConfigs maps provider keys to their merged configuration while
// preserving catalog order.
type EffectiveConfigs struct {
	order []Key
	byKey map[Key]Config
}

// Keys returns the provider keys in catalog order.
func (e EffectiveConfigs) Keys() []Key {
	out := make([]Key, len(e.order))
	copy(out, e.order)
	return out
}

// Get returns the effective configuration for key.
func (e EffectiveConfigs) Get(key Key) (Config, bool) {
	c, ok := e.byKey[key]
	return c, ok
}

// Len returns the number of providers.
func (e EffectiveConfigs) Len() int { return len(e.order) }

// All returns every effective configuration in catalog order.
func (e EffectiveConfigs) All() []Config {
	out := make([]Config, 0, len(e.order))
	for _, k := range e.order {
		out = append(out, e.byKey[k])
	}
	return out
}

// Enabled returns the enabled configurations in catalog order.
func (e EffectiveConfigs) Enabled() []Config {
	var out []Config
	for _, k := range e.order {
		if c := e.byKey[k]; c.Enabled {
			out = append(out, c)
		}
	}
	return out
}
