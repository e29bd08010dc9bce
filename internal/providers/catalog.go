// Package providers resolves which AI text-generation vendors are enabled.
//
// A Catalog is the static, code- or config-defined table of provider
// configurations. A Resolver merges that table with user overrides persisted
// as a single JSON blob in a key-value Storage, producing the effective
// configuration per provider and the selected default provider.
package providers

import (
	"fmt"
	"slices"
	"strings"
)

// Key identifies a vendor/model configuration, e.g. "xai".
type Key string

// Wire protocols a provider can speak.
const (
	APIOpenAICompatible = "openai-compatible"
	APIAnthropic        = "anthropic"
)

// Capabilities flags what a provider's model supports.
type Capabilities struct {
	Text      bool `json:"text" yaml:"text"`
	Streaming bool `json:"streaming" yaml:"streaming"`
	Vision    bool `json:"vision" yaml:"vision"`
	Tools     bool `json:"tools" yaml:"tools"`
}

// Config is the static definition of one provider. Enabled is the built-in
// default; user overrides replace it in the effective configuration.
type Config struct {
	Key             Key          `json:"key" yaml:"key"`
	Name            string       `json:"name" yaml:"name"`
	API             string       `json:"api" yaml:"api"`
	BaseURL         string       `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Model           string       `json:"model" yaml:"model"`
	APIKey          string       `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Enabled         bool         `json:"enabled" yaml:"enabled"`
	Capabilities    Capabilities `json:"capabilities" yaml:"capabilities"`
	MaxTokens       int          `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	Temperature     *float64     `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	CostPer1KInput  float64      `json:"costPer1kInput,omitempty" yaml:"costPer1kInput,omitempty"`
	CostPer1KOutput float64      `json:"costPer1kOutput,omitempty" yaml:"costPer1kOutput,omitempty"`
	Aliases         []string     `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// Redacted returns a copy safe to hand to UI clients.
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = "***"
	}
	return c
}

// clone returns a copy that shares no slices or pointers with c.
func (c Config) clone() Config {
	c.Aliases = slices.Clone(c.Aliases)
	if c.Temperature != nil {
		t := *c.Temperature
		c.Temperature = &t
	}
	return c
}

// Catalog is an ordered, immutable table of provider configurations plus
// the fallback default provider.
type Catalog struct {
	entries  []Config
	index    map[Key]int
	aliases  map[string]Key
	fallback Key
}

// NewCatalog builds a catalog from entries in definition order. The
// fallback must name one of the entries.
func NewCatalog(fallback Key, entries ...Config) (*Catalog, error) {
	c := &Catalog{
		entries:  make([]Config, 0, len(entries)),
		index:    make(map[Key]int, len(entries)),
		aliases:  make(map[string]Key),
		fallback: fallback,
	}
	for _, e := range entries {
		if e.Key == "" {
			return nil, fmt.Errorf("provider entry %q has no key", e.Name)
		}
		if _, dup := c.index[e.Key]; dup {
			return nil, fmt.Errorf("duplicate provider key %q", e.Key)
		}
		e = e.clone()
		c.index[e.Key] = len(c.entries)
		c.entries = append(c.entries, e)
		for _, a := range e.Aliases {
			c.aliases[strings.ToLower(a)] = e.Key
		}
	}
	if _, ok := c.index[fallback]; !ok {
		return nil, fmt.Errorf("%w: fallback default %q", ErrUnknownProvider, fallback)
	}
	return c, nil
}

// MustCatalog is NewCatalog for package-level tables known to be valid.
func MustCatalog(fallback Key, entries ...Config) *Catalog {
	c, err := NewCatalog(fallback, entries...)
	if err != nil {
		panic(err)
	}
	return c
}

// Fallback returns the default provider used when nothing is persisted.
func (c *Catalog) Fallback() Key { return c.fallback }

// Keys returns provider keys in definition order.
func (c *Catalog) Keys() []Key {
	keys := make([]Key, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of all configurations in definition order.
func (c *Catalog) Entries() []Config {
	out := make([]Config, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.clone()
	}
	return out
}

// Get returns the static configuration for key.
func (c *Catalog) Get(key Key) (Config, bool) {
	i, ok := c.index[key]
	if !ok {
		return Config{}, false
	}
	return c.entries[i].clone(), true
}

// Has reports whether key is defined.
func (c *Catalog) Has(key Key) bool {
	_, ok := c.index[key]
	return ok
}

// Lookup resolves a provider key or a model alias (case-insensitive).
func (c *Catalog) Lookup(name string) (Key, bool) {
	if c.Has(Key(name)) {
		return Key(name), true
	}
	k, ok := c.aliases[strings.ToLower(name)]
	return k, ok
}

// Len returns the number of providers.
func (c *Catalog) Len() int { return len(c.entries) }

// DefaultKey is the fallback default of the built-in catalog.
const DefaultKey Key = "xai"

// Builtin returns the provider table shipped with the service. xAI is the
// only provider enabled out of the box.
func Builtin() []Config {
	return []Config{
		{
			Key:             "xai",
			Name:            "xAI Grok",
			API:             APIOpenAICompatible,
			BaseURL:         "https://api.x.ai/v1",
			Model:           "grok-3-mini",
			APIKey:          "${XAI_API_KEY}",
			Enabled:         true,
			Capabilities:    Capabilities{Text: true, Streaming: true, Tools: true},
			MaxTokens:       2048,
			CostPer1KInput:  0.0003,
			CostPer1KOutput: 0.0005,
			Aliases:         []string{"grok", "grok-3-mini"},
		},
		{
			Key:             "openai",
			Name:            "OpenAI",
			API:             APIOpenAICompatible,
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-4o-mini",
			APIKey:          "${OPENAI_API_KEY}",
			Capabilities:    Capabilities{Text: true, Streaming: true, Vision: true, Tools: true},
			MaxTokens:       2048,
			CostPer1KInput:  0.00015,
			CostPer1KOutput: 0.0006,
			Aliases:         []string{"gpt", "gpt-4o-mini"},
		},
		{
			Key:             "deepseek",
			Name:            "DeepSeek",
			API:             APIOpenAICompatible,
			BaseURL:         "https://api.deepseek.com/v1",
			Model:           "deepseek-chat",
			APIKey:          "${DEEPSEEK_API_KEY}",
			Capabilities:    Capabilities{Text: true, Streaming: true, Tools: true},
			MaxTokens:       2048,
			CostPer1KInput:  0.00027,
			CostPer1KOutput: 0.0011,
		},
		{
			Key:             "anthropic",
			Name:            "Anthropic Claude",
			API:             APIAnthropic,
			BaseURL:         "https://api.anthropic.com/v1",
			Model:           "claude-3-5-haiku-latest",
			APIKey:          "${ANTHROPIC_API_KEY}",
			Capabilities:    Capabilities{Text: true, Streaming: true, Vision: true, Tools: true},
			MaxTokens:       2048,
			CostPer1KInput:  0.0008,
			CostPer1KOutput: 0.004,
			Aliases:         []string{"claude", "haiku"},
		},
		{
			Key:          "ollama",
			Name:         "Ollama (local)",
			API:          APIOpenAICompatible,
			BaseURL:      "http://localhost:11434/v1",
			Model:        "llama3.2",
			Capabilities: Capabilities{Text: true, Streaming: true},
			MaxTokens:    2048,
			Aliases:      []string{"llama", "llama3"},
		},
	}
}
