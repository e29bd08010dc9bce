package providers

import (
	"encoding/json"
	"fmt"

	"github.com/dudufisio/fisioflow/internal/logging"
)

// Storage is the key-value port settings are persisted through.
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// Resolver is the single source of truth for "is provider X enabled" and
// "which provider is the default". It holds no settings in memory: every
// call re-reads the blob from storage, and every save replaces it whole.
type Resolver struct {
	store   Storage
	catalog *Catalog
	log     *logging.Logger
}

// NewResolver creates a resolver over the given storage and catalog.
func NewResolver(store Storage, catalog *Catalog, log *logging.Logger) *Resolver {
	return &Resolver{
		store:   store,
		catalog: catalog,
		log:     log.Sub("providers"),
	}
}

// Catalog returns the static provider table.
func (r *Resolver) Catalog() *Catalog { return r.catalog }

// Load returns the persisted settings verbatim, or settings synthesized from
// the catalog when nothing usable is stored. It never fails.
func (r *Resolver) Load() Settings {
	raw, ok, err := r.store.Get(SettingsKey)
	if err != nil {
		r.log.Error().Err(err).Str("key", SettingsKey).Msg("reading provider settings failed, using defaults")
		return DefaultSettings(r.catalog)
	}
	if !ok {
		return DefaultSettings(r.catalog)
	}

	var s *Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		r.log.Warn().Err(err).Str("key", SettingsKey).Msg("provider settings are corrupt, using defaults")
		return DefaultSettings(r.catalog)
	}
	if s == nil {
		return DefaultSettings(r.catalog)
	}
	if s.Providers == nil {
		s.Providers = map[Key]Override{}
	}
	return *s
}

// Save overwrites the persisted settings. A nil Providers map is stored as
// an empty one, so Load returns an empty map for either. Failures are logged
// and returned; callers that treat settings as best effort may ignore the
// error.
func (r *Resolver) Save(s Settings) error {
	if s.Providers == nil {
		s.Providers = map[Key]Override{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		r.log.Error().Err(err).Msg("encoding provider settings failed")
		return fmt.Errorf("encoding provider settings: %w", err)
	}
	if err := r.store.Set(SettingsKey, string(data)); err != nil {
		r.log.Error().Err(err).Str("key", SettingsKey).Msg("writing provider settings failed")
		return fmt.Errorf("writing provider settings: %w", err)
	}
	r.log.Debug().Str("default", string(s.DefaultProvider)).Int("overrides", len(s.Providers)).Msg("provider settings saved")
	return nil
}

// MergedConfigs returns the effective configuration of every catalog
// provider. Overrides for keys the catalog does not define are ignored.
func (r *Resolver) MergedConfigs() EffectiveConfigs {
	return merge(r.catalog, r.Load())
}

func merge(c *Catalog, s Settings) EffectiveConfigs {
	out := EffectiveConfigs{
		order: make([]Key, 0, c.Len()),
		byKey: make(map[Key]Config, c.Len()),
	}
	for _, e := range c.entries {
		e = e.clone()
		if o, ok := s.Providers[e.Key]; ok {
			e.Enabled = o.Enabled
		}
		out.order = append(out.order, e.Key)
		out.byKey[e.Key] = e
	}
	return out
}

// SetEnabled persists an override for one provider.
func (r *Resolver) SetEnabled(key Key, enabled bool) (Settings, error) {
	if !r.catalog.Has(key) {
		return Settings{}, fmt.Errorf("%w: %q", ErrUnknownProvider, key)
	}
	s := r.Load().Clone()
	if s.Providers == nil {
		s.Providers = map[Key]Override{}
	}
	s.Providers[key] = Override{Enabled: enabled}
	if err := r.Save(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// SetDefault persists the default provider. Only catalog keys are accepted.
func (r *Resolver) SetDefault(key Key) (Settings, error) {
	if !r.catalog.Has(key) {
		return Settings{}, fmt.Errorf("%w: %q", ErrUnknownProvider, key)
	}
	s := r.Load().Clone()
	s.DefaultProvider = key
	if err := r.Save(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Reset removes the persisted settings so the next Load synthesizes defaults.
func (r *Resolver) Reset() error {
	if err := r.store.Delete(SettingsKey); err != nil {
		r.log.Error().Err(err).Str("key", SettingsKey).Msg("resetting provider settings failed")
		return fmt.Errorf("resetting provider settings: %w", err)
	}
	r.log.Info().Msg("provider settings reset to defaults")
	return nil
}

// DefaultProvider returns the persisted default. A key the catalog no longer
// defines is returned together with ErrDefaultDrift.
func (r *Resolver) DefaultProvider() (Key, error) {
	key := r.Load().DefaultProvider
	if key == "" {
		return r.catalog.Fallback(), nil
	}
	if !r.catalog.Has(key) {
		return key, fmt.Errorf("%w: %q", ErrDefaultDrift, key)
	}
	return key, nil
}

// Select picks the provider for a call. The requested provider (key or
// model alias) wins when enabled, then the default provider, then the first
// enabled provider in catalog order.
func (r *Resolver) Select(requested string) (Config, error) {
	s := r.Load()
	merged := merge(r.catalog, s)

	if requested != "" {
		if key, ok := r.catalog.Lookup(requested); ok {
			if c, _ := merged.Get(key); c.Enabled {
				return c, nil
			}
			r.log.Debug().Str("requested", requested).Msg("requested provider disabled, falling back")
		} else {
			r.log.Debug().Str("requested", requested).Msg("requested provider unknown, falling back")
		}
	}

	def := s.DefaultProvider
	if def == "" {
		def = r.catalog.Fallback()
	}
	if c, ok := merged.Get(def); ok {
		if c.Enabled {
			return c, nil
		}
	} else {
		r.log.Warn().Str("default", string(def)).Msg("default provider not in catalog, using first enabled provider")
	}

	if enabled := merged.Enabled(); len(enabled) > 0 {
		return enabled[0], nil
	}
	return Config{}, ErrNoProviderEnabled
}
