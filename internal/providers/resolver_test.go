package providers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dudufisio/fisioflow/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStorage is an in-memory Storage with injectable failures.
type fakeStorage struct {
	data      map[string]string
	getErr    error
	setErr    error
	deleteErr error
	sets      int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{data: map[string]string{}}
}

func (f *fakeStorage) Get(key string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeStorage) Set(key, value string) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.sets++
	f.data[key] = value
	return nil
}

func (f *fakeStorage) Delete(key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.data, key)
	return nil
}

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func abCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog("A",
		Config{Key: "A", Name: "Alpha", Enabled: true},
		Config{Key: "B", Name: "Beta", Enabled: false},
	)
	require.NoError(t, err)
	return c
}

func newTestResolver(t *testing.T, c *Catalog) (*Resolver, *fakeStorage) {
	t.Helper()
	fs := newFakeStorage()
	return NewResolver(fs, c, silentLog()), fs
}

// --- Load ---

func TestLoad_EmptyStorageSynthesizesDefaults(t *testing.T) {
	r, _ := newTestResolver(t, abCatalog(t))

	s := r.Load()
	assert.Equal(t, Key("A"), s.DefaultProvider)
	assert.Equal(t, map[Key]Override{
		"A": {Enabled: true},
		"B": {Enabled: false},
	}, s.Providers)
}

func TestLoad_BuiltinCatalogDefaults(t *testing.T) {
	c := MustCatalog(DefaultKey, Builtin()...)
	r, _ := newTestResolver(t, c)

	s := r.Load()
	assert.Equal(t, DefaultKey, s.DefaultProvider)
	require.Len(t, s.Providers, c.Len())
	for _, e := range c.Entries() {
		assert.Equal(t, e.Enabled, s.Providers[e.Key].Enabled, e.Key)
	}
}

func TestLoad_CorruptBlobFallsBackToDefaults(t *testing.T) {
	c := abCatalog(t)
	r, fs := newTestResolver(t, c)

	for _, blob := range []string{"not json", "{", `{"providers": 42}`, `[]`, ""} {
		t.Run(blob, func(t *testing.T) {
			fs.data[SettingsKey] = blob
			assert.Equal(t, DefaultSettings(c), r.Load())
		})
	}
}

func TestLoad_NullBlobFallsBackToDefaults(t *testing.T) {
	c := abCatalog(t)
	r, fs := newTestResolver(t, c)
	fs.data[SettingsKey] = "null"

	assert.Equal(t, DefaultSettings(c), r.Load())
}

func TestLoad_StorageErrorFallsBackToDefaults(t *testing.T) {
	c := abCatalog(t)
	r, fs := newTestResolver(t, c)
	fs.getErr = errors.New("disk on fire")

	assert.Equal(t, DefaultSettings(c), r.Load())
}

func TestLoad_ReturnsStaleKeysVerbatim(t *testing.T) {
	r, fs := newTestResolver(t, abCatalog(t))
	fs.data[SettingsKey] = `{"providers":{"Z":{"enabled":true}},"defaultProvider":"Z"}`

	s := r.Load()
	assert.Equal(t, Key("Z"), s.DefaultProvider)
	assert.Equal(t, map[Key]Override{"Z": {Enabled: true}}, s.Providers)
}

func TestLoad_MissingProvidersField(t *testing.T) {
	r, fs := newTestResolver(t, abCatalog(t))
	fs.data[SettingsKey] = `{"defaultProvider":"B"}`

	s := r.Load()
	assert.Equal(t, Key("B"), s.DefaultProvider)
	assert.NotNil(t, s.Providers)
	assert.Empty(t, s.Providers)
}

// --- Save ---

func TestSave_RoundTrip(t *testing.T) {
	r, _ := newTestResolver(t, abCatalog(t))

	want := Settings{
		Providers: map[Key]Override{
			"A": {Enabled: false},
			"B": {Enabled: true},
		},
		DefaultProvider: "B",
	}
	require.NoError(t, r.Save(want))
	assert.Equal(t, want, r.Load())
}

func TestSave_FullReplace(t *testing.T) {
	r, _ := newTestResolver(t, abCatalog(t))

	require.NoError(t, r.Save(Settings{
		Providers:       map[Key]Override{"A": {Enabled: false}, "B": {Enabled: true}},
		DefaultProvider: "B",
	}))
	require.NoError(t, r.Save(Settings{
		Providers:       map[Key]Override{"B": {Enabled: false}},
		DefaultProvider: "A",
	}))

	s := r.Load()
	assert.Equal(t, map[Key]Override{"B": {Enabled: false}}, s.Providers)
	assert.Equal(t, Key("A"), s.DefaultProvider)
}

func TestSave_WireFormat(t *testing.T) {
	r, fs := newTestResolver(t, abCatalog(t))

	require.NoError(t, r.Save(Settings{
		Providers:       map[Key]Override{"A": {Enabled: true}},
		DefaultProvider: "A",
	}))
	assert.JSONEq(t, `{"providers":{"A":{"enabled":true}},"defaultProvider":"A"}`, fs.data[SettingsKey])
}

func TestSave_StorageErrorIsReturnedNotPanicked(t *testing.T) {
	r, fs := newTestResolver(t, abCatalog(t))
	fs.setErr = errors.New("quota exceeded")

	err := r.Save(DefaultSettings(r.Catalog()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	// nothing persisted, defaults still served
	assert.Equal(t, DefaultSettings(r.Catalog()), r.Load())
}

// --- MergedConfigs ---

func TestMergedConfigs_Example(t *testing.T) {
	r, fs := newTestResolver(t, abCatalog(t))
	fs.data[SettingsKey] = `{"providers":{"B":{"enabled":true}},"defaultProvider":"A"}`

	merged := r.MergedConfigs()
	a, ok := merged.Get("A")
	require.True(t, ok)
	b, ok := merged.Get("B")
	require.True(t, ok)
	assert.True(t, a.Enabled)
	assert.True(t, b.Enabled)
}

func TestMergedConfigs_OverrideDisables(t *testing.T) {
	r, _ := newTestResolver(t, abCatalog(t))
	require.NoError(t, r.Save(Settings{
		Providers:       map[Key]Override{"A": {Enabled: false}},
		DefaultProvider: "A",
	}))

	merged := r.MergedConfigs()
	a, _ := merged.Get("A")
	b, _ := merged.Get("B")
	assert.False(t, a.Enabled)
	assert.False(t, b.Enabled, "absent override keeps the static default")
}

func TestMergedConfigs_ClosureIgnoresStaleKeys(t *testing.T) {
	r, fs := newTestResolver(t, abCatalog(t))
	fs.data[SettingsKey] = `{"providers":{"A":{"enabled":false},"gone":{"enabled":true}},"defaultProvider":"gone"}`

	merged := r.MergedConfigs()
	assert.Equal(t, []Key{"A", "B"}, merged.Keys())
	assert.Equal(t, 2, merged.Len())
	_, ok := merged.Get("gone")
	assert.False(t, ok)
}

func TestMergedConfigs_CatalogOrder(t *testing.T) {
	c := MustCatalog(DefaultKey, Builtin()...)
	r, _ := newTestResolver(t, c)

	merged := r.MergedConfigs()
	assert.Equal(t, c.Keys(), merged.Keys())

	all := merged.All()
	require.Len(t, all, c.Len())
	for i, k := range c.Keys() {
		assert.Equal(t, k, all[i].Key)
	}
}

func TestMergedConfigs_KeepsStaticFields(t *testing.T) {
	c := MustCatalog(DefaultKey, Builtin()...)
	r, _ := newTestResolver(t, c)
	_, err := r.SetEnabled("openai", true)
	require.NoError(t, err)

	got, _ := r.MergedConfigs().Get("openai")
	want, _ := c.Get("openai")
	want.Enabled = true
	assert.Equal(t, want, got)
}

func TestMergedConfigs_Idempotent(t *testing.T) {
	r, fs := newTestResolver(t, abCatalog(t))
	fs.data[SettingsKey] = `{"providers":{"B":{"enabled":true}},"defaultProvider":"A"}`

	first := r.MergedConfigs()
	second := r.MergedConfigs()
	assert.Equal(t, first.All(), second.All())
	assert.Equal(t, first.Keys(), second.Keys())
	assert.Zero(t, fs.sets, "reads never write")
}

func TestMergedConfigs_Enabled(t *testing.T) {
	r, _ := newTestResolver(t, abCatalog(t))

	enabled := r.MergedConfigs().Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, Key("A"), enabled[0].Key)
}

// --- Supplemented operations ---

func TestSetEnabled(t *testing.T) {
	r, _ := newTestResolver(t, abCatalog(t))

	s, err := r.SetEnabled("B", true)
	require.NoError(t, err)
	assert.True(t, s.Providers["B"].Enabled)
	assert.True(t, s.Providers["A"].Enabled, "synthesized defaults are carried into the first save")

	b, _ := r.MergedConfigs().Get("B")
	assert.True(t, b.Enabled)
}

func TestSetEnabled_UnknownProvider(t *testing.T) {
	r, fs := newTestResolver(t, abCatalog(t))

	_, err := r.SetEnabled("nope", true)
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.Zero(t, fs.sets)
}

func TestSetEnabled_StorageFailure(t *testing.T) {
	r, fs := newTestResolver(t, abCatalog(t))
	fs.setErr = errors.New("read-only")

	_, err := r.SetEnabled("B", true)
	assert.Error(t, err)
}

func TestSetDefault(t *testing.T) {
	r, _ := newTestResolver(t, abCatalog(t))

	_, err := r.SetDefault("B")
	require.NoError(t, err)

	key, err := r.DefaultProvider()
	require.NoError(t, err)
	assert.Equal(t, Key("B"), key)
}

func TestSetDefault_UnknownProvider(t *testing.T) {
	r, _ := newTestResolver(t, abCatalog(t))

	_, err := r.SetDefault("Z")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestReset(t *testing.T) {
	r, fs := newTestResolver(t, abCatalog(t))
	_, err := r.SetEnabled("A", false)
	require.NoError(t, err)

	require.NoError(t, r.Reset())
	_, ok := fs.data[SettingsKey]
	assert.False(t, ok)
	assert.Equal(t, DefaultSettings(r.Catalog()), r.Load())
}

func TestReset_StorageFailure(t *testing.T) {
	r, fs := newTestResolver(t, abCatalog(t))
	fs.deleteErr = errors.New("locked")

	assert.Error(t, r.Reset())
}

// A persisted default naming a provider that has since been removed from
// the catalog is kept by Load and reported as drift rather than clamped.
func TestDefaultProvider_Drift(t *testing.T) {
	r, fs := newTestResolver(t, abCatalog(t))
	fs.data[SettingsKey] = `{"providers":{},"defaultProvider":"renamed"}`

	key, err := r.DefaultProvider()
	assert.ErrorIs(t, err, ErrDefaultDrift)
	assert.Equal(t, Key("renamed"), key)
}

func TestDefaultProvider_EmptyUsesFallback(t *testing.T) {
	r, fs := newTestResolver(t, abCatalog(t))
	fs.data[SettingsKey] = `{"providers":{}}`

	key, err := r.DefaultProvider()
	require.NoError(t, err)
	assert.Equal(t, Key("A"), key)
}

// --- Select ---

func TestSelect(t *testing.T) {
	c := MustCatalog(DefaultKey, Builtin()...)

	tests := []struct {
		name      string
		settings  string
		requested string
		want      Key
		wantErr   error
	}{
		{name: "defaults", want: "xai"},
		{name: "requested enabled", settings: `{"providers":{"openai":{"enabled":true}},"defaultProvider":"xai"}`, requested: "openai", want: "openai"},
		{name: "requested disabled falls back to default", requested: "openai", want: "xai"},
		{name: "requested alias", settings: `{"providers":{"anthropic":{"enabled":true}},"defaultProvider":"xai"}`, requested: "Claude", want: "anthropic"},
		{name: "unknown requested", requested: "mystery", want: "xai"},
		{name: "default honoured", settings: `{"providers":{"deepseek":{"enabled":true}},"defaultProvider":"deepseek"}`, want: "deepseek"},
		{name: "default disabled uses first enabled", settings: `{"providers":{"xai":{"enabled":false},"ollama":{"enabled":true}},"defaultProvider":"xai"}`, want: "ollama"},
		{name: "drifted default uses first enabled", settings: `{"providers":{},"defaultProvider":"gone"}`, want: "xai"},
		{name: "nothing enabled", settings: `{"providers":{"xai":{"enabled":false}},"defaultProvider":"xai"}`, wantErr: ErrNoProviderEnabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, fs := newTestResolver(t, c)
			if tt.settings != "" {
				fs.data[SettingsKey] = tt.settings
			}

			got, err := r.Select(tt.requested)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Key)
			assert.True(t, got.Enabled)
		})
	}
}

// --- Catalog ---

func TestNewCatalog_Errors(t *testing.T) {
	_, err := NewCatalog("A", Config{Key: "A"}, Config{Key: "A"})
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewCatalog("A", Config{Name: "nameless"})
	assert.ErrorContains(t, err, "no key")

	_, err = NewCatalog("Z", Config{Key: "A"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestCatalog_Lookup(t *testing.T) {
	c := MustCatalog(DefaultKey, Builtin()...)

	k, ok := c.Lookup("xai")
	assert.True(t, ok)
	assert.Equal(t, Key("xai"), k)

	k, ok = c.Lookup("GROK")
	assert.True(t, ok)
	assert.Equal(t, Key("xai"), k)

	_, ok = c.Lookup("nope")
	assert.False(t, ok)
}

func TestCatalog_EntriesAreCopies(t *testing.T) {
	c := abCatalog(t)
	entries := c.Entries()
	entries[0].Enabled = false

	a, _ := c.Get("A")
	assert.True(t, a.Enabled)
}

func TestCatalog_HandsOutDeepCopies(t *testing.T) {
	temp := 0.2
	c, err := NewCatalog("xai", Config{
		Key:         "xai",
		Enabled:     true,
		Temperature: &temp,
		Aliases:     []string{"grok", "grok-3-mini"},
	})
	require.NoError(t, err)
	r, _ := newTestResolver(t, c)

	eff, _ := r.MergedConfigs().Get("xai")
	eff.Aliases[0] = "changed"
	*eff.Temperature = 1.5

	entries := c.Entries()
	entries[0].Aliases[1] = "changed"
	*entries[0].Temperature = 1.5

	got, _ := c.Get("xai")
	got.Aliases[0] = "changed"

	st, _ := c.Get("xai")
	assert.Equal(t, []string{"grok", "grok-3-mini"}, st.Aliases)
	assert.Equal(t, 0.2, *st.Temperature)
	assert.Equal(t, 0.2, temp)

	k, ok := c.Lookup("grok")
	assert.True(t, ok)
	assert.Equal(t, Key("xai"), k)
	_, ok = c.Lookup("changed")
	assert.False(t, ok)
}

func TestSave_NilProvidersLoadsAsEmpty(t *testing.T) {
	r, fs := newTestResolver(t, abCatalog(t))

	require.NoError(t, r.Save(Settings{DefaultProvider: "A"}))
	assert.JSONEq(t, `{"providers":{},"defaultProvider":"A"}`, fs.data[SettingsKey])

	s := r.Load()
	assert.Equal(t, Settings{Providers: map[Key]Override{}, DefaultProvider: "A"}, s)
}

func TestConfig_Redacted(t *testing.T) {
	c := Config{Key: "xai", APIKey: "xai-secret"}
	assert.Equal(t, "***", c.Redacted().APIKey)
	assert.Empty(t, Config{Key: "ollama"}.Redacted().APIKey)
}

func TestSettings_JSONShape(t *testing.T) {
	var s Settings
	require.NoError(t, json.Unmarshal([]byte(`{"providers":{"xai":{"enabled":false}},"defaultProvider":"openai"}`), &s))
	assert.Equal(t, Key("openai"), s.DefaultProvider)
	assert.False(t, s.Providers["xai"].Enabled)
}

func TestSettings_Clone(t *testing.T) {
	s := Settings{Providers: map[Key]Override{"A": {Enabled: true}}, DefaultProvider: "A"}
	c := s.Clone()
	c.Providers["A"] = Override{Enabled: false}
	assert.True(t, s.Providers["A"].Enabled)
}
