package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- ParseConfigPath ---

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"single segment", "gateway", []string{"gateway"}, false},
		{"two segments", "gateway.port", []string{"gateway", "port"}, false},
		{"three segments", "gateway.auth.mode", []string{"gateway", "auth", "mode"}, false},
		{"empty", "", nil, true},
		{"empty segment", "gateway..port", nil, true},
		{"leading dot", ".gateway", nil, true},
		{"trailing dot", "gateway.", nil, true},
		{"blocked __proto__", "foo.__proto__.bar", nil, true},
		{"blocked prototype", "prototype.x", nil, true},
		{"blocked constructor", "constructor", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				var ce *ConfigError
				assert.ErrorAs(t, err, &ce)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// --- path access on raw config maps ---

func rawConfig() map[string]any {
	return map[string]any{
		"gateway": map[string]any{
			"port": 18790,
			"auth": map[string]any{"mode": "token"},
		},
		"ai": map[string]any{
			"mode":      "merge",
			"providers": []any{map[string]any{"key": "xai"}},
		},
		"storage": "sqlite",
	}
}

func TestGetValueAtPath(t *testing.T) {
	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"gateway.port", 18790, true},
		{"gateway.auth.mode", "token", true},
		{"ai.mode", "merge", true},
		{"storage", "sqlite", true},
		{"logging", nil, false},
		{"gateway.tls", nil, false},
		{"storage.driver", nil, false},     // scalar intermediate
		{"ai.providers.0.key", nil, false}, // lists are not indexed
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			path, err := ParseConfigPath(tt.path)
			require.NoError(t, err)
			val, ok := GetValueAtPath(rawConfig(), path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, val)
		})
	}
}

func TestSetValueAtPath(t *testing.T) {
	tests := []struct {
		name string
		path []string
		val  any
	}{
		{"replace leaf", []string{"gateway", "port"}, 19000},
		{"create intermediates", []string{"logging", "file", "path"}, "/var/log/fisioflow.log"},
		{"replace scalar with map", []string{"storage", "driver"}, "memory"},
		{"top level", []string{"version"}, "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := rawConfig()
			SetValueAtPath(root, tt.path, tt.val)
			got, ok := GetValueAtPath(root, tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.val, got)
		})
	}
}

func TestUnsetValueAtPath(t *testing.T) {
	root := rawConfig()

	assert.True(t, UnsetValueAtPath(root, []string{"gateway", "port"}))
	_, found := GetValueAtPath(root, []string{"gateway", "port"})
	assert.False(t, found)

	mode, found := GetValueAtPath(root, []string{"gateway", "auth", "mode"})
	assert.True(t, found, "siblings survive")
	assert.Equal(t, "token", mode)

	assert.False(t, UnsetValueAtPath(root, []string{"gateway", "port"}), "already gone")
	assert.False(t, UnsetValueAtPath(root, []string{"logging", "level"}))
	assert.False(t, UnsetValueAtPath(root, []string{"storage", "driver"}))
}

// --- ResolvePaths tests ---

func TestResolvePaths_AllFields(t *testing.T) {
	t.Setenv("FISIOFLOW_HOME", "")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".fisioflow"), paths.Base)
	assert.Equal(t, filepath.Join(home, ".fisioflow", "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(home, ".fisioflow", "data"), paths.Data)
	assert.Equal(t, filepath.Join(home, ".fisioflow", "logs"), paths.Logs)
}

func TestResolvePaths_CustomHome(t *testing.T) {
	t.Setenv("FISIOFLOW_HOME", "/tmp/fisio")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/fisio", paths.Base)
	assert.Equal(t, "/tmp/fisio/config.yaml", paths.Config)
	assert.Equal(t, "/tmp/fisio/data", paths.Data)
	assert.Equal(t, "/tmp/fisio/logs", paths.Logs)
}

func TestEnsureDirs_CreatesAll(t *testing.T) {
	tmpDir := t.TempDir()
	paths := Paths{
		Base: tmpDir,
		Data: filepath.Join(tmpDir, "data"),
		Logs: filepath.Join(tmpDir, "logs"),
	}

	require.NoError(t, paths.EnsureDirs())
	require.NoError(t, paths.EnsureDirs())

	for _, dir := range []string{paths.Base, paths.Data, paths.Logs} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestStoragePath(t *testing.T) {
	paths := Paths{Data: "/srv/fisio/data"}

	assert.Equal(t, "/srv/fisio/data/settings.db", paths.StoragePath(StorageConfig{}))
	assert.Equal(t, "/var/lib/ai.db", paths.StoragePath(StorageConfig{Path: "/var/lib/ai.db"}))
}

// --- blockedKeys tests ---

func TestBlockedKeys(t *testing.T) {
	assert.True(t, blockedKeys["__proto__"])
	assert.True(t, blockedKeys["prototype"])
	assert.True(t, blockedKeys["constructor"])
	assert.False(t, blockedKeys["gateway"])
	assert.False(t, blockedKeys["port"])
}

// --- LoadEnvFile ---

func TestLoadEnvFile_Missing(t *testing.T) {
	p := Paths{Base: t.TempDir()}
	assert.NoError(t, p.LoadEnvFile())
}

func TestLoadEnvFile_ExportsWithoutOverriding(t *testing.T) {
	p := Paths{Base: t.TempDir()}
	content := "FISIOFLOW_TEST_NEW_KEY=from-file\nFISIOFLOW_TEST_SET_KEY=from-file\n"
	require.NoError(t, os.WriteFile(p.EnvFile(), []byte(content), 0o600))

	t.Setenv("FISIOFLOW_TEST_SET_KEY", "from-env")
	t.Setenv("FISIOFLOW_TEST_NEW_KEY", "")
	require.NoError(t, os.Unsetenv("FISIOFLOW_TEST_NEW_KEY"))

	require.NoError(t, p.LoadEnvFile())
	assert.Equal(t, "from-file", os.Getenv("FISIOFLOW_TEST_NEW_KEY"))
	assert.Equal(t, "from-env", os.Getenv("FISIOFLOW_TEST_SET_KEY"))
}

func TestLoadEnvFile_ExpandsIntoCatalog(t *testing.T) {
	p := Paths{Base: t.TempDir()}
	require.NoError(t, os.WriteFile(p.EnvFile(), []byte("XAI_API_KEY=sk-from-dotenv\n"), 0o600))
	t.Setenv("XAI_API_KEY", "")
	require.NoError(t, os.Unsetenv("XAI_API_KEY"))

	require.NoError(t, p.LoadEnvFile())
	cat, err := Catalog(Defaults())
	require.NoError(t, err)
	xai, ok := cat.Get("xai")
	require.True(t, ok)
	assert.Equal(t, "sk-from-dotenv", xai.APIKey)
}
