package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		visible []string
		hidden  []string
	}{
		{"debug", []string{"debug", "info", "warn", "error"}, nil},
		{"info", []string{"info", "warn", "error"}, []string{"debug"}},
		{"warn", []string{"warn", "error"}, []string{"debug", "info"}},
		{"error", []string{"error"}, []string{"debug", "info", "warn"}},
		{"silent", nil, []string{"debug", "info", "warn", "error"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(&buf, tt.level)
			log.Debug().Msg("msg-debug")
			log.Info().Msg("msg-info")
			log.Warn().Msg("msg-warn")
			log.Error().Msg("msg-error")

			for _, l := range tt.visible {
				assert.Contains(t, buf.String(), "msg-"+l)
			}
			for _, l := range tt.hidden {
				assert.NotContains(t, buf.String(), "msg-"+l)
			}
		})
	}
}

func TestNewNilWriterUsesConsole(t *testing.T) {
	require.NotNil(t, New(nil, "info"))
}

func TestSubTagsSubsystem(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info").Sub("providers").Warn().Str("key", "economic-ai.settings").Msg("provider settings are corrupt")

	assert.Contains(t, buf.String(), `"subsystem":"providers"`)
	assert.Contains(t, buf.String(), `"key":"economic-ai.settings"`)
}

func TestSubChainKeepsInnermost(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info").Sub("gateway").Sub("clients").Info().Msg("client connected")
	assert.Contains(t, buf.String(), "clients")
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info").Sub("gateway").With("connId", "conn-42")

	log.Info().Msg("client closed connection")
	assert.Contains(t, buf.String(), `"connId":"conn-42"`)
	assert.Contains(t, buf.String(), `"subsystem":"gateway"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"fatal", zerolog.FatalLevel},
		{"silent", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
		{"INFO", zerolog.InfoLevel}, // case-sensitive
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestZerolog(t *testing.T) {
	var buf bytes.Buffer
	zl := New(&buf, "info").Zerolog()
	zl.Info().Msg("direct zerolog")
	assert.Contains(t, buf.String(), "direct zerolog")
}

func TestValidLevel(t *testing.T) {
	for _, lvl := range []string{"trace", "debug", "info", "warn", "error", "fatal", "silent"} {
		assert.True(t, ValidLevel(lvl), lvl)
	}
	assert.False(t, ValidLevel("verbose"))
	assert.False(t, ValidLevel(""))
}

func TestFromOptions_Console(t *testing.T) {
	log, closer, err := FromOptions(Options{Level: "info", Style: "json"})
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.NoError(t, closer.Close())
}

func TestFromOptions_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "fisioflow.log")

	log, closer, err := FromOptions(Options{Level: "debug", Style: "json", File: path})
	require.NoError(t, err)

	log.Sub("resolver").Warn().Str("key", "economic-ai.settings").Msg("settings blob is corrupt")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "settings blob is corrupt")
	assert.Contains(t, string(data), `"subsystem":"resolver"`)
}

func TestFromOptions_BadFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, _, err := FromOptions(Options{Level: "info", File: filepath.Join(blocker, "x.log")})
	assert.Error(t, err)
}
