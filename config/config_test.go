package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grovetools/appshell/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromBytesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes(nil, FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "unix", cfg.UI.Listen)
	assert.True(t, cfg.WatchEnabled())
	assert.True(t, cfg.UpdatesEnabled())
	assert.Equal(t, []string{"stable", "rc", "beta", "alpha"}, cfg.Update.Channels)
	assert.Equal(t, "@every 4h", cfg.Update.CheckSchedule)
}

func TestLoadFromBytesYAML(t *testing.T) {
	t.Setenv("APPSHELL_TEST_FEED", "https://updates.example.com")

	data := []byte(`
ui:
  listen: 127.0.0.1:7777
data:
  debug: true
  watch: false
  ignore:
    - "*.bak"
update:
  base_url: ${APPSHELL_TEST_FEED}
  check_schedule: "${APPSHELL_TEST_MISSING:-@daily}"
logging:
  level: debug
`)

	cfg, err := LoadFromBytes(data, FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", cfg.UI.Listen)
	assert.True(t, cfg.Data.Debug)
	assert.False(t, cfg.WatchEnabled())
	assert.Equal(t, []string{"*.bak"}, cfg.Data.Ignore)
	assert.Equal(t, "https://updates.example.com", cfg.Update.BaseURL)
	assert.Equal(t, "@daily", cfg.Update.CheckSchedule)
	require.Contains(t, cfg.Extensions, "logging")

	var logCfg struct {
		Level string `yaml:"level"`
	}
	require.NoError(t, cfg.UnmarshalExtension("logging", &logCfg))
	assert.Equal(t, "debug", logCfg.Level)
}

func TestExpandedValueMustBeValidYAML(t *testing.T) {
	t.Setenv("APPSHELL_TEST_SCHEDULE", "@every 4h")

	_, err := LoadFromBytes([]byte("update:\n  check_schedule: ${APPSHELL_TEST_SCHEDULE}\n"), FormatYAML)
	assert.Error(t, err)

	cfg, err := LoadFromBytes([]byte("update:\n  check_schedule: \"${APPSHELL_TEST_SCHEDULE}\"\n"), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "@every 4h", cfg.Update.CheckSchedule)
}

func TestLoadFromBytesTOML(t *testing.T) {
	data := []byte(`
[ui]
listen = "unix"

[update]
enabled = false
channels = ["stable", "beta"]
`)

	cfg, err := LoadFromBytes(data, FormatTOML)
	require.NoError(t, err)
	assert.False(t, cfg.UpdatesEnabled())
	assert.Equal(t, []string{"stable", "beta"}, cfg.Update.Channels)
}

func TestLoadFromBytesInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "ui: [unterminated"},
		{"wrong type", "ui:\n  listen: [1, 2]\n"},
		{"wrong nested type", "data:\n  ignore: nope\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.data), FormatYAML)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeConfigInvalid))
		})
	}
}

func TestLoadMergesOverride(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "appshell.yml")
	require.NoError(t, os.WriteFile(base, []byte("ui:\n  listen: unix\ndata:\n  debug: true\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "appshell.override.yml"), []byte("ui:\n  listen: localhost:9000\n"), 0644))

	cfg, err := Load(base)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", cfg.UI.Listen)
	assert.True(t, cfg.Data.Debug, "keys absent from the override are kept")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "appshell.yml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeConfigNotFound))
}

func TestLoadDefaultWithoutFile(t *testing.T) {
	t.Setenv("APPSHELL_HOME", t.TempDir())

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, "unix", cfg.UI.Listen)
}

func TestFindConfigFilePrefersYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "appshell.toml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "appshell.yml"), []byte(""), 0644))

	path, err := FindConfigFile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "appshell.yml"), path)
}
