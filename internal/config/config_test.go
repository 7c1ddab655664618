package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfigFile(t, `
[sync]
default_mode = "two_way"
conflict_strategy = "keep_both"

[profile.default]
source_path = "/music"
target_path = "/media/player"
`)

	cfg, err := Load(path, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "two_way", cfg.Sync.DefaultMode)
	require.Contains(t, cfg.Profiles, "default")
	assert.Equal(t, "/music", cfg.Profiles["default"].SourcePath)
}

func TestLoad_UnknownKeySuggestsClosestMatch(t *testing.T) {
	path := writeConfigFile(t, `
[sync]
defalt_mode = "two_way"
`)

	_, err := Load(path, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did you mean")
}

func TestLoad_InvalidValueFailsValidation(t *testing.T) {
	path := writeConfigFile(t, `
[sync]
default_mode = "sideways"
`)

	_, err := Load(path, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_mode")
}

func TestLoadOrDefault_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, defaultGuardFileName, cfg.Safety.GuardFileName)
}
