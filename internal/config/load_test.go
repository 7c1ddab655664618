package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveConfigPath_CLIBeatsEnvBeatsDefault(t *testing.T) {
	logger := discardLogger()

	assert.NotEmpty(t, ResolveConfigPath(EnvOverrides{}, CLIOverrides{}, logger))
	assert.Equal(t, "/env/config.toml", ResolveConfigPath(EnvOverrides{ConfigPath: "/env/config.toml"}, CLIOverrides{}, logger))
	assert.Equal(t, "/cli/config.toml", ResolveConfigPath(
		EnvOverrides{ConfigPath: "/env/config.toml"},
		CLIOverrides{ConfigPath: "/cli/config.toml"},
		logger,
	))
}

func TestResolveDBPath_CLIBeatsEnvBeatsDefault(t *testing.T) {
	logger := discardLogger()

	assert.Equal(t, "/env/state.db", ResolveDBPath(EnvOverrides{DBPath: "/env/state.db"}, CLIOverrides{}, logger))
	assert.Equal(t, "/cli/state.db", ResolveDBPath(
		EnvOverrides{DBPath: "/env/state.db"},
		CLIOverrides{DBPath: "/cli/state.db"},
		logger,
	))
}

func TestLoadProfile_EndToEnd(t *testing.T) {
	path := writeConfigFile(t, `
[profile.default]
source_path = "/music"
target_path = "/media/player"
mode = "two_way"
`)

	resolved, cfg, err := LoadProfile(EnvOverrides{}, CLIOverrides{ConfigPath: path}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "default", resolved.Name)
	assert.Equal(t, filepath.Clean("/music"), resolved.SourcePath)
	assert.NotNil(t, cfg)
}
