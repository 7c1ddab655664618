package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/cratesync/cratesync/internal/model"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Profile tables ([profile.<name>]) decode directly into
// Config.Profiles since cratesync profile names are ordinary TOML keys.
// Unknown keys are treated as fatal errors, with "did you mean?" suggestions
// for keys outside profile tables.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file parsed successfully",
		"path", path,
		"profile_count", len(cfg.Profiles),
	)

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. This supports a zero-config
// first run: a profile can be built entirely from CLI flags.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// ResolveConfigPath determines the config file path using the three-layer
// priority: CLI flag > environment variable > platform default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) string {
	cfgPath := DefaultConfigPath()
	source := "default"

	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
		source = "env"
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
		source = "cli"
	}

	logger.Debug("config path resolved", "path", cfgPath, "source", source)

	return cfgPath
}

// ResolveDBPath determines the sync state database path using the same
// three-layer priority as ResolveConfigPath.
func ResolveDBPath(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) string {
	dbPath := DefaultDatabasePath()
	source := "default"

	if env.DBPath != "" {
		dbPath = env.DBPath
		source = "env"
	}

	if cli.DBPath != "" {
		dbPath = cli.DBPath
		source = "cli"
	}

	logger.Debug("database path resolved", "path", dbPath, "source", source)

	return dbPath
}

// LoadProfile ties path resolution, config loading, and profile resolution
// together: the single entry point CLI commands call to go from raw
// flags/env to a validated model.SyncProfile.
func LoadProfile(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*model.SyncProfile, *Config, error) {
	cfgPath := ResolveConfigPath(env, cli, logger)

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	profileName := env.Profile
	if cli.Profile != "" {
		profileName = cli.Profile
	}

	resolved, err := ResolveProfile(cfg, profileName, cli)
	if err != nil {
		return nil, nil, err
	}

	if err := ValidateResolved(resolved); err != nil {
		return nil, nil, fmt.Errorf("profile validation: %w", err)
	}

	return resolved, cfg, nil
}
