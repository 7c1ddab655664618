package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cratesync/cratesync/internal/model"
)

// defaultProfileName is the profile selected when --profile is omitted and
// the config defines exactly one profile named "default" (or only one
// profile in total).
const defaultProfileName = "default"

// CLIOverrides holds values supplied on the command line that take priority
// over both the config file and environment variables.
type CLIOverrides struct {
	ConfigPath       string
	DBPath           string
	Profile          string
	DryRun           *bool
	ConflictStrategy string
}

// ResolveProfile merges global defaults with a named profile's overrides
// and any CLI overrides, returning a fully resolved model.SyncProfile ready
// to hand to the reconciliation engine. If profileName is empty, the
// default profile is selected by convention: a profile literally named
// "default", or the sole profile if only one exists.
func ResolveProfile(cfg *Config, profileName string, cli CLIOverrides) (*model.SyncProfile, error) {
	name, err := resolveProfileName(cfg, profileName)
	if err != nil {
		return nil, err
	}

	entry := cfg.Profiles[name]

	resolved := &model.SyncProfile{
		Name:       name,
		SourcePath: expandTilde(entry.SourcePath),
		TargetPath: expandTilde(entry.TargetPath),
		SyncMode:   model.SyncMode(firstNonEmpty(entry.Mode, cfg.Sync.DefaultMode)),
	}

	if len(entry.ExcludePatterns) > 0 {
		resolved.ExcludePatterns = entry.ExcludePatterns
	} else {
		resolved.ExcludePatterns = cfg.Filter.ExcludePatterns
	}

	if cli.DryRun != nil {
		cfg.Sync.DryRun = *cli.DryRun
	}

	return resolved, nil
}

// ResolveConflictStrategy determines the conflict strategy name to use for
// a profile, applying the override chain: CLI > profile > global default.
func ResolveConflictStrategy(cfg *Config, entry ProfileEntry, cli CLIOverrides) string {
	if cli.ConflictStrategy != "" {
		return cli.ConflictStrategy
	}
	return firstNonEmpty(entry.ConflictStrategy, cfg.Sync.ConflictStrategy)
}

// resolveProfileName determines which profile to use.
func resolveProfileName(cfg *Config, profileName string) (string, error) {
	if len(cfg.Profiles) == 0 {
		return "", fmt.Errorf("no profiles defined in config")
	}

	if profileName != "" {
		return lookupExplicitProfile(cfg, profileName)
	}

	return lookupDefaultProfile(cfg)
}

func lookupExplicitProfile(cfg *Config, name string) (string, error) {
	if _, ok := cfg.Profiles[name]; !ok {
		return "", fmt.Errorf("profile %q not found in config", name)
	}

	return name, nil
}

func lookupDefaultProfile(cfg *Config) (string, error) {
	if _, ok := cfg.Profiles[defaultProfileName]; ok {
		return defaultProfileName, nil
	}

	if len(cfg.Profiles) == 1 {
		for name := range cfg.Profiles {
			return name, nil
		}
	}

	return "", fmt.Errorf(
		"multiple profiles defined but none named %q; use --profile to select one",
		defaultProfileName)
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
