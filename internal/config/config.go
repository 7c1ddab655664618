// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for cratesync.
package config

// Config is the top-level configuration structure.
// It contains profiles and all global configuration sections.
// Per-profile fields, when set, override the corresponding global default.
type Config struct {
	Profiles map[string]ProfileEntry `toml:"profile"`
	Hashing  HashingConfig           `toml:"hashing"`
	Filter   FilterConfig            `toml:"filter"`
	Safety   SafetyConfig            `toml:"safety"`
	Sync     SyncConfig              `toml:"sync"`
	Logging  LoggingConfig           `toml:"logging"`
}

// HashingConfig controls the content-hashing algorithm used to compare
// files once their (size, mtime) fingerprint fails to prove equivalence.
type HashingConfig struct {
	Algorithm string `toml:"algorithm"` // "blake3" (default) or "sha256"
}

// FilterConfig controls which files are included in a sync.
type FilterConfig struct {
	ExcludePatterns []string `toml:"exclude_patterns"`
	FollowSymlinks  bool     `toml:"follow_symlinks"`
}

// SafetyConfig controls protective defaults and thresholds.
type SafetyConfig struct {
	GuardFileName       string `toml:"guard_file_name"`
	BigDeleteThreshold  int    `toml:"big_delete_threshold"`
	BigDeletePercentage int    `toml:"big_delete_percentage"`
}

// SyncConfig controls reconciliation engine behavior.
type SyncConfig struct {
	DefaultMode      string `toml:"default_mode"` // "one_way" or "two_way"
	ConflictStrategy string `toml:"conflict_strategy"`
	DryRun           bool   `toml:"dry_run"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // "auto", "text", or "json"
}

// ProfileEntry is the TOML representation of one sync profile. Fields left
// unset fall back to the global defaults at resolve time.
type ProfileEntry struct {
	SourcePath       string   `toml:"source_path"`
	TargetPath       string   `toml:"target_path"`
	Mode             string   `toml:"mode"`
	ExcludePatterns  []string `toml:"exclude_patterns"`
	ConflictStrategy string   `toml:"conflict_strategy"`
}
