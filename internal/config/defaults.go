package config

import "github.com/cratesync/cratesync/internal/hashutil"

// Default values for configuration options. These represent the "layer 0"
// of the override chain and are chosen to be safe, reasonable starting
// points that work without any config file.
const (
	defaultGuardFileName       = ".cratesync-nosync"
	defaultBigDeleteThreshold  = 100
	defaultBigDeletePercentage = 50
	defaultSyncMode            = "one_way"
	defaultConflictStrategy    = "keep_both"
	defaultLogLevel            = "info"
	defaultLogFormat           = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Hashing:  defaultHashingConfig(),
		Filter:   defaultFilterConfig(),
		Safety:   defaultSafetyConfig(),
		Sync:     defaultSyncConfig(),
		Logging:  defaultLoggingConfig(),
		Profiles: make(map[string]ProfileEntry),
	}
}

func defaultHashingConfig() HashingConfig {
	return HashingConfig{
		Algorithm: string(hashutil.DefaultAlgorithm),
	}
}

func defaultFilterConfig() FilterConfig {
	return FilterConfig{
		FollowSymlinks: false,
	}
}

func defaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		GuardFileName:       defaultGuardFileName,
		BigDeleteThreshold:  defaultBigDeleteThreshold,
		BigDeletePercentage: defaultBigDeletePercentage,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		DefaultMode:      defaultSyncMode,
		ConflictStrategy: defaultConflictStrategy,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}
