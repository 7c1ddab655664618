package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides.
const (
	EnvConfig  = "CRATESYNC_CONFIG"
	EnvProfile = "CRATESYNC_PROFILE"
	EnvDBPath  = "CRATESYNC_DB"
)

// dotEnvFileName is read from the current working directory as a developer
// convenience: a local override file that never needs to be exported into
// the shell. It is optional; its absence is not an error.
const dotEnvFileName = ".env"

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // CRATESYNC_CONFIG: override config file path
	Profile    string // CRATESYNC_PROFILE: active profile name
	DBPath     string // CRATESYNC_DB: sync state database path override
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. A variable unset in the OS environment falls back to the same key
// in a ".env" file in the working directory, if one exists. This does not
// modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	dotEnv, err := godotenv.Read(dotEnvFileName)
	if err != nil {
		dotEnv = nil
	}

	return EnvOverrides{
		ConfigPath: lookupEnv(EnvConfig, dotEnv),
		Profile:    lookupEnv(EnvProfile, dotEnv),
		DBPath:     lookupEnv(EnvDBPath, dotEnv),
	}
}

// lookupEnv prefers the real OS environment over the .env fallback map, so a
// value exported in the shell always wins over a stale .env file.
func lookupEnv(key string, dotEnv map[string]string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return dotEnv[key]
}
