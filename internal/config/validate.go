package config

import (
	"errors"
	"fmt"

	"github.com/cratesync/cratesync/internal/hashutil"
	"github.com/cratesync/cratesync/internal/model"
)

const (
	minPercentage = 1
	maxPercentage = 100
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateHashing(&cfg.Hashing)...)
	errs = append(errs, validateSafety(&cfg.Safety)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	for name, p := range cfg.Profiles {
		errs = append(errs, validateProfileEntry(name, &p)...)
	}

	return errors.Join(errs...)
}

// ValidateResolved checks cross-field constraints on a fully resolved
// profile. Unlike Validate, which checks raw config file values, this runs
// after the override chain (defaults -> file -> CLI) has been applied.
func ValidateResolved(p *model.SyncProfile) error {
	var errs []error

	if p.SourcePath == "" {
		errs = append(errs, errors.New("source_path: required"))
	}
	if p.TargetPath == "" {
		errs = append(errs, errors.New("target_path: required"))
	}
	if p.SourcePath != "" && p.TargetPath != "" && p.SourcePath == p.TargetPath {
		errs = append(errs, fmt.Errorf("source_path and target_path must differ, both are %q", p.SourcePath))
	}
	if p.SyncMode != model.SyncModeOneWay && p.SyncMode != model.SyncModeTwoWay {
		errs = append(errs, fmt.Errorf("mode: unknown sync mode %q", p.SyncMode))
	}

	return errors.Join(errs...)
}

func validateHashing(h *HashingConfig) []error {
	var errs []error

	switch hashutil.Algorithm(h.Algorithm) {
	case hashutil.AlgorithmBlake3, hashutil.AlgorithmSHA256:
	default:
		errs = append(errs, fmt.Errorf("hashing.algorithm: unknown algorithm %q", h.Algorithm))
	}

	return errs
}

func validateSafety(s *SafetyConfig) []error {
	var errs []error

	if s.GuardFileName == "" {
		errs = append(errs, errors.New("safety.guard_file_name: must not be empty"))
	}
	if s.BigDeletePercentage < minPercentage || s.BigDeletePercentage > maxPercentage {
		errs = append(errs, fmt.Errorf("safety.big_delete_percentage: must be between %d and %d, got %d",
			minPercentage, maxPercentage, s.BigDeletePercentage))
	}
	if s.BigDeleteThreshold < 0 {
		errs = append(errs, fmt.Errorf("safety.big_delete_threshold: must be non-negative, got %d", s.BigDeleteThreshold))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	switch s.DefaultMode {
	case "one_way", "two_way":
	default:
		errs = append(errs, fmt.Errorf("sync.default_mode: unknown mode %q", s.DefaultMode))
	}

	errs = append(errs, validateConflictStrategy("sync.conflict_strategy", s.ConflictStrategy)...)

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	switch l.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.log_level: unknown level %q", l.LogLevel))
	}

	switch l.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.log_format: unknown format %q", l.LogFormat))
	}

	return errs
}

func validateProfileEntry(name string, p *ProfileEntry) []error {
	var errs []error

	if p.SourcePath == "" {
		errs = append(errs, fmt.Errorf("profile %q: source_path: required", name))
	}
	if p.TargetPath == "" {
		errs = append(errs, fmt.Errorf("profile %q: target_path: required", name))
	}
	if p.Mode != "" && p.Mode != "one_way" && p.Mode != "two_way" {
		errs = append(errs, fmt.Errorf("profile %q: mode: unknown sync mode %q", name, p.Mode))
	}
	if p.ConflictStrategy != "" {
		for _, err := range validateConflictStrategy(fmt.Sprintf("profile %q: conflict_strategy", name), p.ConflictStrategy) {
			errs = append(errs, err)
		}
	}

	return errs
}

func validateConflictStrategy(field, value string) []error {
	switch value {
	case "keep_source", "keep_target", "keep_both", "skip":
		return nil
	default:
		return []error{fmt.Errorf("%s: unknown strategy %q", field, value)}
	}
}
