package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cratesync/cratesync/internal/config"
	"github.com/cratesync/cratesync/internal/engine"
	"github.com/cratesync/cratesync/internal/model"
	"github.com/cratesync/cratesync/internal/store"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath       string
	flagDBPath           string
	flagProfile          string
	flagConflictStrategy string
	flagJSON             bool
	flagVerbose          bool
	flagDebug            bool
	flagQuiet            bool
)

// skipProfileAnnotation marks commands that manage the config file itself
// (profile add/list/remove) rather than operating on a single resolved
// profile. They skip the automatic profile resolution and store open in
// PersistentPreRunE and load the raw Config themselves.
const skipProfileAnnotation = "skipProfile"

// CLIContext bundles everything a command needs once config and the
// profile's backing store have been resolved. Created once in
// PersistentPreRunE; eliminates redundant loading in every RunE handler.
type CLIContext struct {
	Config  *config.Config
	Profile *model.SyncProfile
	Store   *store.Store
	Engine  *engine.Engine
	Logger  *slog.Logger
	JSON    bool
	Quiet   bool
}

type cliContextKey struct{}

// cliContextFrom extracts the CLIContext from the command's context.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable
// message. Use in RunE handlers for commands that require a resolved
// profile (no skipProfileAnnotation). A panic here is always a programmer
// error: the command tree guarantees PersistentPreRunE populated the
// context before RunE runs.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — command is missing " +
			skipProfileAnnotation + " or PersistentPreRunE did not run")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cratesync",
		Short:   "Reconcile two music-library directory trees",
		Long:    "cratesync mirrors or merges a local music library between a source and a target directory, reconciling changes on both sides and flagging anything it can't resolve on its own.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipProfileAnnotation] == "true" {
				return nil
			}

			return loadCLIContext(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cc := cliContextFrom(cmd.Context()); cc != nil && cc.Store != nil {
				return cc.Store.Close()
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "sync state database path")
	cmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "named sync profile to operate on")
	cmd.PersistentFlags().StringVar(&flagConflictStrategy, "conflict-strategy", "", "keep_source, keep_target, keep_both, or skip")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newDiffCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newProfileCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newDeviceCmd())

	return cmd
}

// loadCLIContext resolves config, the active profile, and the profile's
// backing store from the four-layer override chain, storing the result in
// the command's context for every RunE handler downstream.
func loadCLIContext(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	cli := config.CLIOverrides{
		ConfigPath:       flagConfigPath,
		DBPath:           flagDBPath,
		Profile:          flagProfile,
		ConflictStrategy: flagConflictStrategy,
	}

	if cmd.Flags().Changed("dry-run") {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		cli.DryRun = &dryRun
	}

	env := config.ReadEnvOverrides()

	logger.Debug("resolving profile",
		slog.String("config_path", cli.ConfigPath),
		slog.String("cli_profile", cli.Profile),
		slog.String("env_config", env.ConfigPath),
		slog.String("env_profile", env.Profile),
	)

	profile, cfg, err := config.LoadProfile(env, cli, logger)
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}

	finalLogger := buildLogger(cfg)

	dbPath := config.ResolveDBPath(env, cli, finalLogger)

	st, err := store.Open(cmd.Context(), dbPath, finalLogger)
	if err != nil {
		return fmt.Errorf("opening sync database: %w", err)
	}

	if _, err := ensureProfileRow(cmd.Context(), st, profile); err != nil {
		st.Close()
		return err
	}

	cc := &CLIContext{
		Config:  cfg,
		Profile: profile,
		Store:   st,
		Engine:  engine.New(engine.Config{Store: st, Logger: finalLogger}),
		Logger:  finalLogger,
		JSON:    flagJSON,
		Quiet:   flagQuiet,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// ensureProfileRow finds the store's persisted profile row matching the
// resolved profile's name, creating it on first use, and fills in its
// generated ID so the engine has a stable foreign key for baselines,
// the hash cache, and conflicts.
func ensureProfileRow(ctx context.Context, st *store.Store, profile *model.SyncProfile) (model.SyncProfile, error) {
	existing, err := st.GetProfile(ctx, profile.Name)
	if err == nil {
		profile.ID = existing.ID
		profile.LastSyncedAt = existing.LastSyncedAt
		return existing, nil
	}

	created, err := st.CreateProfile(ctx, *profile)
	if err != nil {
		return model.SyncProfile{}, fmt.Errorf("registering profile %q: %w", profile.Name, err)
	}

	profile.ID = created.ID

	return created, nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Pass nil for pre-config bootstrap (no config-file log level).
// Config-file log level provides the baseline; --verbose, --debug, and
// --quiet override it because CLI flags always win. The flags are mutually
// exclusive (enforced by Cobra).
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
