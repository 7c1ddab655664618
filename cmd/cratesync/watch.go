package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/cratesync/cratesync/internal/cancel"
	"github.com/cratesync/cratesync/internal/conflict"
	"github.com/cratesync/cratesync/internal/config"
	"github.com/cratesync/cratesync/internal/engine"
)

// watchDebounce coalesces a filesystem burst (e.g. an album copy touching
// hundreds of files) into a single sync cycle instead of one per event.
const watchDebounce = 2 * time.Second

func newWatchCmd() *cobra.Command {
	var flagPIDFile string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run sync cycles triggered by filesystem events",
		Long: `Watch the profile's source and target trees and trigger a full,
independent sync cycle whenever either side changes. This is not real-time
replication: every trigger runs the ordinary sync path end to end — walk,
diff, resolve, execute, rebaseline — there is no partial or streaming sync.

Use 'cratesync --profile <name> resolve --strategy <s> --all' from another
terminal to unblock conflicts the watcher leaves recorded; sending SIGHUP to
the watcher's PID (see --pid-file) forces an immediate extra cycle.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, flagPIDFile)
		},
	}

	cmd.Flags().StringVar(&flagPIDFile, "pid-file", "", "PID file path for single-instance locking (defaults under the data directory)")

	return cmd
}

func runWatch(cmd *cobra.Command, pidFile string) error {
	cc := mustCLIContext(cmd.Context())

	if pidFile == "" {
		pidFile = filepath.Join(config.DefaultDataDir(), "cratesync-watch-"+cc.Profile.Name+".pid")
	}

	cleanup, err := writePIDFile(pidFile)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := addWatchTree(watcher, cc.Profile.SourcePath); err != nil {
		return err
	}

	if err := addWatchTree(watcher, cc.Profile.TargetPath); err != nil {
		return err
	}

	entry := cc.Config.Profiles[cc.Profile.Name]
	strategyName := config.ResolveConflictStrategy(cc.Config, entry, config.CLIOverrides{ConflictStrategy: flagConflictStrategy})

	strategy, err := conflict.ParseStrategy(strategyName)
	if err != nil {
		return fmt.Errorf("resolving conflict strategy: %w", err)
	}

	algo, err := parseAlgorithm(cc.Config.Hashing.Algorithm)
	if err != nil {
		return err
	}

	statusf(cc.Quiet, "Watching %s and %s for changes (profile %q)\n", cc.Profile.SourcePath, cc.Profile.TargetPath, cc.Profile.Name)

	return watchLoop(ctx, cc, watcher, engine.RunOptions{Algorithm: algo, ConflictStrategy: strategy})
}

// addWatchTree registers every directory under root with the watcher.
// fsnotify watches are non-recursive, so every discovered subdirectory needs
// its own Add call.
func addWatchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		return watcher.Add(path)
	})
}

// watchLoop debounces fsnotify events and triggers one complete, independent
// engine.RunOnce per settled burst until ctx is cancelled.
func watchLoop(ctx context.Context, cc *CLIContext, watcher *fsnotify.Watcher, opts engine.RunOptions) error {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			cc.Logger.Warn("watch: fsnotify error", slog.String("error", err.Error()))

		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			timer.Reset(watchDebounce)

		case <-timer.C:
			runWatchCycle(ctx, cc, opts)

		case <-hup:
			runWatchCycle(ctx, cc, opts)
		}
	}
}

// runWatchCycle runs one sync cycle, logging rather than aborting the
// watcher on failure — a single bad cycle shouldn't kill the daemon.
func runWatchCycle(ctx context.Context, cc *CLIContext, opts engine.RunOptions) {
	cycleOpts := opts
	cycleOpts.Cancel = cancel.New()

	report, err := cc.Engine.RunOnce(ctx, *cc.Profile, cycleOpts)
	if err != nil {
		cc.Logger.Error("watch: sync cycle failed", slog.String("error", err.Error()))
		return
	}

	cc.Logger.Info("watch: sync cycle complete",
		slog.Int("added", report.Diff.TotalAdd),
		slog.Int("updated", report.Diff.TotalUpdate),
		slog.Int("removed", report.Diff.TotalRemove),
		slog.Int("conflicts", report.ConflictsRecorded),
	)
}
