// Package engine orchestrates a complete sync cycle: walk both trees, diff
// them against the persisted baseline, resolve conflicts, execute the
// resulting actions, and regenerate the baseline from what actually landed
// on disk.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cratesync/cratesync/internal/cancel"
	"github.com/cratesync/cratesync/internal/conflict"
	"github.com/cratesync/cratesync/internal/diffengine"
	"github.com/cratesync/cratesync/internal/executor"
	"github.com/cratesync/cratesync/internal/hashutil"
	"github.com/cratesync/cratesync/internal/model"
	"github.com/cratesync/cratesync/internal/progress"
	"github.com/cratesync/cratesync/internal/store"
	"github.com/cratesync/cratesync/internal/syncerr"
	"github.com/cratesync/cratesync/internal/walk"
)

// Config holds the dependencies an Engine needs. Uses a struct because
// three fields is already one more than fits comfortably as positional
// parameters, and more will likely join it.
type Config struct {
	Store    *store.Store
	Logger   *slog.Logger
	Progress progress.Sink
}

// RunOptions holds per-cycle options for RunOnce.
type RunOptions struct {
	DryRun           bool
	Algorithm        hashutil.Algorithm
	ConflictStrategy conflict.Strategy
	Cancel           *cancel.Token
}

// Report summarizes the result of a single sync cycle.
type Report struct {
	Profile           model.SyncProfile
	Diff              model.DiffResult
	Execution         *executor.Report
	ConflictsRecorded int
	DryRun            bool
	Duration          time.Duration
}

// Engine ties the diff engine, conflict resolver, executor, and baseline
// store together into one reconciliation cycle.
type Engine struct {
	store    *store.Store
	logger   *slog.Logger
	progress progress.Sink
}

// New creates an Engine from cfg, defaulting Logger and Progress the same
// way the executor does: a discard logger and a no-op sink rather than nil
// checks scattered through the run loop.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sink := cfg.Progress
	if sink == nil {
		sink = progress.Discard{}
	}

	return &Engine{store: cfg.Store, logger: logger, progress: sink}
}

// RunOnce executes a single sync cycle for profile:
//  1. walk both trees
//  2. diff them (one-way mirror, or three-way merge against the baseline)
//  3. resolve conflicts, recording every one in the conflict ledger (not in dry-run)
//  4. execute the resulting actions (skipped entirely in dry-run)
//  5. regenerate the baseline from what was actually written
func (e *Engine) RunOnce(ctx context.Context, profile model.SyncProfile, opts RunOptions) (*Report, error) {
	start := time.Now()

	e.logger.Info("sync cycle starting",
		slog.String("profile", profile.Name),
		slog.String("mode", string(profile.SyncMode)),
		slog.Bool("dry_run", opts.DryRun),
	)

	walkOpts := walk.Options{
		ExcludePatterns: profile.ExcludePatterns,
		Progress:        e.progress,
		Cancel:          opts.Cancel,
	}

	sourceEntries, err := walk.Walk(profile.SourcePath, walkOpts)
	if err != nil {
		return nil, fmt.Errorf("engine: walking source: %w", err)
	}

	targetEntries, err := walk.Walk(profile.TargetPath, walkOpts)
	if err != nil {
		return nil, fmt.Errorf("engine: walking target: %w", err)
	}

	diffOpts := diffengine.Options{Algorithm: opts.Algorithm, Cancel: opts.Cancel}

	diff, err := e.computeDiff(ctx, profile, sourceEntries, targetEntries, diffOpts)
	if err != nil {
		return nil, err
	}

	actionable, conflictsRecorded, err := e.resolveConflicts(ctx, profile, diff, opts)
	if err != nil {
		return nil, err
	}

	report := &Report{Profile: profile, Diff: diff, ConflictsRecorded: conflictsRecorded, DryRun: opts.DryRun}

	if opts.DryRun {
		report.Duration = time.Since(start)
		e.logger.Info("dry-run complete: no changes applied", slog.Duration("duration", report.Duration))

		return report, nil
	}

	exec := executor.New(profile.SourcePath, profile.TargetPath, executor.Options{
		Algorithm: opts.Algorithm,
		Progress:  e.progress,
		Cancel:    opts.Cancel,
		Logger:    e.logger,
	})

	execReport, execErr := exec.Execute(actionable)
	report.Execution = execReport
	report.Duration = time.Since(start)

	if errors.Is(execErr, syncerr.ErrSyncCancelled) {
		e.logger.Info("sync cycle cancelled",
			slog.Duration("duration", report.Duration),
			slog.Int("succeeded", execReport.Succeeded),
		)
		return report, syncerr.ErrSyncCancelled
	}
	if execErr != nil {
		return report, fmt.Errorf("engine: executing actions: %w", execErr)
	}

	if profile.SyncMode == model.SyncModeTwoWay {
		if err := e.regenerateBaseline(ctx, profile.ID, actionable, execReport); err != nil {
			return report, fmt.Errorf("engine: regenerating baseline: %w", err)
		}
	}

	if err := e.store.TouchLastSyncedAt(ctx, profile.ID, time.Now().Unix()); err != nil {
		e.logger.Warn("failed to record last sync time", slog.String("error", err.Error()))
	}

	e.logger.Info("sync cycle complete",
		slog.Duration("duration", report.Duration),
		slog.Int("succeeded", execReport.Succeeded),
		slog.Int("failed", execReport.Failed),
	)

	return report, nil
}

func (e *Engine) computeDiff(
	ctx context.Context, profile model.SyncProfile, sourceEntries, targetEntries []walk.Entry, opts diffengine.Options,
) (model.DiffResult, error) {
	if profile.SyncMode != model.SyncModeTwoWay {
		return diffengine.OneWayDiff(profile.SourcePath, sourceEntries, profile.TargetPath, targetEntries, opts)
	}

	baseline, err := e.store.LoadBaseline(ctx, profile.ID)
	if err != nil {
		return model.DiffResult{}, fmt.Errorf("engine: loading baseline: %w", err)
	}

	return diffengine.TwoWayDiff(profile.SourcePath, sourceEntries, profile.TargetPath, targetEntries, baseline, opts)
}

// resolveConflicts records every conflict entry in the ledger (a dry run
// records nothing) and, for
// every one the configured strategy resolves automatically, folds the
// resulting actions back into the actionable list alongside the
// non-conflicting entries.
func (e *Engine) resolveConflicts(
	ctx context.Context, profile model.SyncProfile, diff model.DiffResult, opts RunOptions,
) ([]model.DiffEntry, int, error) {
	var actionable []model.DiffEntry

	conflictsRecorded := 0

	conflictsByPath := make(map[string]model.Conflict, len(diff.Conflicts))
	for _, c := range diff.Conflicts {
		conflictsByPath[c.RelativePath] = c
	}

	for _, entry := range diff.Entries {
		if entry.Action == model.ActionUnchanged {
			continue
		}

		if entry.Action != model.ActionConflict {
			actionable = append(actionable, entry)
			continue
		}

		conflictsRecorded++

		c, ok := conflictsByPath[entry.RelativePath]
		if !ok {
			// Should not happen: TwoWayDiff always pairs a conflict action
			// with a Conflict record. Fall back to the least specific type
			// rather than failing the whole cycle over a ledger annotation.
			c = model.Conflict{RelativePath: entry.RelativePath, ConflictType: model.ConflictBothModified, Source: entry.Source, Target: entry.Target}
		}

		var rec store.ConflictRecord

		if !opts.DryRun {
			var err error

			rec, err = e.store.InsertConflict(ctx, profile.ID, c)
			if err != nil {
				return nil, 0, fmt.Errorf("engine: recording conflict for %s: %w", entry.RelativePath, err)
			}
		}

		resolved, err := conflict.Resolve(entry, opts.ConflictStrategy, profile.TargetPath, opts.DryRun)
		if err != nil {
			return nil, 0, fmt.Errorf("engine: resolving conflict for %s: %w", entry.RelativePath, err)
		}

		if len(resolved) == 0 {
			// Skip: left unresolved in the ledger for a later `cratesync resolve`.
			continue
		}

		actionable = append(actionable, resolved...)

		if opts.DryRun {
			continue
		}

		if err := e.store.ResolveConflict(ctx, rec.ID, opts.ConflictStrategy.String(), "auto"); err != nil {
			return nil, 0, fmt.Errorf("engine: marking conflict %s resolved: %w", rec.ID, err)
		}
	}

	return actionable, conflictsRecorded, nil
}

// regenerateBaseline derives a new baseline entry for every successfully
// applied add/update and deletes the baseline row for every successfully
// applied removal, so the next cycle's diff starts from what is actually on
// disk rather than stale pre-sync state.
func (e *Engine) regenerateBaseline(ctx context.Context, profileID string, entries []model.DiffEntry, execReport *executor.Report) error {
	outcomeByPath := make(map[string]executor.Outcome, len(execReport.Outcomes))
	for _, o := range execReport.Outcomes {
		outcomeByPath[o.RelativePath] = o
	}

	for _, entry := range entries {
		outcome, ok := outcomeByPath[entry.RelativePath]
		if !ok || !outcome.Success {
			continue
		}

		switch entry.Action {
		case model.ActionRemove:
			if err := e.store.DeleteBaseline(ctx, profileID, entry.RelativePath); err != nil {
				return err
			}
		case model.ActionAdd, model.ActionUpdate:
			if err := e.store.PutBaseline(ctx, profileID, baselineAfterSync(entry, outcome)); err != nil {
				return err
			}
		}
	}

	return nil
}

// baselineAfterSync builds the post-sync baseline entry for a mirrored
// path: the side that already held the file keeps its known observation,
// and the side the executor just wrote takes the hash and byte count the
// copy actually produced.
func baselineAfterSync(entry model.DiffEntry, outcome executor.Outcome) model.FileBaseline {
	b := model.FileBaseline{RelativePath: entry.RelativePath}

	switch entry.Direction {
	case model.SourceToTarget:
		b.SourceKnown = true
		b.SourceHash = entry.Source.Hash
		b.SourceSize = entry.Source.Size
		b.SourceModified = entry.Source.ModifiedAt

		b.TargetKnown = true
		b.TargetHash = outcome.Hash
		b.TargetSize = outcome.BytesWritten
		b.TargetModified = entry.Source.ModifiedAt
	case model.TargetToSource:
		b.TargetKnown = true
		b.TargetHash = entry.Target.Hash
		b.TargetSize = entry.Target.Size
		b.TargetModified = entry.Target.ModifiedAt

		b.SourceKnown = true
		b.SourceHash = outcome.Hash
		b.SourceSize = outcome.BytesWritten
		b.SourceModified = entry.Target.ModifiedAt
	}

	return b
}

// RunDeviceDiff computes a diff between a precomputed track list (read off
// a device that exposes no live filesystem walk, e.g. a locked-down MTP
// player) and the cached hashes recorded for that device on a prior run. On
// success (and unless opts.DryRun is set) it persists the new cache
// DeviceDiff produced, so the next device diff benefits from it: every path
// the catalog now covers is upserted, and every path the old cache held but
// the catalog no longer does is purged.
func (e *Engine) RunDeviceDiff(ctx context.Context, profile model.SyncProfile, tracks []model.Track, opts RunOptions) (model.DiffResult, error) {
	cache, err := e.store.LoadHashCache(ctx, profile.ID)
	if err != nil {
		return model.DiffResult{}, fmt.Errorf("engine: loading hash cache: %w", err)
	}

	diff, newCache := diffengine.DeviceDiff(tracks, cache, diffengine.Options{Algorithm: opts.Algorithm, Cancel: opts.Cancel})

	if opts.DryRun {
		return diff, nil
	}

	for relPath, entry := range newCache {
		if err := e.store.PutHashCacheEntry(ctx, profile.ID, entry); err != nil {
			return diff, fmt.Errorf("engine: updating hash cache entry for %s: %w", relPath, err)
		}
	}

	for relPath := range cache {
		if _, stillPresent := newCache[relPath]; stillPresent {
			continue
		}
		if err := e.store.DeleteHashCacheEntry(ctx, profile.ID, relPath); err != nil {
			return diff, fmt.Errorf("engine: purging hash cache entry for %s: %w", relPath, err)
		}
	}

	return diff, nil
}

// ListUnresolvedConflicts returns every open conflict recorded for profileID.
func (e *Engine) ListUnresolvedConflicts(ctx context.Context, profileID string) ([]store.ConflictRecord, error) {
	return e.store.ListUnresolvedConflicts(ctx, profileID)
}

// ListAllConflicts returns every conflict, resolved or not, recorded for profileID.
func (e *Engine) ListAllConflicts(ctx context.Context, profileID string) ([]store.ConflictRecord, error) {
	return e.store.ListAllConflicts(ctx, profileID)
}

// ResolveConflictManually re-resolves a previously recorded, still-open
// conflict with an explicit strategy — the path `cratesync resolve`
// takes, as opposed to the strategy a sync cycle applies
// automatically.
func (e *Engine) ResolveConflictManually(ctx context.Context, profile model.SyncProfile, conflictID string, strategy conflict.Strategy) error {
	rec, err := e.store.GetConflict(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("engine: loading conflict %s: %w", conflictID, err)
	}

	entry := model.DiffEntry{
		RelativePath: rec.RelativePath,
		Action:       model.ActionConflict,
		Source:       model.SideObservation{Known: rec.SourceHash != "", Hash: rec.SourceHash, ModifiedAt: rec.SourceMtime},
		Target:       model.SideObservation{Known: rec.TargetHash != "", Hash: rec.TargetHash, ModifiedAt: rec.TargetMtime},
	}

	actionable, err := conflict.Resolve(entry, strategy, profile.TargetPath, false)
	if err != nil {
		return fmt.Errorf("engine: resolving conflict %s: %w", conflictID, err)
	}

	if len(actionable) == 0 {
		return e.store.ResolveConflict(ctx, rec.ID, strategy.String(), "cli")
	}

	exec := executor.New(profile.SourcePath, profile.TargetPath, executor.Options{Logger: e.logger, Progress: e.progress})

	execReport, err := exec.Execute(actionable)
	if err != nil {
		return fmt.Errorf("engine: resolving conflict %s: %w", conflictID, err)
	}
	if execReport.Failed > 0 {
		return fmt.Errorf("engine: resolving conflict %s: %d of %d actions failed", conflictID, execReport.Failed, len(actionable))
	}

	if err := e.regenerateBaseline(ctx, profile.ID, actionable, execReport); err != nil {
		return fmt.Errorf("engine: regenerating baseline after manual resolve: %w", err)
	}

	return e.store.ResolveConflict(ctx, rec.ID, strategy.String(), "cli")
}
