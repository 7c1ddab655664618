// Package conflict resolves DiffEntry records the diff engine could not
// reconcile automatically. Each resolution strategy turns one conflicting
// entry into zero or more ordinary, directional DiffEntry records the
// executor can apply with its normal atomic-write machinery — the executor
// itself never special-cases a conflict.
package conflict

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cratesync/cratesync/internal/model"
)

// Strategy is a user-selected (or per-profile default) conflict resolution.
type Strategy int

// The four conflict resolution strategies.
const (
	KeepSource Strategy = iota + 1
	KeepTarget
	KeepBoth
	Skip
)

// String renders the strategy for logs, the CLI, and the conflict ledger.
func (s Strategy) String() string {
	switch s {
	case KeepSource:
		return "keep_source"
	case KeepTarget:
		return "keep_target"
	case KeepBoth:
		return "keep_both"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// ParseStrategy parses a config/CLI strategy name (as produced by
// Strategy.String) back into a Strategy value.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "keep_source":
		return KeepSource, nil
	case "keep_target":
		return KeepTarget, nil
	case "keep_both":
		return KeepBoth, nil
	case "skip":
		return Skip, nil
	default:
		return 0, fmt.Errorf("conflict: unknown strategy name %q", name)
	}
}

// maxConflictSuffix bounds the numeric collision-avoidance suffix tried when
// generating a conflict path. Exceeding this many collisions in one target
// tree within the same second is implausible; the timestamp-only path is
// returned as a best-effort fallback.
const maxConflictSuffix = 1000

// Resolve turns a single conflicting DiffEntry into the actionable entries
// the executor should apply. entry.Action must be model.ActionConflict.
// targetRoot is consulted only by the KeepBoth strategy, to pick a conflict
// path that does not collide with an existing file and to rename the
// existing target file aside before it is overwritten. dryRun suppresses
// that rename, matching the executor's own dry-run contract of never
// touching the filesystem.
func Resolve(entry model.DiffEntry, strategy Strategy, targetRoot string, dryRun bool) ([]model.DiffEntry, error) {
	if entry.Action != model.ActionConflict {
		return nil, fmt.Errorf("conflict: Resolve called on non-conflict entry %q (action %s)", entry.RelativePath, entry.Action)
	}

	switch strategy {
	case KeepSource:
		return []model.DiffEntry{{
			RelativePath: entry.RelativePath,
			Action:       model.ActionUpdate,
			Direction:    model.SourceToTarget,
			Source:       entry.Source,
			Target:       entry.Target,
		}}, nil

	case KeepTarget:
		return []model.DiffEntry{{
			RelativePath: entry.RelativePath,
			Action:       model.ActionUpdate,
			Direction:    model.TargetToSource,
			Source:       entry.Source,
			Target:       entry.Target,
		}}, nil

	case KeepBoth:
		return resolveKeepBoth(entry, targetRoot, dryRun)

	case Skip:
		return nil, nil

	default:
		return nil, fmt.Errorf("conflict: unknown strategy %q", strategy)
	}
}

// resolveKeepBoth preserves both versions: the target's current copy is
// renamed aside to a timestamped conflict path before being overwritten with
// the source's version, then that renamed copy is mirrored back to the
// source under its new name. The rename happens here, eagerly, because the
// executor's copy actions always read and write the same relative path
// under different roots — it has no notion of "move this file aside first".
// Once the rename has happened, the two entries returned are ordinary,
// directional entries; nothing about them differs from a normal update or
// add, so the executor applies them with its regular atomic-write path.
func resolveKeepBoth(entry model.DiffEntry, targetRoot string, dryRun bool) ([]model.DiffEntry, error) {
	if !entry.Target.Known {
		// Nothing exists on the target side to preserve; a plain update
		// resolves this conflict with no copy to rename aside.
		return []model.DiffEntry{{
			RelativePath: entry.RelativePath,
			Action:       model.ActionUpdate,
			Direction:    model.SourceToTarget,
			Source:       entry.Source,
			Target:       entry.Target,
		}}, nil
	}

	conflictPath := generateConflictPath(targetRoot, entry.RelativePath)

	if !dryRun {
		oldPath := filepath.Join(targetRoot, entry.RelativePath)
		newPath := filepath.Join(targetRoot, conflictPath)

		if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
			return nil, fmt.Errorf("conflict: preparing conflict path %s: %w", conflictPath, err)
		}
		if err := os.Rename(oldPath, newPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("conflict: renaming %s aside to %s: %w", entry.RelativePath, conflictPath, err)
		}
	}

	return []model.DiffEntry{
		{
			RelativePath: entry.RelativePath,
			Action:       model.ActionUpdate,
			Direction:    model.SourceToTarget,
			Source:       entry.Source,
			Target:       entry.Target,
		},
		{
			RelativePath: conflictPath,
			Action:       model.ActionAdd,
			Direction:    model.TargetToSource,
			Target:       entry.Target,
		},
	}, nil
}

// generateConflictPath builds a relative conflict-copy path of the form
// "<stem>.conflict-<YYYYMMDD-HHMMSS><ext>", avoiding collisions with an
// existing file under targetRoot by trying a numeric suffix before falling
// back to the base candidate.
//
// Dotfiles such as ".bashrc" have no ext by filepath.Ext's usual rule
// (it would treat the whole name as the extension), so the suffix is
// appended to the full name instead of splitting at the leading dot.
func generateConflictPath(targetRoot, relPath string) string {
	stem, ext := conflictStemExt(relPath)
	ts := time.Now().UTC().Format("20060102-150405")

	base := stem + ".conflict-" + ts + ext
	if _, err := os.Stat(filepath.Join(targetRoot, base)); os.IsNotExist(err) {
		return filepath.ToSlash(base)
	}

	for i := 1; i <= maxConflictSuffix; i++ {
		candidate := fmt.Sprintf("%s.conflict-%s-%d%s", stem, ts, i, ext)
		if _, err := os.Stat(filepath.Join(targetRoot, candidate)); os.IsNotExist(err) {
			return filepath.ToSlash(candidate)
		}
	}

	return filepath.ToSlash(base)
}

// conflictStemExt splits relPath into a (stem, ext) pair suitable for
// conflict-path generation, treating a leading-dot-only dotfile as having
// no extension.
func conflictStemExt(relPath string) (stem, ext string) {
	dir, base := filepath.Split(relPath)

	if strings.HasPrefix(base, ".") && strings.Count(base, ".") == 1 {
		return dir + base, ""
	}

	ext = filepath.Ext(base)
	stem = dir + strings.TrimSuffix(base, ext)

	return stem, ext
}
