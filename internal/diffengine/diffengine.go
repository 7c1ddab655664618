// Package diffengine reconciles the observed state of two sides (or, for
// device diffs, a catalog and a cache) into an ordered set of decisions: add,
// remove, update, leave unchanged, or flag a conflict for manual resolution.
//
// Size and modification time are used as a cheap pre-check: when both match
// a known baseline, a path is assumed unchanged without touching its
// content. Otherwise the engine falls back to a content hash, the only
// authoritative equivalence check, before deciding a path actually changed.
package diffengine

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cratesync/cratesync/internal/cancel"
	"github.com/cratesync/cratesync/internal/hashutil"
	"github.com/cratesync/cratesync/internal/model"
	"github.com/cratesync/cratesync/internal/walk"
)

// maxConcurrentHashWorkers bounds how many files TwoWayDiff hashes at once
// during its up-front hashing phase. Unbounded concurrency against a large
// tree can exhaust file descriptors or saturate disk I/O with no benefit
// once the drive's queue depth is already full.
const maxConcurrentHashWorkers = 8

// Options configures a diff run.
type Options struct {
	Algorithm hashutil.Algorithm
	Cancel    *cancel.Token
}

func (o Options) algorithm() hashutil.Algorithm {
	if o.Algorithm == "" {
		return hashutil.DefaultAlgorithm
	}
	return o.Algorithm
}

// sortEntries orders a diff result's entries ascending by relative path, the
// order the executor and every downstream report rely on. Map iteration
// elsewhere in this package is unordered, so every diff entry point sorts
// once before returning rather than relying on callers to do it.
func sortEntries(entries []model.DiffEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RelativePath < entries[j].RelativePath
	})
}

func entriesByPath(entries []walk.Entry) map[string]walk.Entry {
	m := make(map[string]walk.Entry, len(entries))
	for _, e := range entries {
		m[e.RelativePath] = e
	}
	return m
}

// fingerprintMatches reports whether an observed (size, mtime) pair matches
// a baseline's recorded (size, mtime) for one side, without touching content.
func fingerprintMatches(size uint64, modifiedAt int64, baseSize uint64, baseModifiedAt int64) bool {
	return size == baseSize && modifiedAt == baseModifiedAt
}

// OneWayDiff computes the decisions needed to make targetRoot an exact
// mirror of sourceRoot: every path present only in source is added, every
// path present only in target is removed, and every path present in both
// with differing content is updated. One-way diffs never produce conflicts;
// the source always wins.
func OneWayDiff(sourceRoot string, sourceEntries []walk.Entry, targetRoot string, targetEntries []walk.Entry, opts Options) (model.DiffResult, error) {
	algo := opts.algorithm()
	source := entriesByPath(sourceEntries)
	target := entriesByPath(targetEntries)

	result := model.DiffResult{}

	for relPath, s := range source {
		if opts.Cancel != nil && opts.Cancel.Cancelled() {
			break
		}

		t, inTarget := target[relPath]
		if !inTarget {
			entry := model.DiffEntry{
				RelativePath: relPath,
				Action:       model.ActionAdd,
				Direction:    model.SourceToTarget,
				Source:       model.SideObservation{Known: true, Size: s.Size, ModifiedAt: s.ModifiedAt},
			}
			result.Entries = append(result.Entries, entry)
			result.TotalAdd++
			result.BytesToTransfer += s.Size
			continue
		}

		if s.Size == t.Size && s.ModifiedAt == t.ModifiedAt {
			result.Entries = append(result.Entries, model.DiffEntry{
				RelativePath: relPath,
				Action:       model.ActionUnchanged,
				Source:       model.SideObservation{Known: true, Size: s.Size, ModifiedAt: s.ModifiedAt},
				Target:       model.SideObservation{Known: true, Size: t.Size, ModifiedAt: t.ModifiedAt},
			})
			result.TotalUnchanged++
			continue
		}

		sourceHash, err := hashutil.HashFile(filepath.Join(sourceRoot, relPath), algo)
		if err != nil {
			return result, fmt.Errorf("diffengine: hashing source %s: %w", relPath, err)
		}
		targetHash, err := hashutil.HashFile(filepath.Join(targetRoot, relPath), algo)
		if err != nil {
			return result, fmt.Errorf("diffengine: hashing target %s: %w", relPath, err)
		}

		if hashutil.Equal(sourceHash, targetHash) {
			result.Entries = append(result.Entries, model.DiffEntry{
				RelativePath: relPath,
				Action:       model.ActionUnchanged,
				Source:       model.SideObservation{Known: true, Size: s.Size, Hash: sourceHash, ModifiedAt: s.ModifiedAt},
				Target:       model.SideObservation{Known: true, Size: t.Size, Hash: targetHash, ModifiedAt: t.ModifiedAt},
			})
			result.TotalUnchanged++
			continue
		}

		result.Entries = append(result.Entries, model.DiffEntry{
			RelativePath: relPath,
			Action:       model.ActionUpdate,
			Direction:    model.SourceToTarget,
			Source:       model.SideObservation{Known: true, Size: s.Size, Hash: sourceHash, ModifiedAt: s.ModifiedAt},
			Target:       model.SideObservation{Known: true, Size: t.Size, Hash: targetHash, ModifiedAt: t.ModifiedAt},
		})
		result.TotalUpdate++
		result.BytesToTransfer += s.Size
	}

	for relPath, t := range target {
		if opts.Cancel != nil && opts.Cancel.Cancelled() {
			break
		}
		if _, inSource := source[relPath]; inSource {
			continue
		}
		result.Entries = append(result.Entries, model.DiffEntry{
			RelativePath: relPath,
			Action:       model.ActionRemove,
			Direction:    model.SourceToTarget,
			Target:       model.SideObservation{Known: true, Size: t.Size, ModifiedAt: t.ModifiedAt},
		})
		result.TotalRemove++
	}

	sortEntries(result.Entries)

	return result, nil
}

// TwoWayDiff reconciles independent changes on both sides against the last
// known baseline, using the three-way merge decision table: a path changed
// on only one side propagates in that direction; a path changed identically
// on both sides (same resulting hash) is a false conflict resolved silently;
// a path changed differently on both sides is a true conflict requiring
// manual resolution; a path deleted on one side while modified on the other
// is a delete-edit conflict.
func TwoWayDiff(sourceRoot string, sourceEntries []walk.Entry, targetRoot string, targetEntries []walk.Entry, baselines map[string]model.FileBaseline, opts Options) (model.DiffResult, error) {
	algo := opts.algorithm()
	source := entriesByPath(sourceEntries)
	target := entriesByPath(targetEntries)

	paths := make(map[string]struct{}, len(source)+len(target)+len(baselines))
	for p := range source {
		paths[p] = struct{}{}
	}
	for p := range target {
		paths[p] = struct{}{}
	}
	for p := range baselines {
		paths[p] = struct{}{}
	}

	hashes, err := precomputeHashes(sourceRoot, targetRoot, source, target, baselines, algo)
	if err != nil {
		return model.DiffResult{}, err
	}

	result := model.DiffResult{}

	for relPath := range paths {
		if opts.Cancel != nil && opts.Cancel.Cancelled() {
			break
		}

		s, hasSource := source[relPath]
		t, hasTarget := target[relPath]
		base, hasBaseline := baselines[relPath]

		entry, conflictType, err := reconcilePath(relPath, s, hasSource, t, hasTarget, base, hasBaseline, hashes)
		if err != nil {
			return result, err
		}
		if entry.Action == model.ActionUnchanged && !hasSource && !hasTarget {
			continue // absent from both sides; nothing to report
		}

		result.Entries = append(result.Entries, entry)
		tally(&result, entry)

		if entry.Action == model.ActionConflict {
			result.Conflicts = append(result.Conflicts, model.Conflict{
				RelativePath: relPath,
				ConflictType: conflictType,
				Source:       entry.Source,
				Target:       entry.Target,
			})
		}
	}

	sortEntries(result.Entries)
	sort.Slice(result.Conflicts, func(i, j int) bool {
		return result.Conflicts[i].RelativePath < result.Conflicts[j].RelativePath
	})

	return result, nil
}

// precomputeHashes hashes, with bounded concurrency, every (side, path) pair
// whose fingerprint doesn't already prove equivalence with the baseline —
// two-way reconciliation hashes both sides up front rather than interleaving
// one file's hash at a time with the rest of the decision table.
func precomputeHashes(sourceRoot, targetRoot string, source, target map[string]walk.Entry, baselines map[string]model.FileBaseline, algo hashutil.Algorithm) (map[string]string, error) {
	type job struct{ root, relPath, key string }

	var jobs []job

	for relPath, e := range source {
		base := baselines[relPath]
		if !(base.SourceKnown && fingerprintMatches(e.Size, e.ModifiedAt, base.SourceSize, base.SourceModified)) {
			jobs = append(jobs, job{sourceRoot, relPath, hashKey("source", relPath)})
		}
	}

	for relPath, e := range target {
		base := baselines[relPath]
		if !(base.TargetKnown && fingerprintMatches(e.Size, e.ModifiedAt, base.TargetSize, base.TargetModified)) {
			jobs = append(jobs, job{targetRoot, relPath, hashKey("target", relPath)})
		}
	}

	hashes := make(map[string]string, len(jobs))

	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentHashWorkers)

	for _, j := range jobs {
		g.Go(func() error {
			hash, err := hashutil.HashFile(filepath.Join(j.root, j.relPath), algo)
			if err != nil {
				return fmt.Errorf("diffengine: hashing %s: %w", j.relPath, err)
			}

			mu.Lock()
			hashes[j.key] = hash
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return hashes, nil
}

func hashKey(side, relPath string) string {
	return side + ":" + relPath
}

func tally(result *model.DiffResult, entry model.DiffEntry) {
	switch entry.Action {
	case model.ActionAdd:
		result.TotalAdd++
		result.BytesToTransfer += maxUint64(entry.Source.Size, entry.Target.Size)
	case model.ActionRemove:
		result.TotalRemove++
	case model.ActionUpdate:
		result.TotalUpdate++
		result.BytesToTransfer += maxUint64(entry.Source.Size, entry.Target.Size)
	case model.ActionConflict:
		result.TotalConflict++
	case model.ActionUnchanged:
		result.TotalUnchanged++
	}
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// reconcilePath implements the per-path decision table for TwoWayDiff.
func reconcilePath(
	relPath string,
	s walk.Entry, hasSource bool,
	t walk.Entry, hasTarget bool,
	base model.FileBaseline, hasBaseline bool,
	hashes map[string]string,
) (model.DiffEntry, model.ConflictType, error) {
	sourceObs, err := observe(relPath, "source", s, hasSource, base.SourceSize, base.SourceModified, base.SourceHash, base.SourceKnown, hashes)
	if err != nil {
		return model.DiffEntry{}, 0, fmt.Errorf("diffengine: observing source %s: %w", relPath, err)
	}
	targetObs, err := observe(relPath, "target", t, hasTarget, base.TargetSize, base.TargetModified, base.TargetHash, base.TargetKnown, hashes)
	if err != nil {
		return model.DiffEntry{}, 0, fmt.Errorf("diffengine: observing target %s: %w", relPath, err)
	}

	sourceChanged := hasChanged(sourceObs, base.SourceKnown, base.SourceHash)
	targetChanged := hasChanged(targetObs, base.TargetKnown, base.TargetHash)

	entry := model.DiffEntry{RelativePath: relPath, Source: sourceObs, Target: targetObs}

	// Deletions: baseline knew this side existed, it no longer does.
	sourceDeleted := hasBaseline && base.SourceKnown && !hasSource
	targetDeleted := hasBaseline && base.TargetKnown && !hasTarget

	switch {
	case sourceDeleted && targetDeleted:
		// Gone from both sides since the baseline: nothing left to reconcile.
		entry.Action = model.ActionUnchanged
		return entry, 0, nil

	case sourceDeleted && !targetChanged:
		// Source's absence propagates to target: target is removed to match.
		entry.Action = model.ActionRemove
		entry.Direction = model.SourceToTarget
		return entry, 0, nil

	case sourceDeleted && targetChanged:
		entry.Action = model.ActionConflict
		return entry, model.ConflictDeletedAndModified, nil

	case targetDeleted && !sourceChanged:
		// Target's absence propagates to source: source is removed to match.
		entry.Action = model.ActionRemove
		entry.Direction = model.TargetToSource
		return entry, 0, nil

	case targetDeleted && sourceChanged:
		entry.Action = model.ActionConflict
		return entry, model.ConflictDeletedAndModified, nil
	}

	switch {
	case !hasSource && !hasTarget:
		entry.Action = model.ActionUnchanged
		return entry, 0, nil

	case hasSource && !hasTarget && !hasBaseline:
		entry.Action = model.ActionAdd
		entry.Direction = model.SourceToTarget
		return entry, 0, nil

	case !hasSource && hasTarget && !hasBaseline:
		entry.Action = model.ActionAdd
		entry.Direction = model.TargetToSource
		return entry, 0, nil

	case !sourceChanged && !targetChanged:
		entry.Action = model.ActionUnchanged
		return entry, 0, nil

	case sourceChanged && !targetChanged:
		entry.Action = model.ActionUpdate
		entry.Direction = model.SourceToTarget
		return entry, 0, nil

	case !sourceChanged && targetChanged:
		entry.Action = model.ActionUpdate
		entry.Direction = model.TargetToSource
		return entry, 0, nil

	default: // both changed
		if hashutil.Equal(sourceObs.Hash, targetObs.Hash) {
			entry.Action = model.ActionUnchanged
			return entry, 0, nil
		}
		entry.Action = model.ActionConflict
		if !hasBaseline {
			return entry, model.ConflictFirstSyncDiffers, nil
		}
		return entry, model.ConflictBothModified, nil
	}
}

// observe builds a SideObservation for one side of one path, consulting the
// pre-hashed map only when the fingerprint does not already prove
// equivalence with the baseline.
func observe(relPath, side string, e walk.Entry, present bool, baseSize uint64, baseModifiedAt int64, baseHash string, baseKnown bool, hashes map[string]string) (model.SideObservation, error) {
	if !present {
		return model.SideObservation{}, nil
	}

	obs := model.SideObservation{Known: true, Size: e.Size, ModifiedAt: e.ModifiedAt}

	if baseKnown && fingerprintMatches(e.Size, e.ModifiedAt, baseSize, baseModifiedAt) {
		obs.Hash = baseHash
		return obs, nil
	}

	hash, ok := hashes[hashKey(side, relPath)]
	if !ok {
		return model.SideObservation{}, fmt.Errorf("missing precomputed hash for %s:%s", side, relPath)
	}

	obs.Hash = hash

	return obs, nil
}

// hasChanged reports whether an observation differs from the baseline's
// recorded hash for its side. A side with no prior baseline knowledge that
// is now present counts as changed (new content).
func hasChanged(obs model.SideObservation, baseKnown bool, baseHash string) bool {
	if !obs.Known {
		return baseKnown // was known, now gone: caller handles via *Deleted branches
	}
	if !baseKnown {
		return true
	}
	return !hashutil.Equal(obs.Hash, baseHash)
}

// DeviceDiff compares a catalog of tracks against the last known per-path
// content hashes observed on a device, without touching the filesystem: the
// catalog already carries each track's hash, and the cache already carries
// each cached path's hash. A path in the catalog but not the cache is an
// add; a path in the cache but not the catalog is a remove; a path in both
// with differing hashes is an update.
// DeviceDiff's second return value is the new hash cache: every device-side
// path the catalog observed, keyed and valued from the catalog itself, ready
// to replace the cache passed in. Paths being removed are naturally excluded
// because the new cache is built entirely from the catalog loop.
func DeviceDiff(tracks []model.Track, cache map[string]model.CachedFileHash, opts Options) (model.DiffResult, map[string]model.CachedFileHash) {
	result := model.DiffResult{}

	catalogByPath := make(map[string]model.Track, len(tracks))
	for _, tr := range tracks {
		catalogByPath[tr.RelativePath] = tr
	}

	newCache := make(map[string]model.CachedFileHash, len(catalogByPath))

	for relPath, tr := range catalogByPath {
		if opts.Cancel != nil && opts.Cancel.Cancelled() {
			break
		}

		newCache[relPath] = model.CachedFileHash{
			RelativePath: relPath,
			Hash:         tr.Hash,
			FileSize:     tr.FileSize,
			ModifiedAt:   tr.ModifiedAt,
		}

		cached, inCache := cache[relPath]
		sourceObs := model.SideObservation{Known: true, Size: tr.FileSize, Hash: tr.Hash, ModifiedAt: tr.ModifiedAt}

		if !inCache {
			result.Entries = append(result.Entries, model.DiffEntry{
				RelativePath: relPath, Action: model.ActionAdd, Direction: model.SourceToTarget, Source: sourceObs,
			})
			result.TotalAdd++
			result.BytesToTransfer += tr.FileSize
			continue
		}

		targetObs := model.SideObservation{Known: true, Size: cached.FileSize, Hash: cached.Hash, ModifiedAt: cached.ModifiedAt}

		if hashutil.Equal(tr.Hash, cached.Hash) {
			result.Entries = append(result.Entries, model.DiffEntry{
				RelativePath: relPath, Action: model.ActionUnchanged, Source: sourceObs, Target: targetObs,
			})
			result.TotalUnchanged++
			continue
		}

		result.Entries = append(result.Entries, model.DiffEntry{
			RelativePath: relPath, Action: model.ActionUpdate, Direction: model.SourceToTarget, Source: sourceObs, Target: targetObs,
		})
		result.TotalUpdate++
		result.BytesToTransfer += tr.FileSize
	}

	for relPath, cached := range cache {
		if opts.Cancel != nil && opts.Cancel.Cancelled() {
			break
		}
		if _, inCatalog := catalogByPath[relPath]; inCatalog {
			continue
		}
		result.Entries = append(result.Entries, model.DiffEntry{
			RelativePath: relPath, Action: model.ActionRemove, Direction: model.SourceToTarget,
			Target: model.SideObservation{Known: true, Size: cached.FileSize, Hash: cached.Hash, ModifiedAt: cached.ModifiedAt},
		})
		result.TotalRemove++
	}

	sortEntries(result.Entries)

	return result, newCache
}
