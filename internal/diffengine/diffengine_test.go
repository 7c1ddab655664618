package diffengine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cratesync/cratesync/internal/hashutil"
	"github.com/cratesync/cratesync/internal/model"
	"github.com/cratesync/cratesync/internal/walk"
)

func mustWrite(t *testing.T, path, content string) walk.Entry {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return walk.Entry{Size: uint64(info.Size()), ModifiedAt: info.ModTime().Unix()}
}

func entryAt(rel string, e walk.Entry) walk.Entry {
	e.RelativePath = rel
	return e
}

func findEntry(result model.DiffResult, relPath string) (model.DiffEntry, bool) {
	for _, e := range result.Entries {
		if e.RelativePath == relPath {
			return e, true
		}
	}
	return model.DiffEntry{}, false
}

func TestOneWayDiff_AddUpdateRemoveUnchanged(t *testing.T) {
	t.Parallel()

	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	addEntry := mustWrite(t, filepath.Join(srcRoot, "new.flac"), "new content")

	unchangedSrc := mustWrite(t, filepath.Join(srcRoot, "same.flac"), "same content")
	unchangedDst := mustWrite(t, filepath.Join(dstRoot, "same.flac"), "same content")
	sameTime := time.Unix(unchangedSrc.ModifiedAt, 0)
	if err := os.Chtimes(filepath.Join(dstRoot, "same.flac"), sameTime, sameTime); err != nil {
		t.Fatal(err)
	}
	unchangedDst.ModifiedAt = unchangedSrc.ModifiedAt

	mustWrite(t, filepath.Join(srcRoot, "changed.flac"), "source version")
	mustWrite(t, filepath.Join(dstRoot, "changed.flac"), "target version")

	mustWrite(t, filepath.Join(dstRoot, "orphan.flac"), "remove me")

	source := []walk.Entry{
		entryAt("new.flac", addEntry),
		entryAt("same.flac", unchangedSrc),
		{RelativePath: "changed.flac", Size: 14, ModifiedAt: 1},
	}
	target := []walk.Entry{
		entryAt("same.flac", unchangedDst),
		{RelativePath: "changed.flac", Size: 14, ModifiedAt: 2},
		{RelativePath: "orphan.flac", Size: 9, ModifiedAt: 1},
	}

	result, err := OneWayDiff(srcRoot, source, dstRoot, target, Options{})
	if err != nil {
		t.Fatalf("OneWayDiff: %v", err)
	}

	if e, ok := findEntry(result, "new.flac"); !ok || e.Action != model.ActionAdd {
		t.Errorf("new.flac: got %+v", e)
	}
	if e, ok := findEntry(result, "same.flac"); !ok || e.Action != model.ActionUnchanged {
		t.Errorf("same.flac: got %+v", e)
	}
	if e, ok := findEntry(result, "changed.flac"); !ok || e.Action != model.ActionUpdate {
		t.Errorf("changed.flac: got %+v", e)
	}
	if e, ok := findEntry(result, "orphan.flac"); !ok || e.Action != model.ActionRemove {
		t.Errorf("orphan.flac: got %+v", e)
	}
}

func TestTwoWayDiff_OnlySourceChangedPropagatesToTarget(t *testing.T) {
	t.Parallel()

	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	src := mustWrite(t, filepath.Join(srcRoot, "track.flac"), "v2")
	dst := mustWrite(t, filepath.Join(dstRoot, "track.flac"), "v1")

	baselines := map[string]model.FileBaseline{
		"track.flac": {
			RelativePath:   "track.flac",
			SourceKnown:    true,
			SourceHash:     "old-hash-that-will-differ",
			SourceSize:     2,
			SourceModified: src.ModifiedAt - 100,
			TargetKnown:    true,
			TargetHash:     mustHashOf(t, dstRoot, "track.flac"),
			TargetSize:     dst.Size,
			TargetModified: dst.ModifiedAt,
		},
	}

	result, err := TwoWayDiff(srcRoot, []walk.Entry{entryAt("track.flac", src)}, dstRoot, []walk.Entry{entryAt("track.flac", dst)}, baselines, Options{})
	if err != nil {
		t.Fatalf("TwoWayDiff: %v", err)
	}

	e, ok := findEntry(result, "track.flac")
	if !ok {
		t.Fatal("expected entry for track.flac")
	}
	if e.Action != model.ActionUpdate || e.Direction != model.SourceToTarget {
		t.Errorf("got action=%v direction=%v, want update/source_to_target", e.Action, e.Direction)
	}
}

func TestTwoWayDiff_BothChangedDifferentlyIsConflict(t *testing.T) {
	t.Parallel()

	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	src := mustWrite(t, filepath.Join(srcRoot, "track.flac"), "source edit")
	dst := mustWrite(t, filepath.Join(dstRoot, "track.flac"), "target edit")

	baselines := map[string]model.FileBaseline{
		"track.flac": {
			RelativePath:   "track.flac",
			SourceKnown:    true,
			SourceHash:     "original-hash",
			SourceSize:     1,
			SourceModified: src.ModifiedAt - 1000,
			TargetKnown:    true,
			TargetHash:     "original-hash",
			TargetSize:     1,
			TargetModified: dst.ModifiedAt - 1000,
		},
	}

	result, err := TwoWayDiff(srcRoot, []walk.Entry{entryAt("track.flac", src)}, dstRoot, []walk.Entry{entryAt("track.flac", dst)}, baselines, Options{})
	if err != nil {
		t.Fatalf("TwoWayDiff: %v", err)
	}

	e, ok := findEntry(result, "track.flac")
	if !ok || e.Action != model.ActionConflict {
		t.Errorf("got %+v, want conflict", e)
	}
	if result.TotalConflict != 1 {
		t.Errorf("TotalConflict = %d, want 1", result.TotalConflict)
	}
}

func TestTwoWayDiff_BothChangedIdenticallyIsFalseConflict(t *testing.T) {
	t.Parallel()

	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	src := mustWrite(t, filepath.Join(srcRoot, "track.flac"), "converged content")
	dst := mustWrite(t, filepath.Join(dstRoot, "track.flac"), "converged content")

	baselines := map[string]model.FileBaseline{
		"track.flac": {
			RelativePath:   "track.flac",
			SourceKnown:    true,
			SourceHash:     "original-hash",
			SourceModified: src.ModifiedAt - 1000,
			TargetKnown:    true,
			TargetHash:     "original-hash",
			TargetModified: dst.ModifiedAt - 1000,
		},
	}

	result, err := TwoWayDiff(srcRoot, []walk.Entry{entryAt("track.flac", src)}, dstRoot, []walk.Entry{entryAt("track.flac", dst)}, baselines, Options{})
	if err != nil {
		t.Fatalf("TwoWayDiff: %v", err)
	}

	e, ok := findEntry(result, "track.flac")
	if !ok || e.Action != model.ActionUnchanged {
		t.Errorf("got %+v, want unchanged (false conflict resolved silently)", e)
	}
}

func TestTwoWayDiff_DeletedOnSourceModifiedOnTargetIsConflict(t *testing.T) {
	t.Parallel()

	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	dst := mustWrite(t, filepath.Join(dstRoot, "track.flac"), "modified on target")

	baselines := map[string]model.FileBaseline{
		"track.flac": {
			RelativePath:   "track.flac",
			SourceKnown:    true,
			SourceHash:     "old-hash",
			TargetKnown:    true,
			TargetHash:     "old-hash",
			TargetModified: dst.ModifiedAt - 1000,
		},
	}

	result, err := TwoWayDiff(srcRoot, nil, dstRoot, []walk.Entry{entryAt("track.flac", dst)}, baselines, Options{})
	if err != nil {
		t.Fatalf("TwoWayDiff: %v", err)
	}

	e, ok := findEntry(result, "track.flac")
	if !ok || e.Action != model.ActionConflict {
		t.Errorf("got %+v, want conflict", e)
	}
}

func TestDeviceDiff_AddUpdateRemove(t *testing.T) {
	t.Parallel()

	tracks := []model.Track{
		{RelativePath: "new.flac", Hash: "hash-new", FileSize: 10},
		{RelativePath: "changed.flac", Hash: "hash-v2", FileSize: 20},
		{RelativePath: "same.flac", Hash: "hash-same", FileSize: 30},
	}
	cache := map[string]model.CachedFileHash{
		"changed.flac": {RelativePath: "changed.flac", Hash: "hash-v1", FileSize: 19},
		"same.flac":    {RelativePath: "same.flac", Hash: "hash-same", FileSize: 30},
		"gone.flac":    {RelativePath: "gone.flac", Hash: "hash-gone", FileSize: 5},
	}

	result, newCache := DeviceDiff(tracks, cache, Options{})

	if e, ok := findEntry(result, "new.flac"); !ok || e.Action != model.ActionAdd {
		t.Errorf("new.flac: got %+v", e)
	}
	if e, ok := findEntry(result, "changed.flac"); !ok || e.Action != model.ActionUpdate {
		t.Errorf("changed.flac: got %+v", e)
	}
	if e, ok := findEntry(result, "same.flac"); !ok || e.Action != model.ActionUnchanged {
		t.Errorf("same.flac: got %+v", e)
	}
	if e, ok := findEntry(result, "gone.flac"); !ok || e.Action != model.ActionRemove {
		t.Errorf("gone.flac: got %+v", e)
	}

	if len(newCache) != 3 {
		t.Fatalf("newCache has %d entries, want 3", len(newCache))
	}
	if c, ok := newCache["new.flac"]; !ok || c.Hash != "hash-new" {
		t.Errorf("newCache[new.flac] = %+v", c)
	}
	if c, ok := newCache["changed.flac"]; !ok || c.Hash != "hash-v2" {
		t.Errorf("newCache[changed.flac] = %+v, want updated hash", c)
	}
	if _, ok := newCache["gone.flac"]; ok {
		t.Error("newCache still contains gone.flac, want it purged")
	}
}

func TestOneWayDiff_EntriesAreSortedByRelativePath(t *testing.T) {
	t.Parallel()

	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	mustWrite(t, filepath.Join(srcRoot, "zebra.flac"), "z")
	mustWrite(t, filepath.Join(srcRoot, "apple.flac"), "a")
	mustWrite(t, filepath.Join(srcRoot, "mango.flac"), "m")

	result, err := OneWayDiff(srcRoot, []walk.Entry{
		{RelativePath: "zebra.flac", Size: 1},
		{RelativePath: "apple.flac", Size: 1},
		{RelativePath: "mango.flac", Size: 1},
	}, dstRoot, nil, Options{})
	if err != nil {
		t.Fatalf("OneWayDiff: %v", err)
	}

	var paths []string
	for _, e := range result.Entries {
		paths = append(paths, e.RelativePath)
	}
	want := []string{"apple.flac", "mango.flac", "zebra.flac"}
	if len(paths) != len(want) {
		t.Fatalf("got %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q (entries must be sorted ascending)", i, paths[i], want[i])
		}
	}
}

func TestTwoWayDiff_BothChangedDifferentlyPopulatesConflictRecord(t *testing.T) {
	t.Parallel()

	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	src := mustWrite(t, filepath.Join(srcRoot, "track.flac"), "source edit")
	dst := mustWrite(t, filepath.Join(dstRoot, "track.flac"), "target edit")

	baselines := map[string]model.FileBaseline{
		"track.flac": {
			RelativePath:   "track.flac",
			SourceKnown:    true,
			SourceHash:     "original-hash",
			SourceSize:     1,
			SourceModified: src.ModifiedAt - 1000,
			TargetKnown:    true,
			TargetHash:     "original-hash",
			TargetSize:     1,
			TargetModified: dst.ModifiedAt - 1000,
		},
	}

	result, err := TwoWayDiff(srcRoot, []walk.Entry{entryAt("track.flac", src)}, dstRoot, []walk.Entry{entryAt("track.flac", dst)}, baselines, Options{})
	if err != nil {
		t.Fatalf("TwoWayDiff: %v", err)
	}

	if len(result.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(result.Conflicts))
	}
	c := result.Conflicts[0]
	if c.RelativePath != "track.flac" {
		t.Errorf("RelativePath = %q, want track.flac", c.RelativePath)
	}
	if c.ConflictType != model.ConflictBothModified {
		t.Errorf("ConflictType = %v, want ConflictBothModified", c.ConflictType)
	}
}

func TestTwoWayDiff_BothChangedWithNoBaselineIsFirstSyncDiffers(t *testing.T) {
	t.Parallel()

	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	src := mustWrite(t, filepath.Join(srcRoot, "track.flac"), "source version")
	dst := mustWrite(t, filepath.Join(dstRoot, "track.flac"), "target version")

	result, err := TwoWayDiff(srcRoot, []walk.Entry{entryAt("track.flac", src)}, dstRoot, []walk.Entry{entryAt("track.flac", dst)}, nil, Options{})
	if err != nil {
		t.Fatalf("TwoWayDiff: %v", err)
	}

	if len(result.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(result.Conflicts))
	}
	if result.Conflicts[0].ConflictType != model.ConflictFirstSyncDiffers {
		t.Errorf("ConflictType = %v, want ConflictFirstSyncDiffers", result.Conflicts[0].ConflictType)
	}
}

func mustHashOf(t *testing.T, root, rel string) string {
	t.Helper()
	h, err := hashutil.HashFile(filepath.Join(root, rel), hashutil.DefaultAlgorithm)
	if err != nil {
		t.Fatal(err)
	}
	return h
}
