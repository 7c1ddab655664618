package executor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cratesync/cratesync/internal/cancel"
	"github.com/cratesync/cratesync/internal/model"
	"github.com/cratesync/cratesync/internal/syncerr"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestExecute_AddCopiesSourceToTarget(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "album", "track.flac"), "content")

	e := New(src, dst, Options{})
	report, err := e.Execute([]model.DiffEntry{{
		RelativePath: "album/track.flac",
		Action:       model.ActionAdd,
		Direction:    model.SourceToTarget,
	}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if report.Failed != 0 || report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}

	got := readFile(t, filepath.Join(dst, "album", "track.flac"))
	if got != "content" {
		t.Errorf("got %q, want %q", got, "content")
	}

	if _, err := os.Stat(filepath.Join(dst, "album", "track.flac.tmp_sync")); !os.IsNotExist(err) {
		t.Error("partial file should not remain after a successful copy")
	}
}

func TestExecute_UpdateTargetToSource(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "track.flac"), "old")
	writeFile(t, filepath.Join(dst, "track.flac"), "new")

	e := New(src, dst, Options{})
	report, err := e.Execute([]model.DiffEntry{{
		RelativePath: "track.flac",
		Action:       model.ActionUpdate,
		Direction:    model.TargetToSource,
	}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if report.Failed != 0 || report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}

	if got := readFile(t, filepath.Join(src, "track.flac")); got != "new" {
		t.Errorf("got %q, want %q", got, "new")
	}
}

func TestExecute_RemoveDeletesFromResolvedSide(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(dst, "stale.flac"), "x")

	e := New(src, dst, Options{})
	report, err := e.Execute([]model.DiffEntry{{
		RelativePath: "stale.flac",
		Action:       model.ActionRemove,
		Direction:    model.SourceToTarget,
	}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if report.Failed != 0 || report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}

	if _, err := os.Stat(filepath.Join(dst, "stale.flac")); !os.IsNotExist(err) {
		t.Error("expected file to be removed")
	}
}

func TestExecute_RemoveMissingFileIsNotAnError(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()

	e := New(src, dst, Options{})
	report, err := e.Execute([]model.DiffEntry{{
		RelativePath: "already-gone.flac",
		Action:       model.ActionRemove,
		Direction:    model.SourceToTarget,
	}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if report.Failed != 0 || report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestExecute_RemovePrunesNowEmptyParentDirectories(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(dst, "Artist", "Album", "track.flac"), "x")
	writeFile(t, filepath.Join(dst, "Artist", "other-album", "keep.flac"), "y")

	e := New(src, dst, Options{})
	report, err := e.Execute([]model.DiffEntry{{
		RelativePath: "Artist/Album/track.flac",
		Action:       model.ActionRemove,
		Direction:    model.SourceToTarget,
	}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Failed != 0 || report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}

	if _, err := os.Stat(filepath.Join(dst, "Artist", "Album")); !os.IsNotExist(err) {
		t.Error("expected now-empty Artist/Album directory to be pruned")
	}
	if _, err := os.Stat(filepath.Join(dst, "Artist")); err != nil {
		t.Errorf("Artist directory should survive: it still has other-album/ in it: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "Artist", "other-album", "keep.flac")); err != nil {
		t.Errorf("unrelated file should be untouched: %v", err)
	}
}

func TestExecute_DryRunDoesNotTouchFilesystem(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "track.flac"), "content")

	e := New(src, dst, Options{DryRun: true})
	report, err := e.Execute([]model.DiffEntry{{
		RelativePath: "track.flac",
		Action:       model.ActionAdd,
		Direction:    model.SourceToTarget,
	}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if report.Failed != 0 || report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}

	if _, err := os.Stat(filepath.Join(dst, "track.flac")); !os.IsNotExist(err) {
		t.Error("dry run should not have written the file")
	}
}

func TestExecute_ConflictActionFailsWithoutResolution(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()

	e := New(src, dst, Options{})
	report, err := e.Execute([]model.DiffEntry{{
		RelativePath: "track.flac",
		Action:       model.ActionConflict,
	}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if report.Succeeded != 0 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestExecute_UnchangedEntriesAreSkipped(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()

	e := New(src, dst, Options{})
	report, err := e.Execute([]model.DiffEntry{{
		RelativePath: "track.flac",
		Action:       model.ActionUnchanged,
	}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(report.Outcomes) != 0 {
		t.Errorf("expected unchanged entries to produce no outcome, got %+v", report.Outcomes)
	}
}

func TestExecute_CancellationStopsRunAndReturnsSyncCancelled(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()
	for _, name := range []string{"a.flac", "b.flac", "c.flac"} {
		writeFile(t, filepath.Join(src, name), name)
	}

	token := cancel.New()
	e := New(src, dst, Options{Cancel: token})

	entries := []model.DiffEntry{
		{RelativePath: "a.flac", Action: model.ActionAdd, Direction: model.SourceToTarget},
		{RelativePath: "b.flac", Action: model.ActionAdd, Direction: model.SourceToTarget},
		{RelativePath: "c.flac", Action: model.ActionAdd, Direction: model.SourceToTarget},
	}

	// Cancel before the first entry is applied.
	token.Cancel()

	report, err := e.Execute(entries)
	if !errors.Is(err, syncerr.ErrSyncCancelled) {
		t.Fatalf("err = %v, want syncerr.ErrSyncCancelled", err)
	}
	if len(report.Outcomes) != 0 {
		t.Errorf("expected no entries applied once cancelled before the first iteration, got %+v", report.Outcomes)
	}
	if _, statErr := os.Stat(filepath.Join(dst, "a.flac")); !os.IsNotExist(statErr) {
		t.Error("no file should have been copied after cancellation")
	}
}
