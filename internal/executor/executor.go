// Package executor applies a reconciled set of DiffEntry records to the
// filesystem: copying new and changed files, removing stale ones, and
// reporting per-entry outcomes. Every write is staged to a ".tmp_sync" file,
// hashed as it is written, given the source's modification time, and only then
// atomically renamed into place — a partially written file is never visible
// under its final name.
package executor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cratesync/cratesync/internal/cancel"
	"github.com/cratesync/cratesync/internal/hashutil"
	"github.com/cratesync/cratesync/internal/model"
	"github.com/cratesync/cratesync/internal/progress"
	"github.com/cratesync/cratesync/internal/syncerr"
)

// Options configures an Executor.
type Options struct {
	Algorithm hashutil.Algorithm
	Progress  progress.Sink
	Cancel    *cancel.Token
	Logger    *slog.Logger
	// DryRun reports what would happen without touching the filesystem.
	DryRun bool
}

func (o Options) algorithm() hashutil.Algorithm {
	if o.Algorithm == "" {
		return hashutil.DefaultAlgorithm
	}
	return o.Algorithm
}

// Outcome is the per-entry result of applying one DiffEntry.
type Outcome struct {
	RelativePath string
	Action       model.ActionKind
	Success      bool
	BytesWritten uint64
	Hash         string
	Err          error
}

// Report summarizes an Execute run.
type Report struct {
	Outcomes     []Outcome
	Succeeded    int
	Failed       int
	BytesWritten uint64
}

// Executor applies DiffEntry records between two plain directory trees.
type Executor struct {
	sourceRoot string
	targetRoot string
	opts       Options
	logger     *slog.Logger
	sink       progress.Sink
}

// New creates an Executor for copying between sourceRoot and targetRoot.
func New(sourceRoot, targetRoot string, opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sink := opts.Progress
	if sink == nil {
		sink = progress.Discard{}
	}

	return &Executor{
		sourceRoot: sourceRoot,
		targetRoot: targetRoot,
		opts:       opts,
		logger:     logger,
		sink:       sink,
	}
}

// Execute applies every entry in order. A single entry's failure is recorded
// in the Report and does not stop the run. Cancellation is checked at the
// top of each iteration; once set, at most one more entry is applied before
// Execute returns its partial Report alongside syncerr.ErrSyncCancelled, so
// callers can skip any post-sync bookkeeping that assumes a complete run.
func (e *Executor) Execute(entries []model.DiffEntry) (*Report, error) {
	report := &Report{}

	for _, entry := range entries {
		if e.opts.Cancel != nil && e.opts.Cancel.Cancelled() {
			return report, syncerr.ErrSyncCancelled
		}

		if entry.Action == model.ActionUnchanged {
			continue
		}
		if entry.Action == model.ActionConflict {
			report.Outcomes = append(report.Outcomes, Outcome{
				RelativePath: entry.RelativePath,
				Action:       entry.Action,
				Success:      false,
				Err:          syncerr.ErrConflictUnresolved,
			})
			report.Failed++
			continue
		}

		outcome := e.apply(entry)
		report.Outcomes = append(report.Outcomes, outcome)

		if outcome.Success {
			report.Succeeded++
			report.BytesWritten += outcome.BytesWritten
		} else {
			report.Failed++
		}
	}

	return report, nil
}

func (e *Executor) apply(entry model.DiffEntry) Outcome {
	switch entry.Action {
	case model.ActionAdd, model.ActionUpdate:
		return e.applyCopy(entry)
	case model.ActionRemove:
		return e.applyRemove(entry)
	default:
		return Outcome{
			RelativePath: entry.RelativePath,
			Action:       entry.Action,
			Success:      false,
			Err:          fmt.Errorf("executor: unsupported action %s for %s", entry.Action, entry.RelativePath),
		}
	}
}

// fromTo resolves the (readRoot, writeRoot) pair for a directional entry.
func (e *Executor) fromTo(direction model.Direction) (readRoot, writeRoot string, err error) {
	switch direction {
	case model.SourceToTarget:
		return e.sourceRoot, e.targetRoot, nil
	case model.TargetToSource:
		return e.targetRoot, e.sourceRoot, nil
	default:
		return "", "", fmt.Errorf("executor: entry has no usable direction (%v)", direction)
	}
}

func (e *Executor) applyCopy(entry model.DiffEntry) Outcome {
	readRoot, writeRoot, err := e.fromTo(entry.Direction)
	if err != nil {
		return Outcome{RelativePath: entry.RelativePath, Action: entry.Action, Success: false, Err: err}
	}

	srcPath := filepath.Join(readRoot, entry.RelativePath)
	dstPath := filepath.Join(writeRoot, entry.RelativePath)

	e.sink.Emit(progress.Event{Kind: progress.EventTransferStarted, RelativePath: entry.RelativePath})

	if e.opts.DryRun {
		e.sink.Emit(progress.Event{Kind: progress.EventTransferFinished, RelativePath: entry.RelativePath})
		return Outcome{RelativePath: entry.RelativePath, Action: entry.Action, Success: true}
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		werr := syncerr.NewIOError("stat", srcPath, err)
		e.sink.Emit(progress.Event{Kind: progress.EventError, RelativePath: entry.RelativePath, Err: werr})
		return Outcome{RelativePath: entry.RelativePath, Action: entry.Action, Success: false, Err: werr}
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		werr := syncerr.NewIOError("mkdir", filepath.Dir(dstPath), err)
		return Outcome{RelativePath: entry.RelativePath, Action: entry.Action, Success: false, Err: werr}
	}

	hash, bytesWritten, err := e.copyAtomic(srcPath, dstPath, info.ModTime())
	if err != nil {
		e.sink.Emit(progress.Event{Kind: progress.EventError, RelativePath: entry.RelativePath, Err: err})
		return Outcome{RelativePath: entry.RelativePath, Action: entry.Action, Success: false, Err: err}
	}

	e.sink.Emit(progress.Event{Kind: progress.EventTransferFinished, RelativePath: entry.RelativePath, BytesDone: bytesWritten})

	return Outcome{
		RelativePath: entry.RelativePath,
		Action:       entry.Action,
		Success:      true,
		BytesWritten: bytesWritten,
		Hash:         hash,
	}
}

// copyAtomic stages srcPath's content at dstPath+".tmp_sync", hashing the
// bytes as they are written (the staged file is not read back), fsyncs it,
// stamps it with mtime, and renames it over dstPath. The staged file is
// removed on any failure.
func (e *Executor) copyAtomic(srcPath, dstPath string, mtime time.Time) (hash string, bytesWritten uint64, err error) {
	partialPath := dstPath + ".tmp_sync"

	src, err := os.Open(srcPath)
	if err != nil {
		return "", 0, syncerr.NewIOError("open", srcPath, err)
	}
	defer src.Close()

	dst, err := os.Create(partialPath)
	if err != nil {
		return "", 0, syncerr.NewIOError("create", partialPath, err)
	}

	h, herr := hashutil.NewHash(e.opts.algorithm())
	if herr != nil {
		dst.Close()
		os.Remove(partialPath)
		return "", 0, herr
	}

	w := io.MultiWriter(dst, h)
	buf := make([]byte, 1<<20)
	n, copyErr := io.CopyBuffer(w, src, buf)
	if copyErr != nil {
		dst.Close()
		os.Remove(partialPath)
		return "", 0, syncerr.NewIOError("copy", dstPath, copyErr)
	}

	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(partialPath)
		return "", 0, syncerr.NewIOError("fsync", partialPath, err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(partialPath)
		return "", 0, syncerr.NewIOError("close", partialPath, err)
	}

	if err := os.Chtimes(partialPath, mtime, mtime); err != nil {
		e.logger.Warn("executor: failed to set mtime on partial file",
			slog.String("path", partialPath), slog.String("error", err.Error()))
	}

	if err := os.Rename(partialPath, dstPath); err != nil {
		os.Remove(partialPath)
		return "", 0, syncerr.NewIOError("rename", dstPath, err)
	}

	return hashutil.EncodeSum(h), uint64(n), nil
}

func (e *Executor) applyRemove(entry model.DiffEntry) Outcome {
	_, writeRoot, err := e.fromTo(entry.Direction)
	if err != nil {
		return Outcome{RelativePath: entry.RelativePath, Action: entry.Action, Success: false, Err: err}
	}

	path := filepath.Join(writeRoot, entry.RelativePath)

	if e.opts.DryRun {
		return Outcome{RelativePath: entry.RelativePath, Action: entry.Action, Success: true}
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		werr := syncerr.NewIOError("remove", path, err)
		return Outcome{RelativePath: entry.RelativePath, Action: entry.Action, Success: false, Err: werr}
	}

	pruneEmptyParents(filepath.Dir(path), writeRoot)

	return Outcome{RelativePath: entry.RelativePath, Action: entry.Action, Success: true}
}

// pruneEmptyParents removes dir and each ancestor directory up to (but
// excluding) root, stopping as soon as a directory turns out non-empty or
// root is reached. os.Remove on a non-empty directory simply fails, which is
// treated as the natural stopping condition rather than an error.
func pruneEmptyParents(dir, root string) {
	root = filepath.Clean(root)

	for dir = filepath.Clean(dir); dir != root; dir = filepath.Dir(dir) {
		rel, err := filepath.Rel(root, dir)
		if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}
