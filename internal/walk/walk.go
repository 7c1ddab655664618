// Package walk traverses a filesystem tree looking for audio files, applying
// exclusion patterns and emitting progress as it goes. It is the filesystem
// side of the diff engine's inputs: the catalog side is supplied directly by
// callers as a []model.Track.
package walk

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/cratesync/cratesync/internal/cancel"
	"github.com/cratesync/cratesync/internal/progress"
)

// guardFileName mirrors a volume-safety marker: its presence at the root of
// a walk halts the walk outright, preventing a sync from treating an
// unmounted or emptied volume as "everything was deleted".
const guardFileName = ".cratesync-nosync"

// ErrGuardFileFound is returned when guardFileName is present at the walk
// root.
type ErrGuardFileFound struct {
	Path string
}

func (e *ErrGuardFileFound) Error() string {
	return fmt.Sprintf("walk: guard file found at %s, refusing to walk", e.Path)
}

// audioExtensions is the closed set of file extensions walk treats as music
// content. Anything else is silently skipped.
var audioExtensions = map[string]bool{
	".flac": true,
	".mp3":  true,
	".m4a":  true,
	".aac":  true,
	".wav":  true,
	".alac": true,
	".ogg":  true,
	".opus": true,
	".wma":  true,
}

// Entry is a single audio file discovered by Walk.
type Entry struct {
	RelativePath string
	AbsolutePath string
	Size         uint64
	ModifiedAt   int64 // unix seconds
}

// Options configures a Walk call.
type Options struct {
	// ExcludePatterns are doublestar glob patterns (supporting *, **, ?,
	// and [...]) matched against the slash-separated relative path.
	ExcludePatterns []string

	// FollowSymlinks causes symlinked files and directories to be resolved
	// and walked. When false, symlinks are skipped entirely.
	FollowSymlinks bool

	// Progress receives walk lifecycle and per-entry events. If nil,
	// progress.Discard is used.
	Progress progress.Sink

	// Cancel, if non-nil, is polled before descending into each directory
	// and before processing each file.
	Cancel *cancel.Token

	// OnEntryError, if non-nil, is called for a per-entry error (unreadable
	// file, broken symlink, stat failure) instead of failing the walk.
	OnEntryError func(relativePath string, err error)
}

// Walk traverses root, returning every audio file not excluded by
// opts.ExcludePatterns. Individual per-entry errors are reported via
// opts.OnEntryError and do not abort the walk; a directory that cannot be
// read is reported the same way and skipped. Only a cancellation stops it
// early, and then the entries collected so far are returned without error.
func Walk(root string, opts Options) ([]Entry, error) {
	sink := opts.Progress
	if sink == nil {
		sink = progress.Discard{}
	}

	if _, err := os.Stat(filepath.Join(root, guardFileName)); err == nil {
		return nil, &ErrGuardFileFound{Path: filepath.Join(root, guardFileName)}
	}

	sink.Emit(progress.Event{Kind: progress.EventWalkStarted})

	var entries []Entry
	seen := 0

	reportErr := func(rel string, err error) {
		if opts.OnEntryError != nil {
			opts.OnEntryError(rel, err)
		}
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if opts.Cancel != nil && opts.Cancel.Cancelled() {
			return filepath.SkipAll
		}

		if err != nil {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			reportErr(rel, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") && base != "." {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		excluded, err := matchesAny(opts.ExcludePatterns, rel)
		if err != nil {
			reportErr(rel, err)
			return nil
		}
		if excluded {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, typ, err := resolveEntry(path, d, opts.FollowSymlinks)
		if err != nil {
			reportErr(rel, err)
			return nil
		}
		if info == nil {
			return nil // broken symlink or symlink skipped by configuration
		}

		if typ.IsDir() {
			return nil
		}

		if !audioExtensions[strings.ToLower(filepath.Ext(rel))] {
			return nil
		}

		seen++
		sink.Emit(progress.Event{Kind: progress.EventWalkEntry, RelativePath: rel, FilesSeen: seen})

		entries = append(entries, Entry{
			RelativePath: rel,
			AbsolutePath: path,
			Size:         uint64(info.Size()),
			ModifiedAt:   info.ModTime().Unix(),
		})

		return nil
	})

	if walkErr != nil {
		return nil, fmt.Errorf("walk: %s: %w", root, walkErr)
	}

	sink.Emit(progress.Event{Kind: progress.EventWalkFinished, FilesSeen: seen, FilesTotal: seen})

	if opts.Cancel != nil && opts.Cancel.Cancelled() {
		return entries, nil
	}

	return entries, nil
}

// resolveEntry returns the os.FileInfo and fs.FileMode for d, resolving a
// symlink when followSymlinks is true. It returns a nil info (with no error)
// when the entry should be silently skipped: a symlink encountered while
// followSymlinks is false, or a symlink whose target no longer exists.
func resolveEntry(path string, d fs.DirEntry, followSymlinks bool) (os.FileInfo, fs.FileMode, error) {
	if d.Type()&fs.ModeSymlink == 0 {
		info, err := d.Info()
		if err != nil {
			return nil, 0, err
		}
		return info, info.Mode(), nil
	}

	if !followSymlinks {
		return nil, 0, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	return info, info.Mode(), nil
}

// matchesAny reports whether rel matches any of patterns, using doublestar
// glob semantics (*, **, ?, [...]).
func matchesAny(patterns []string, rel string) (bool, error) {
	for _, p := range patterns {
		ok, err := doublestar.Match(p, rel)
		if err != nil {
			return false, fmt.Errorf("walk: invalid exclude pattern %q: %w", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
