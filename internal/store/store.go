// Package store persists sync profiles, per-path baselines, the device hash
// cache, and the conflict ledger in a local SQLite database. It is the sole
// writer to that database (a single open connection), matching the
// durability guarantees a reconciliation baseline needs: every commit must
// be visible to the next run, never partially applied.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, no cgo

	"github.com/cratesync/cratesync/internal/model"
	"github.com/cratesync/cratesync/internal/syncerr"
)

// Store is the sole writer to the sync database. Open it once per process
// and share it across profiles.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (and migrates, if necessary) the SQLite database at dbPath.
// The connection pool is capped at one: SQLite tolerates many readers but
// only cratesync itself should write to this file, and a single connection
// makes that true by construction rather than by convention.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection, for callers (tests, migrations)
// that need direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Profiles ---------------------------------------------------------

// CreateProfile inserts a new sync profile, generating an ID if p.ID is
// empty.
func (s *Store) CreateProfile(ctx context.Context, p model.SyncProfile) (model.SyncProfile, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, source_path, target_path, sync_mode, exclude_patterns, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.SourcePath, p.TargetPath, string(p.SyncMode), strings.Join(p.ExcludePatterns, "\n"), nullInt64Ptr(p.LastSyncedAt),
	)
	if err != nil {
		return model.SyncProfile{}, fmt.Errorf("store: creating profile %q: %w", p.Name, err)
	}

	return p, nil
}

// GetProfile looks up a profile by name.
func (s *Store) GetProfile(ctx context.Context, name string) (model.SyncProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, source_path, target_path, sync_mode, exclude_patterns, last_synced_at
		FROM profiles WHERE name = ?`, name)

	return scanProfile(row)
}

// ListProfiles returns every configured profile, ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]model.SyncProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source_path, target_path, sync_mode, exclude_patterns, last_synced_at
		FROM profiles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: listing profiles: %w", err)
	}
	defer rows.Close()

	var profiles []model.SyncProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}

	return profiles, rows.Err()
}

// TouchLastSyncedAt records the completion time of a sync run for a profile.
func (s *Store) TouchLastSyncedAt(ctx context.Context, profileID string, unixSeconds int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE profiles SET last_synced_at = ? WHERE id = ?`, unixSeconds, profileID)
	if err != nil {
		return fmt.Errorf("store: touching last_synced_at for profile %s: %w", profileID, err)
	}
	return nil
}

type profileScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row profileScanner) (model.SyncProfile, error) {
	var (
		p               model.SyncProfile
		syncMode        string
		excludePatterns string
		lastSyncedAt    sql.NullInt64
	)

	err := row.Scan(&p.ID, &p.Name, &p.SourcePath, &p.TargetPath, &syncMode, &excludePatterns, &lastSyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncProfile{}, syncerr.ErrNotFound
	}
	if err != nil {
		return model.SyncProfile{}, fmt.Errorf("store: scanning profile: %w", err)
	}

	p.SyncMode = model.SyncMode(syncMode)
	if excludePatterns != "" {
		p.ExcludePatterns = strings.Split(excludePatterns, "\n")
	}
	if lastSyncedAt.Valid {
		v := lastSyncedAt.Int64
		p.LastSyncedAt = &v
	}

	return p, nil
}

// --- Baseline -----------------------------------------------------------

// LoadBaseline returns every baseline entry for profileID, keyed by
// relative path.
func (s *Store) LoadBaseline(ctx context.Context, profileID string) (map[string]model.FileBaseline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT relative_path, source_hash, source_size, source_modified,
		       target_hash, target_size, target_modified
		FROM baseline WHERE profile_id = ?`, profileID)
	if err != nil {
		return nil, fmt.Errorf("store: loading baseline for profile %s: %w", profileID, err)
	}
	defer rows.Close()

	result := make(map[string]model.FileBaseline)

	for rows.Next() {
		var (
			b              model.FileBaseline
			sourceHash     sql.NullString
			sourceSize     sql.NullInt64
			sourceModified sql.NullInt64
			targetHash     sql.NullString
			targetSize     sql.NullInt64
			targetModified sql.NullInt64
		)

		if err := rows.Scan(&b.RelativePath, &sourceHash, &sourceSize, &sourceModified, &targetHash, &targetSize, &targetModified); err != nil {
			return nil, fmt.Errorf("store: scanning baseline row: %w", err)
		}

		b.SourceKnown = sourceHash.Valid
		b.SourceHash = sourceHash.String
		b.SourceSize = uint64(sourceSize.Int64)
		b.SourceModified = sourceModified.Int64

		b.TargetKnown = targetHash.Valid
		b.TargetHash = targetHash.String
		b.TargetSize = uint64(targetSize.Int64)
		b.TargetModified = targetModified.Int64

		result[b.RelativePath] = b
	}

	return result, rows.Err()
}

// PutBaseline inserts or replaces the baseline entry for one path.
func (s *Store) PutBaseline(ctx context.Context, profileID string, b model.FileBaseline) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO baseline
			(profile_id, relative_path, source_hash, source_size, source_modified,
			 target_hash, target_size, target_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id, relative_path) DO UPDATE SET
			source_hash = excluded.source_hash,
			source_size = excluded.source_size,
			source_modified = excluded.source_modified,
			target_hash = excluded.target_hash,
			target_size = excluded.target_size,
			target_modified = excluded.target_modified`,
		profileID, b.RelativePath,
		nullString(b.SourceHash, b.SourceKnown), nullInt64(int64(b.SourceSize), b.SourceKnown), nullInt64(b.SourceModified, b.SourceKnown),
		nullString(b.TargetHash, b.TargetKnown), nullInt64(int64(b.TargetSize), b.TargetKnown), nullInt64(b.TargetModified, b.TargetKnown),
	)
	if err != nil {
		return fmt.Errorf("store: upserting baseline for %s: %w", b.RelativePath, err)
	}
	return nil
}

// DeleteBaseline removes the baseline entry for one path, if present.
func (s *Store) DeleteBaseline(ctx context.Context, profileID, relativePath string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM baseline WHERE profile_id = ? AND relative_path = ?`, profileID, relativePath)
	if err != nil {
		return fmt.Errorf("store: deleting baseline for %s: %w", relativePath, err)
	}
	return nil
}

// --- Hash cache -----------------------------------------------------------

// LoadHashCache returns every cached device hash for profileID, keyed by
// relative path.
func (s *Store) LoadHashCache(ctx context.Context, profileID string) (map[string]model.CachedFileHash, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT relative_path, hash, file_size, modified_at
		FROM hash_cache WHERE profile_id = ?`, profileID)
	if err != nil {
		return nil, fmt.Errorf("store: loading hash cache for profile %s: %w", profileID, err)
	}
	defer rows.Close()

	result := make(map[string]model.CachedFileHash)
	for rows.Next() {
		var c model.CachedFileHash
		var size, modified int64
		if err := rows.Scan(&c.RelativePath, &c.Hash, &size, &modified); err != nil {
			return nil, fmt.Errorf("store: scanning hash cache row: %w", err)
		}
		c.FileSize = uint64(size)
		c.ModifiedAt = modified
		result[c.RelativePath] = c
	}

	return result, rows.Err()
}

// PutHashCacheEntry inserts or replaces one cached device hash.
func (s *Store) PutHashCacheEntry(ctx context.Context, profileID string, c model.CachedFileHash) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hash_cache (profile_id, relative_path, hash, file_size, modified_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(profile_id, relative_path) DO UPDATE SET
			hash = excluded.hash, file_size = excluded.file_size, modified_at = excluded.modified_at`,
		profileID, c.RelativePath, c.Hash, int64(c.FileSize), c.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upserting hash cache entry for %s: %w", c.RelativePath, err)
	}
	return nil
}

// DeleteHashCacheEntry removes a cached device hash, if present.
func (s *Store) DeleteHashCacheEntry(ctx context.Context, profileID, relativePath string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM hash_cache WHERE profile_id = ? AND relative_path = ?`, profileID, relativePath)
	if err != nil {
		return fmt.Errorf("store: deleting hash cache entry for %s: %w", relativePath, err)
	}
	return nil
}

// --- Conflicts ------------------------------------------------------------

// ConflictRecord is a persisted conflict, resolved or not.
type ConflictRecord struct {
	ID           string
	ProfileID    string
	RelativePath string
	ConflictType model.ConflictType
	DetectedAt   int64
	SourceHash   string
	TargetHash   string
	SourceMtime  int64
	TargetMtime  int64
	Resolution   string
	ResolvedAt   int64
	ResolvedBy   string
}

// InsertConflict records a newly detected, unresolved conflict. conflict
// carries the classification the three-way merge decision table already
// computed; the ledger does not attempt to reconstruct it later, since a
// conflict's source/target presence alone cannot distinguish every type
// (notably ConflictFirstSyncDiffers from ConflictBothModified).
func (s *Store) InsertConflict(ctx context.Context, profileID string, c model.Conflict) (ConflictRecord, error) {
	rec := ConflictRecord{
		ID:           uuid.New().String(),
		ProfileID:    profileID,
		RelativePath: c.RelativePath,
		ConflictType: c.ConflictType,
		SourceHash:   c.Source.Hash,
		TargetHash:   c.Target.Hash,
		SourceMtime:  c.Source.ModifiedAt,
		TargetMtime:  c.Target.ModifiedAt,
		Resolution:   "unresolved",
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conflicts
			(id, profile_id, relative_path, conflict_type, detected_at,
			 source_hash, target_hash, source_mtime, target_mtime, resolution)
		VALUES (?, ?, ?, ?, strftime('%s','now'), ?, ?, ?, ?, 'unresolved')`,
		rec.ID, rec.ProfileID, rec.RelativePath, rec.ConflictType.String(),
		nullString(rec.SourceHash, c.Source.Known), nullString(rec.TargetHash, c.Target.Known),
		nullInt64(rec.SourceMtime, c.Source.Known), nullInt64(rec.TargetMtime, c.Target.Known),
	)
	if err != nil {
		return ConflictRecord{}, fmt.Errorf("store: inserting conflict for %s: %w", c.RelativePath, err)
	}

	return rec, nil
}

// ListUnresolvedConflicts returns every open conflict for a profile, oldest
// first.
func (s *Store) ListUnresolvedConflicts(ctx context.Context, profileID string) ([]ConflictRecord, error) {
	return s.queryConflicts(ctx, `
		SELECT id, profile_id, relative_path, conflict_type, detected_at,
		       source_hash, target_hash, source_mtime, target_mtime, resolution, resolved_at, resolved_by
		FROM conflicts WHERE profile_id = ? AND resolution = 'unresolved'
		ORDER BY detected_at`, profileID)
}

// ListAllConflicts returns every conflict (resolved and unresolved) for a
// profile, newest first.
func (s *Store) ListAllConflicts(ctx context.Context, profileID string) ([]ConflictRecord, error) {
	return s.queryConflicts(ctx, `
		SELECT id, profile_id, relative_path, conflict_type, detected_at,
		       source_hash, target_hash, source_mtime, target_mtime, resolution, resolved_at, resolved_by
		FROM conflicts WHERE profile_id = ?
		ORDER BY detected_at DESC`, profileID)
}

func (s *Store) queryConflicts(ctx context.Context, query string, args ...any) ([]ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: querying conflicts: %w", err)
	}
	defer rows.Close()

	var out []ConflictRecord
	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}

// GetConflict looks up a conflict by ID.
func (s *Store) GetConflict(ctx context.Context, id string) (ConflictRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, profile_id, relative_path, conflict_type, detected_at,
		       source_hash, target_hash, source_mtime, target_mtime, resolution, resolved_at, resolved_by
		FROM conflicts WHERE id = ?`, id)

	rec, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ConflictRecord{}, syncerr.ErrNotFound
	}
	return rec, err
}

// ResolveConflict marks a conflict resolved with the given strategy name.
// Only affects unresolved conflicts: a repeated call leaves the first
// resolution in place and returns an error wrapping syncerr.ErrNotFound.
func (s *Store) ResolveConflict(ctx context.Context, id, resolution, resolvedBy string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conflicts SET resolution = ?, resolved_at = strftime('%s','now'), resolved_by = ?
		WHERE id = ? AND resolution = 'unresolved'`, resolution, resolvedBy, id)
	if err != nil {
		return fmt.Errorf("store: resolving conflict %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: checking rows affected for conflict %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: conflict %s: %w", id, syncerr.ErrNotFound)
	}

	return nil
}

type conflictRowScanner interface {
	Scan(dest ...any) error
}

func scanConflict(row conflictRowScanner) (ConflictRecord, error) {
	var (
		rec          ConflictRecord
		conflictType string
		sourceHash   sql.NullString
		targetHash   sql.NullString
		sourceMtime  sql.NullInt64
		targetMtime  sql.NullInt64
		resolvedAt   sql.NullInt64
		resolvedBy   sql.NullString
	)

	err := row.Scan(
		&rec.ID, &rec.ProfileID, &rec.RelativePath, &conflictType, &rec.DetectedAt,
		&sourceHash, &targetHash, &sourceMtime, &targetMtime, &rec.Resolution, &resolvedAt, &resolvedBy,
	)
	if err != nil {
		return ConflictRecord{}, err
	}

	rec.ConflictType = parseConflictType(conflictType)
	rec.SourceHash = sourceHash.String
	rec.TargetHash = targetHash.String
	rec.SourceMtime = sourceMtime.Int64
	rec.TargetMtime = targetMtime.Int64
	rec.ResolvedAt = resolvedAt.Int64
	rec.ResolvedBy = resolvedBy.String

	return rec, nil
}

func parseConflictType(s string) model.ConflictType {
	switch s {
	case model.ConflictBothModified.String():
		return model.ConflictBothModified
	case model.ConflictDeletedAndModified.String():
		return model.ConflictDeletedAndModified
	case model.ConflictFirstSyncDiffers.String():
		return model.ConflictFirstSyncDiffers
	default:
		return 0
	}
}

// --- Nullable helpers: zero-value-or-absent -> NULL. -----------------------

func nullString(s string, known bool) sql.NullString {
	if !known || s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(n int64, known bool) sql.NullInt64 {
	if !known {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}

func nullInt64Ptr(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
