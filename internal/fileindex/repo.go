// Package fileindex implements the file index: the durable,
// DB-backed record of every supported file discovered under the source
// directory, its processing status, and the idempotency rule that lets
// both a full scan and a live watcher feed the same upsert path safely.
package fileindex

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openphotoalbum/photo-engine/internal/logging"
	"github.com/openphotoalbum/photo-engine/internal/models"
	"github.com/openphotoalbum/photo-engine/internal/storage"
)

// Repo is the file index's repository. A path is unique; rediscovering a
// path whose size or mod time changed resets it to pending and clears
// hash, retry count, and last error, regardless of which caller (scan or
// watch) observed the change.
type Repo struct {
	db     *storage.DB
	logger *logging.Logger
}

func NewRepo(db *storage.DB, log *logging.Logger) *Repo {
	return &Repo{db: db, logger: log.WithField("component", "fileindex")}
}

// Upsert records path as discovered. If the path is new, it is inserted
// as pending. If it already exists and (size, modTime) are unchanged,
// nothing happens. If they changed, the row resets to pending and its
// hash/retry/error state is cleared, since the file's content may have
// changed underneath a previously-completed entry.
func (r *Repo) Upsert(ctx context.Context, path string, size int64, modTime time.Time) (wasNew bool, err error) {
	const q = `
		INSERT INTO file_index_entries (path, size, mod_time, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (path) DO UPDATE SET
			size = EXCLUDED.size,
			mod_time = EXCLUDED.mod_time,
			status = 'pending',
			hash = NULL,
			retry_count = 0,
			last_error = NULL
		WHERE file_index_entries.size IS DISTINCT FROM EXCLUDED.size
		   OR file_index_entries.mod_time IS DISTINCT FROM EXCLUDED.mod_time
		RETURNING (xmax = 0)`

	row := r.db.QueryRow(ctx, q, path, size, modTime)
	if err := row.Scan(&wasNew); err != nil {
		if err == pgx.ErrNoRows {
			// Conflict hit but WHERE clause didn't match: path already
			// known with identical size/mtime. Nothing to do.
			return false, nil
		}
		return false, fmt.Errorf("upsert file index entry: %w", err)
	}
	return wasNew, nil
}

// GetPending returns up to limit entries in pending status, oldest
// discovered first.
func (r *Repo) GetPending(ctx context.Context, limit int) ([]models.FileIndexEntry, error) {
	const q = `
		SELECT id, path, size, mod_time, hash, discovered_at, status, last_processed, retry_count, last_error
		FROM file_index_entries
		WHERE status = 'pending'
		ORDER BY discovered_at ASC
		LIMIT $1`

	rows, err := r.db.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending entries: %w", err)
	}
	defer rows.Close()

	var entries []models.FileIndexEntry
	for rows.Next() {
		var e models.FileIndexEntry
		if err := rows.Scan(&e.ID, &e.Path, &e.Size, &e.ModTime, &e.Hash, &e.DiscoveredAt, &e.Status, &e.LastProcessed, &e.RetryCount, &e.LastError); err != nil {
			return nil, fmt.Errorf("scan file index entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkProcessing transitions path to processing.
func (r *Repo) MarkProcessing(ctx context.Context, path string) error {
	const q = `UPDATE file_index_entries SET status = 'processing' WHERE path = $1`
	return r.db.Exec(ctx, q, path)
}

// MarkCompleted transitions path to completed and records its content hash.
func (r *Repo) MarkCompleted(ctx context.Context, path, hash string) error {
	const q = `
		UPDATE file_index_entries
		SET status = 'completed', hash = $2, last_processed = now()
		WHERE path = $1`
	return r.db.Exec(ctx, q, path, hash)
}

// MarkFailed transitions path to failed, atomically incrementing its
// retry count and recording the error.
func (r *Repo) MarkFailed(ctx context.Context, path, errMsg string) error {
	const q = `
		UPDATE file_index_entries
		SET status = 'failed', retry_count = retry_count + 1, last_error = $2, last_processed = now()
		WHERE path = $1`
	return r.db.Exec(ctx, q, path, errMsg)
}

// Stats groups entry counts by status.
func (r *Repo) Stats(ctx context.Context) (models.IndexStats, error) {
	const q = `SELECT status, count(*) FROM file_index_entries GROUP BY status`

	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return models.IndexStats{}, fmt.Errorf("query index stats: %w", err)
	}
	defer rows.Close()

	var stats models.IndexStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return models.IndexStats{}, fmt.Errorf("scan index stats: %w", err)
		}
		switch models.ProcessingStatus(status) {
		case models.StatusPending:
			stats.Pending = count
		case models.StatusProcessing:
			stats.Processing = count
		case models.StatusCompleted:
			stats.Completed = count
		case models.StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}
