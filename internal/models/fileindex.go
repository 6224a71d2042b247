package models

import (
	"database/sql"
	"time"
)

// ProcessingStatus tracks a FileIndexEntry through its lifecycle. State
// transitions are owned exclusively by the file index (D) and pipeline (E).
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// FileIndexEntry is inserted on discovery, unique by Path. Rediscovering a
// path whose (Size, ModTime) changed resets it to pending and clears Hash,
// RetryCount, and LastError.
type FileIndexEntry struct {
	ID            int64            `db:"id"`
	Path          string           `db:"path"`
	Size          int64            `db:"size"`
	ModTime       time.Time        `db:"mod_time"`
	Hash          sql.NullString   `db:"hash"`
	DiscoveredAt  time.Time        `db:"discovered_at"`
	Status        ProcessingStatus `db:"status"`
	LastProcessed sql.NullTime     `db:"last_processed"`
	RetryCount    int              `db:"retry_count"`
	LastError     sql.NullString   `db:"last_error"`
}

// IndexStats groups file counts by ProcessingStatus.
type IndexStats struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}
