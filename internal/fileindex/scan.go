package fileindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/openphotoalbum/photo-engine/internal/logging"
	"github.com/openphotoalbum/photo-engine/internal/store"
)

// yieldEvery controls how often Scan hands control back to the scheduler
// (and lets a concurrently-cancelled context take effect) during a large
// directory walk.
const yieldEvery = 50

// Scanner performs a one-shot, idempotent walk of a source directory,
// upserting every supported file it finds into the file index.
type Scanner struct {
	repo      *Repo
	sourceDir string
	logger    *logging.Logger

	scanning int32 // guards against overlapping scans (single-flight)
}

func NewScanner(repo *Repo, sourceDir string, log *logging.Logger) *Scanner {
	return &Scanner{
		repo:      repo,
		sourceDir: sourceDir,
		logger:    log.WithField("subcomponent", "scanner"),
	}
}

// ScanResult summarizes a completed scan.
type ScanResult struct {
	FilesFound   int
	FilesNew     int
	FilesSkipped int
	Duration     time.Duration
}

// Scan walks sourceDir recursively, upserting every supported file. It is
// a no-op (returning ErrScanInProgress) if another scan is already
// running, so a periodic trigger and a manual rescan request never
// overlap.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	if !atomic.CompareAndSwapInt32(&s.scanning, 0, 1) {
		return ScanResult{}, ErrScanInProgress
	}
	defer atomic.StoreInt32(&s.scanning, 0)

	start := time.Now()
	var result ScanResult

	err := filepath.Walk(s.sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("error accessing path during scan")
			return nil
		}
		if info.IsDir() {
			return nil
		}

		result.FilesFound++
		if result.FilesFound%yieldEvery == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				runtime.Gosched() // yield to the scheduler
			}
		}

		if !store.IsSupportedFile(path) {
			result.FilesSkipped++
			return nil
		}

		wasNew, err := s.repo.Upsert(ctx, path, info.Size(), info.ModTime())
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("upsert failed during scan")
			return nil
		}
		if wasNew {
			result.FilesNew++
		}
		return nil
	})

	result.Duration = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("scan %s: %w", s.sourceDir, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"files_found":   result.FilesFound,
		"files_new":     result.FilesNew,
		"files_skipped": result.FilesSkipped,
		"duration_ms":   result.Duration.Milliseconds(),
	}).Info("scan completed")

	return result, nil
}

// ErrScanInProgress is returned by Scan when another scan is already running.
var ErrScanInProgress = fmt.Errorf("fileindex: scan already in progress")
