// Package dispatch bridges the file index's pending backlog to the
// priority job queue: nothing else turns a discovered-but-unprocessed
// FileIndexEntry into an image_processing job, so this is the engine's
// own backlog driver, running a periodic scan trigger alongside a
// periodic drain of whatever the scan (or the live watcher) queued up.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openphotoalbum/photo-engine/internal/fileindex"
	"github.com/openphotoalbum/photo-engine/internal/logging"
	"github.com/openphotoalbum/photo-engine/internal/queue"
)

// Dispatcher periodically drains the file index's pending backlog onto
// the job queue and periodically triggers a fresh filesystem scan.
type Dispatcher struct {
	index        *fileindex.Repo
	scanner      *fileindex.Scanner
	client       *queue.Client
	tracker      *queue.JobTracker
	batchSize    int
	drainEvery   time.Duration
	scanEvery    time.Duration
	logger       *logging.Logger
}

// Config carries the dispatcher's tunables.
type Config struct {
	// BatchSize is how many pending entries are enqueued per drain tick;
	// matches server.scanBatchSize so the queue never gets further ahead
	// of the index than one worker-pool-sized batch.
	BatchSize int
	// DrainInterval is how often the pending backlog is polled.
	DrainInterval time.Duration
	// ScanInterval is how often a full filesystem rescan is triggered.
	ScanInterval time.Duration
}

func New(index *fileindex.Repo, scanner *fileindex.Scanner, client *queue.Client, tracker *queue.JobTracker, cfg Config, log *logging.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 10 * time.Second
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Minute
	}
	return &Dispatcher{
		index: index, scanner: scanner, client: client, tracker: tracker,
		batchSize: cfg.BatchSize, drainEvery: cfg.DrainInterval, scanEvery: cfg.ScanInterval,
		logger: log.WithField("component", "dispatch"),
	}
}

// Run blocks, draining the pending backlog and triggering periodic
// rescans, until ctx is cancelled. Callers run it in its own goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	drainTicker := time.NewTicker(d.drainEvery)
	defer drainTicker.Stop()
	scanTicker := time.NewTicker(d.scanEvery)
	defer scanTicker.Stop()

	// Kick off an immediate scan so the first drain tick has something
	// to work with on a cold start.
	d.triggerScan(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-scanTicker.C:
			d.triggerScan(ctx)
		case <-drainTicker.C:
			d.drainPending(ctx)
		}
	}
}

func (d *Dispatcher) triggerScan(ctx context.Context) {
	result, err := d.scanner.Scan(ctx)
	if err != nil {
		d.logger.WithError(err).Warn("periodic scan failed")
		return
	}
	d.logger.WithFields(map[string]interface{}{
		"found": result.FilesFound, "new": result.FilesNew, "skipped": result.FilesSkipped,
	}).Info("periodic scan completed")
}

func (d *Dispatcher) drainPending(ctx context.Context) {
	entries, err := d.index.GetPending(ctx, d.batchSize)
	if err != nil {
		d.logger.WithError(err).Warn("failed to read pending backlog")
		return
	}
	for _, e := range entries {
		jobID := uuid.NewString()
		d.tracker.Register(jobID, queue.KindImageProcessing, queue.PriorityNormal, map[string]interface{}{"path": e.Path})
		if _, err := d.client.Enqueue(ctx, jobID, queue.KindImageProcessing, queue.PriorityNormal,
			map[string]interface{}{"path": e.Path}, time.Hour); err != nil {
			d.logger.WithError(err).WithField("path", e.Path).Warn("failed to enqueue image_processing job")
			continue
		}
	}
	if len(entries) > 0 {
		d.logger.WithField("count", len(entries)).Debug("enqueued pending backlog batch")
	}
}
