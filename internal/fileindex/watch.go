package fileindex

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openphotoalbum/photo-engine/internal/logging"
	"github.com/openphotoalbum/photo-engine/internal/store"
)

// Watcher keeps a live fsnotify watch on the source directory, with a
// polling fallback for filesystems (NFS, some network shares) where
// fsnotify doesn't deliver events reliably. Both paths feed the same
// repo.Upsert call the scanner uses, so discovery is idempotent
// regardless of which source noticed the file first.
type Watcher struct {
	repo         *Repo
	dir          string
	pollInterval time.Duration
	logger       *logging.Logger

	mu          sync.Mutex
	running     bool
	watchedDirs map[string]bool
	knownMTimes map[string]time.Time

	fsw *fsnotify.Watcher

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewWatcher(repo *Repo, dir string, pollInterval time.Duration, log *logging.Logger) *Watcher {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Minute
	}
	return &Watcher{
		repo:         repo,
		dir:          dir,
		pollInterval: pollInterval,
		logger:       log.WithField("subcomponent", "watcher"),
		watchedDirs:  make(map[string]bool),
		knownMTimes:  make(map[string]time.Time),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start begins watching. It blocks until ctx is cancelled or Stop is
// called, so callers run it in its own goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.WithError(err).Warn("fsnotify unavailable, falling back to polling only")
	} else {
		w.fsw = fsw
		if err := w.addWatchRecursive(w.dir); err != nil {
			w.logger.WithError(err).Warn("failed to add recursive watches")
		}
		go w.watchFSEvents(ctx)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.WithFields(map[string]interface{}{
		"dir":           w.dir,
		"poll_interval": w.pollInterval.String(),
		"fsnotify":      w.fsw != nil,
	}).Info("file index watcher started")

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		case <-w.stopChan:
			w.shutdown()
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopChan)
	<-w.doneChan
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if w.fsw != nil {
		w.fsw.Close()
	}
	w.running = false
	close(w.doneChan)
	w.logger.Info("file index watcher stopped")
}

func (w *Watcher) addWatchRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			w.addWatch(path)
		}
		return nil
	})
}

func (w *Watcher) addWatch(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watchedDirs[dir] {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		w.logger.WithError(err).WithField("dir", dir).Debug("failed to add watch")
		return
	}
	w.watchedDirs[dir] = true
}

func (w *Watcher) watchFSEvents(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("fsnotify error")
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleFSEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&fsnotify.Create == 0 && event.Op&fsnotify.Write == 0 {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return // deleted or inaccessible before we got to it
	}

	if info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			w.addWatch(event.Name)
		}
		return
	}

	if !store.IsSupportedFile(event.Name) {
		return
	}

	if !w.waitForStableFile(event.Name) {
		return
	}

	w.upsertIfChanged(ctx, event.Name)
}

// poll is the fallback pass: a plain recursive walk, same stability and
// dedup rules as the fsnotify path, for filesystems where fsnotify events
// are unreliable or absent.
func (w *Watcher) poll(ctx context.Context) {
	start := time.Now()
	var found int

	err := filepath.Walk(w.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		found++
		if !store.IsSupportedFile(path) {
			return nil
		}
		if !w.isFileStable(info) {
			return nil
		}
		w.upsertIfChanged(ctx, path)
		return nil
	})
	if err != nil {
		w.logger.WithError(err).Warn("poll walk error")
	}
	w.logger.WithFields(map[string]interface{}{
		"files_found": found,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("poll completed")
}

// upsertIfChanged skips the DB round-trip for files whose mtime we've
// already recorded in this process, then delegates the real idempotency
// decision to repo.Upsert.
func (w *Watcher) upsertIfChanged(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	if known, ok := w.knownMTimes[path]; ok && known.Equal(info.ModTime()) {
		w.mu.Unlock()
		return
	}
	w.knownMTimes[path] = info.ModTime()
	w.mu.Unlock()

	if _, err := w.repo.Upsert(ctx, path, info.Size(), info.ModTime()); err != nil {
		w.logger.WithError(err).WithField("path", path).Warn("upsert from watcher failed")
	}
}

// isFileStable reports whether a file looks done being written: large
// enough to not be a stub, and untouched for the last couple of seconds.
func (w *Watcher) isFileStable(info os.FileInfo) bool {
	return info.Size() >= 100 && time.Since(info.ModTime()) > 2*time.Second
}

// waitForStableFile polls path's size until it stops changing or a
// deadline passes, so a file still being copied into the source
// directory isn't indexed mid-write.
func (w *Watcher) waitForStableFile(path string) bool {
	deadline := time.Now().Add(30 * time.Second)
	var lastSize int64 = -1

	for time.Now().Before(deadline) {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.Size() == lastSize && w.isFileStable(info) {
			return true
		}
		lastSize = info.Size()
		time.Sleep(500 * time.Millisecond)
	}
	return false
}
