package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openphotoalbum/photo-engine/internal/logging"
)

// defaultJobTimeout is the default per-job timeout: a handler that
// doesn't finish in this window is marked Timeout and its context is
// cancelled so the handler can unwind at its next cooperative check.
const defaultJobTimeout = 5 * time.Minute

// restartDebounce is the minimum gap between successive "worker slot
// restarted" signals AllowRestart grants, across the whole pool.
const restartDebounce = 1 * time.Second

// JobTracker holds the in-process live state asynq itself doesn't
// expose: per-job progress, a cooperative cancellation flag checked at
// batch boundaries, wall-clock timeout enforcement, and a periodic sweep
// of terminal jobs so the map doesn't grow without bound.
type JobTracker struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
	logger  *logging.Logger

	lastRestart time.Time
}

func NewJobTracker(log *logging.Logger) *JobTracker {
	return &JobTracker{
		jobs:    make(map[string]*Job),
		cancels: make(map[string]context.CancelFunc),
		logger:  log.WithField("component", "job-tracker"),
	}
}

// Register records a job as pending, to be called at enqueue time.
func (t *JobTracker) Register(id string, kind Kind, priority Priority, data map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[id] = &Job{
		ID: id, Kind: kind, Priority: priority, Status: StatusPending,
		Data: data, CreatedAt: time.Now(),
	}
}

// Begin marks a job running and arms a timeout. The returned context is
// the one handlers must pass down to every blocking call; it is
// cancelled on timeout or on a later call to Cancel. The returned
// release func must be deferred by the caller to free the timer.
func (t *JobTracker) Begin(ctx context.Context, id string, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)

	t.mu.Lock()
	if j, ok := t.jobs[id]; ok {
		j.Status = StatusRunning
		j.StartedAt = time.Now()
	}
	t.cancels[id] = cancel
	t.mu.Unlock()

	return jobCtx, cancel
}

// UpdateProgress records progress/total for the status endpoint and
// estimates remaining duration from elapsed-time-per-unit so far.
func (t *JobTracker) UpdateProgress(id string, progress, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return
	}
	j.Progress = progress
	j.Total = total
	if progress > 0 && total > 0 && !j.StartedAt.IsZero() {
		elapsed := time.Since(j.StartedAt)
		perUnit := elapsed / time.Duration(progress)
		j.EstimatedRemaining = perUnit * time.Duration(total-progress)
	}
}

// Complete marks a job completed and releases its cancel func.
func (t *JobTracker) Complete(id string) {
	t.finish(id, StatusCompleted, "")
}

// Fail marks a job failed with the given error message.
func (t *JobTracker) Fail(id string, errMsg string) {
	t.finish(id, StatusFailed, errMsg)
}

// Cancel requests cooperative cancellation of a running job: it cancels
// the job's context (handlers should be checking ctx.Err() at batch
// boundaries) and marks it Cancelled.
func (t *JobTracker) Cancel(id string) error {
	t.mu.Lock()
	cancel, ok := t.cancels[id]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s is not running", id)
	}
	cancel()
	t.finish(id, StatusCancelled, "")
	return nil
}

// IsCancelled reports whether a running job has been asked to stop.
// Handlers call this (or check ctx.Err()) at their own batch
// boundaries within a larger extractor loop, to unwind cooperatively
// rather than being killed mid-write.
func (t *JobTracker) IsCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// MarkTimeout is called by the handler wrapper when ctx.Err() is
// DeadlineExceeded after the handler returns.
func (t *JobTracker) MarkTimeout(id string) {
	t.finish(id, StatusTimeout, "job exceeded timeout")
}

func (t *JobTracker) finish(id string, status Status, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return
	}
	j.Status = status
	j.CompletedAt = time.Now()
	if errMsg != "" {
		j.Errors = append(j.Errors, errMsg)
	}
	delete(t.cancels, id)
}

// Get returns a snapshot of a job's state.
func (t *JobTracker) Get(id string) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Snapshot returns every tracked job, for the ops status endpoint.
func (t *JobTracker) Snapshot() []Job {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, *j)
	}
	return out
}

// Sweep removes terminal jobs older than maxAge from the in-process map.
func (t *JobTracker) Sweep(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, j := range t.jobs {
		if j.Status.IsTerminal() && time.Since(j.CompletedAt) > maxAge {
			delete(t.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		t.logger.WithField("removed", removed).Debug("swept terminal jobs")
	}
	return removed
}

// AllowRestart reports true at most once per restartDebounce, tracked by a
// single pool-wide timestamp. NewServer uses it only to rate-limit the
// "worker slot restarted" log line; it does not delay or cap when asynq
// hands new work to a worker.
func (t *JobTracker) AllowRestart() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if time.Since(t.lastRestart) < restartDebounce {
		return false
	}
	t.lastRestart = time.Now()
	return true
}
