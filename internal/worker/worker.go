// Package worker registers the engine's job handlers against the
// priority queue: each asynq task kind maps to one handler method
// below, which pulls the job's typed payload, runs the matching
// component, and reports progress/completion through JobTracker.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openphotoalbum/photo-engine/internal/clustering"
	"github.com/openphotoalbum/photo-engine/internal/consistency"
	"github.com/openphotoalbum/photo-engine/internal/fileindex"
	"github.com/openphotoalbum/photo-engine/internal/logging"
	"github.com/openphotoalbum/photo-engine/internal/metrics"
	"github.com/openphotoalbum/photo-engine/internal/pipeline"
	"github.com/openphotoalbum/photo-engine/internal/queue"
	"github.com/openphotoalbum/photo-engine/internal/smartalbum"
	"github.com/openphotoalbum/photo-engine/internal/trainer"
)

// smartAlbumBatchSleep throttles back-to-back smart-album evaluations
// so a burst of image_processing completions doesn't starve other
// queues of worker slots.
const smartAlbumBatchSleep = 50 * time.Millisecond

// Worker holds every component a job handler might dispatch into.
type Worker struct {
	pipeline  *pipeline.Pipeline
	scanner   *fileindex.Scanner
	fileindex *fileindex.Repo
	albums    *smartalbum.Engine
	trainer   *trainer.Trainer
	consist   *consistency.Manager
	cluster   *clustering.Engine

	tracker *queue.JobTracker
	metrics *metrics.Metrics
	logger  *logging.Logger
}

func New(
	p *pipeline.Pipeline,
	scanner *fileindex.Scanner,
	idx *fileindex.Repo,
	albums *smartalbum.Engine,
	tr *trainer.Trainer,
	cons *consistency.Manager,
	clust *clustering.Engine,
	tracker *queue.JobTracker,
	m *metrics.Metrics,
	log *logging.Logger,
) *Worker {
	return &Worker{
		pipeline: p, scanner: scanner, fileindex: idx, albums: albums,
		trainer: tr, consist: cons, cluster: clust,
		tracker: tracker, metrics: m, logger: log.WithField("component", "worker"),
	}
}

// decodePayload unmarshals an asynq task's body into queue.Payload.
func decodePayload(t *asynq.Task) (queue.Payload, error) {
	var p queue.Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode job payload: %w", err)
	}
	return p, nil
}

// stringData reads a string field out of a payload's loosely-typed Data map.
func stringData(data map[string]interface{}, key string) (string, bool) {
	v, ok := data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// int64Data reads a numeric field out of a payload's loosely-typed Data
// map; JSON numbers decode to float64 through map[string]interface{}.
func int64Data(data map[string]interface{}, key string) (int64, bool) {
	v, ok := data[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return int64(f), ok
}

// withJob wraps handler logic with JobTracker lifecycle bookkeeping:
// begin/complete/fail plus the per-job timeout context. The handler
// itself owns cooperative cancellation checks at its own batch
// boundaries between iterations rather than mid-item.
func (w *Worker) withJob(ctx context.Context, jobID string, fn func(context.Context) error) error {
	jobCtx, cancel := w.tracker.Begin(ctx, jobID, 0)
	defer cancel()

	err := fn(jobCtx)

	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		w.tracker.MarkTimeout(jobID)
		if w.metrics != nil {
			w.metrics.IncJobsTimedOut()
		}
		return fmt.Errorf("job %s: %w", jobID, jobCtx.Err())
	}
	if err != nil {
		w.tracker.Fail(jobID, err.Error())
		if w.metrics != nil {
			w.metrics.IncJobsProcessed("failed")
		}
		return err
	}

	w.tracker.Complete(jobID)
	if w.metrics != nil {
		w.metrics.IncJobsProcessed("completed")
	}
	return nil
}

// HandleImageProcessing runs the full per-image pipeline against the
// path named in the payload. A *pipeline.DuplicateFile result is logged
// and treated as a successful completion, not an error.
func (w *Worker) HandleImageProcessing(ctx context.Context, t *asynq.Task) error {
	p, err := decodePayload(t)
	if err != nil {
		return err
	}
	path, ok := stringData(p.Data, "path")
	if !ok {
		return fmt.Errorf("image_processing job %s: missing path", p.JobID)
	}

	return w.withJob(ctx, p.JobID, func(jobCtx context.Context) error {
		if err := w.fileindex.MarkProcessing(jobCtx, path); err != nil {
			w.logger.WithError(err).Warn("failed to mark file index entry processing")
		}

		img, err := w.pipeline.Process(jobCtx, path)
		var dup *pipeline.DuplicateFile
		if errors.As(err, &dup) {
			w.logger.WithField("hash", dup.Hash).Info("image_processing job completed as duplicate no-op")
			if markErr := w.fileindex.MarkCompleted(jobCtx, path, dup.Hash); markErr != nil {
				w.logger.WithError(markErr).Warn("failed to record file index completion")
			}
			return nil
		}
		if err != nil {
			if markErr := w.fileindex.MarkFailed(jobCtx, path, err.Error()); markErr != nil {
				w.logger.WithError(markErr).Warn("failed to record file index failure")
			}
			return fmt.Errorf("process image: %w", err)
		}

		if markErr := w.fileindex.MarkCompleted(jobCtx, path, img.Hash); markErr != nil {
			w.logger.WithError(markErr).Warn("failed to record file index completion")
		}
		return nil
	})
}

// HandleScan runs one fileindex scan pass and enqueues nothing itself;
// discovered files are picked up by the caller's own backlog driver
// (internal/dispatch's drain trigger, started by cmd/engine) via
// fileindex.Repo.GetPending.
func (w *Worker) HandleScan(ctx context.Context, t *asynq.Task) error {
	p, err := decodePayload(t)
	if err != nil {
		return err
	}

	return w.withJob(ctx, p.JobID, func(jobCtx context.Context) error {
		result, err := w.scanner.Scan(jobCtx)
		if errors.Is(err, fileindex.ErrScanInProgress) {
			w.logger.Debug("scan job skipped, another scan already in progress")
			return nil
		}
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		w.tracker.UpdateProgress(p.JobID, result.FilesFound, result.FilesFound)
		return nil
	})
}

// HandleSmartAlbums re-evaluates every active album against one image,
// sleeping smartAlbumBatchSleep afterward as this job kind's own
// cooperative-cancellation point.
func (w *Worker) HandleSmartAlbums(ctx context.Context, t *asynq.Task) error {
	p, err := decodePayload(t)
	if err != nil {
		return err
	}
	imageID, ok := int64Data(p.Data, "image_id")
	if !ok {
		return fmt.Errorf("smart_albums job %s: missing image_id", p.JobID)
	}

	return w.withJob(ctx, p.JobID, func(jobCtx context.Context) error {
		if err := w.albums.ProcessImage(jobCtx, imageID); err != nil {
			return fmt.Errorf("process image for albums: %w", err)
		}
		select {
		case <-jobCtx.Done():
			return jobCtx.Err()
		case <-time.After(smartAlbumBatchSleep):
		}
		return nil
	})
}

// HandleFaceRecognition drains up to one batch of the selective
// trainer's FIFO training queue.
func (w *Worker) HandleFaceRecognition(ctx context.Context, t *asynq.Task) error {
	p, err := decodePayload(t)
	if err != nil {
		return err
	}

	return w.withJob(ctx, p.JobID, func(jobCtx context.Context) error {
		processed, err := w.trainer.ProcessQueue(jobCtx)
		if err != nil {
			return fmt.Errorf("process training queue: %w", err)
		}
		w.tracker.UpdateProgress(p.JobID, processed, processed)
		return nil
	})
}

// HandleFaceDetection and HandleObjectDetection are placeholders for
// re-running a single extractor against an already-ingested image;
// the full pipeline already runs both inline during image_processing,
// so these only re-trigger smart-album evaluation, which is the only
// downstream step whose membership set depends on detection output.
func (w *Worker) HandleFaceDetection(ctx context.Context, t *asynq.Task) error {
	return w.HandleSmartAlbums(ctx, t)
}

func (w *Worker) HandleObjectDetection(ctx context.Context, t *asynq.Task) error {
	return w.HandleSmartAlbums(ctx, t)
}

// HandleThumbnail is a no-op completion: thumbnails are generated
// inline by internal/pipeline.ImageProcessor during image_processing;
// this handler exists only so a stray thumbnail-kind task (e.g. from a
// queue snapshot restored after a schema change) completes cleanly
// rather than dead-lettering.
func (w *Worker) HandleThumbnail(ctx context.Context, t *asynq.Task) error {
	p, err := decodePayload(t)
	if err != nil {
		return err
	}
	return w.withJob(ctx, p.JobID, func(context.Context) error { return nil })
}

// RunConsistencyCheck is invoked on a schedule (not via the job queue)
// to reconcile local and face-service state.
func (w *Worker) RunConsistencyCheck(ctx context.Context) {
	report, err := w.consist.EnsureConsistency(ctx, consistency.Options{CheckPersons: true, CheckFaces: true, AutoRepair: true})
	if err != nil {
		w.logger.WithError(err).Warn("scheduled consistency check failed")
		return
	}
	if w.metrics != nil {
		for _, f := range report.Flags {
			w.metrics.IncConsistencyFlag(f.Kind)
		}
	}
	if len(report.Flags) > 0 {
		w.logger.WithField("flags", len(report.Flags)).Info("consistency check raised flags")
	}
}

// RunAutoTraining is invoked on a schedule to queue eligible persons
// for training once enough untrained faces have accumulated.
func (w *Worker) RunAutoTraining(ctx context.Context) {
	queued, err := w.trainer.RunAutoTrainingPass(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("scheduled auto-training pass failed")
		return
	}
	if queued > 0 {
		w.logger.WithField("queued", queued).Info("auto-training pass queued persons")
	}
}

// RunTrainingQueue is invoked on a schedule to drain the selective
// trainer's FIFO training queue — the same work HandleFaceRecognition
// does, run directly rather than waiting for something to enqueue that
// job kind, since RunAutoTraining only ever inserts pending rows.
func (w *Worker) RunTrainingQueue(ctx context.Context) {
	processed, err := w.trainer.ProcessQueue(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("scheduled training queue pass failed")
		return
	}
	if processed > 0 {
		w.logger.WithField("processed", processed).Info("training queue pass processed jobs")
	}
}

// RunClusteringPass is invoked on a schedule to suggest known persons
// for recognized faces and cluster the remainder.
func (w *Worker) RunClusteringPass(ctx context.Context) {
	suggestions, residual, err := w.cluster.SuggestKnownPersons(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("scheduled clustering suggestion pass failed")
		return
	}
	if w.metrics != nil {
		w.metrics.AddSuggestionsEmitted(len(suggestions))
	}

	clusters, err := w.cluster.ClusterUnknown(ctx, residual)
	if err != nil {
		w.logger.WithError(err).Warn("scheduled clustering pass failed")
		return
	}
	if err := w.cluster.Persist(ctx, clusters); err != nil {
		w.logger.WithError(err).Warn("persisting clusters failed")
		return
	}
	if w.metrics != nil {
		for range clusters {
			w.metrics.IncClustersCreated()
		}
	}
	if len(clusters) > 0 {
		w.logger.WithField("clusters", len(clusters)).Info("clustering pass created clusters")
	}
}
