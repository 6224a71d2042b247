// Package trainer implements the selective trainer: controlled
// upload of verified faces to the external face-recognition service,
// plus the training queue and periodic auto-training selection that
// drive it.
package trainer

import (
	"context"
	"fmt"

	"github.com/openphotoalbum/photo-engine/internal/errs"
	"github.com/openphotoalbum/photo-engine/internal/faceservice"
	"github.com/openphotoalbum/photo-engine/internal/logging"
	"github.com/openphotoalbum/photo-engine/internal/models"
	"github.com/openphotoalbum/photo-engine/internal/repository"
	"github.com/openphotoalbum/photo-engine/internal/store"
)

// Config carries the thresholds the workflow rules are parameterized by.
type Config struct {
	MinFacesThreshold     int
	TrainingIntervalHours int
	AutoTrainingEnabled   bool
}

// Trainer uploads a person's verified faces to the face service and
// drives the training_jobs queue.
type Trainer struct {
	cfg        Config
	persons    *repository.PersonRepo
	faces      *repository.FaceRepo
	training   *repository.TrainingRepo
	store      *store.Store
	faceClient *faceservice.Client
	logger     *logging.Logger
}

func New(cfg Config, persons *repository.PersonRepo, faces *repository.FaceRepo, training *repository.TrainingRepo, st *store.Store, faceClient *faceservice.Client, log *logging.Logger) *Trainer {
	if cfg.TrainingIntervalHours <= 0 {
		cfg.TrainingIntervalHours = 24 * 30
	}
	return &Trainer{
		cfg: cfg, persons: persons, faces: faces, training: training,
		store: st, faceClient: faceClient, logger: log.WithField("component", "trainer"),
	}
}

// Result is TrainPerson's outcome.
type Result struct {
	PersonID  int64
	Uploaded  int
	Skipped   int
	SubjectID string
	Errors    []string
}

// TrainPerson uploads every face belonging to personID that is
// user-assigned and not yet synced, capped at maxFacesPerPerson if
// positive. It ensures a face-service subject exists first, logs every
// upload attempt, and leaves the person in a terminal recognition
// status (trained if anything uploaded, failed otherwise).
func (t *Trainer) TrainPerson(ctx context.Context, personID int64, maxFacesPerPerson int) (*Result, error) {
	person, err := t.persons.GetByID(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("load person: %w", err)
	}

	untrained, err := t.faces.Untrained(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("load untrained faces: %w", err)
	}

	eligible := filterEligibleFaces(untrained, maxFacesPerPerson)

	subjectID := person.FaceServiceSubjectID.String
	if subjectID == "" {
		subjectID = fmt.Sprintf("person-%d", person.ID)
		if err := t.faceClient.CreateSubject(ctx, subjectID); err != nil {
			return nil, fmt.Errorf("create face service subject: %w", err)
		}
		if err := t.persons.SetFaceServiceSubjectID(ctx, person.ID, subjectID); err != nil {
			return nil, fmt.Errorf("persist subject id: %w", err)
		}
	}
	if err := t.persons.SetRecognitionStatus(ctx, person.ID, models.RecognitionTraining, person.TrainingFaceCount); err != nil {
		return nil, fmt.Errorf("set training status: %w", err)
	}

	result := &Result{PersonID: person.ID, SubjectID: subjectID}
	for _, f := range eligible {
		path := t.resolveFacePath(f)
		resp, err := t.faceClient.AddFaceFromPath(ctx, subjectID, path)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			if logErr := t.training.LogAttempt(ctx, f.ID, person.ID, false, "", err.Error()); logErr != nil {
				t.logger.WithError(logErr).Warn("failed to record training log entry")
			}
			continue
		}
		if err := t.faces.MarkSynced(ctx, f.ID); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Uploaded++
		if logErr := t.training.LogAttempt(ctx, f.ID, person.ID, true, resp.ImageID, ""); logErr != nil {
			t.logger.WithError(logErr).Warn("failed to record training log entry")
		}
	}
	result.Skipped = len(untrained) - len(eligible)

	status := terminalRecognitionStatus(result.Uploaded)
	if err := t.persons.SetRecognitionStatus(ctx, person.ID, status, person.TrainingFaceCount+result.Uploaded); err != nil {
		return nil, fmt.Errorf("set terminal recognition status: %w", err)
	}
	return result, nil
}

func (t *Trainer) resolveFacePath(f models.DetectedFace) string {
	if f.LegacyFacePath.Valid && f.LegacyFacePath.String != "" {
		return f.LegacyFacePath.String
	}
	return t.store.ResolveFacePath(f.FaceImagePath.String)
}

// filterEligibleFaces keeps only user-assigned faces and applies the
// optional per-person cap.
func filterEligibleFaces(faces []models.DetectedFace, maxFacesPerPerson int) []models.DetectedFace {
	var eligible []models.DetectedFace
	for _, f := range faces {
		if !f.AssignedBy.Valid || f.AssignedBy.String != string(models.AssignedByUser) {
			continue
		}
		eligible = append(eligible, f)
	}
	if maxFacesPerPerson > 0 && len(eligible) > maxFacesPerPerson {
		eligible = eligible[:maxFacesPerPerson]
	}
	return eligible
}

// terminalRecognitionStatus is trained if at least one face uploaded,
// failed otherwise — a run that finds nothing eligible still uploads
// nothing and is therefore failed, not a no-op.
func terminalRecognitionStatus(uploaded int) models.RecognitionStatus {
	if uploaded > 0 {
		return models.RecognitionTrained
	}
	return models.RecognitionFailed
}

// jobSuccessRate is uploaded / (uploaded + failed), or 1.0 when nothing
// was attempted at all.
func jobSuccessRate(uploaded, failed int) float64 {
	total := uploaded + failed
	if total == 0 {
		return 1.0
	}
	return float64(uploaded) / float64(total)
}

// jobTerminalStatus is failed only when every attempt failed; any
// partial success still completes the job.
func jobTerminalStatus(uploaded, failed int) models.TrainingJobStatus {
	if uploaded == 0 && failed > 0 {
		return models.TrainingJobFailed
	}
	return models.TrainingJobCompleted
}

// QueuePersonForTraining enqueues a training job for personID, refusing
// with an InvalidInput error if the person doesn't meet the face-count
// threshold or already has a non-terminal job queued.
func (t *Trainer) QueuePersonForTraining(ctx context.Context, personID int64, jobType models.TrainingJobType) (*models.TrainingJob, error) {
	person, err := t.persons.GetByID(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("load person: %w", err)
	}
	if person.FaceCount < t.cfg.MinFacesThreshold {
		return nil, errs.New(errs.KindInvalidInput, fmt.Sprintf(
			"person %d has %d faces, below minFacesThreshold %d", personID, person.FaceCount, t.cfg.MinFacesThreshold))
	}
	exists, err := t.training.NonTerminalExists(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("check non-terminal job: %w", err)
	}
	if exists {
		return nil, errs.New(errs.KindInvalidInput, fmt.Sprintf("person %d already has a non-terminal training job", personID))
	}

	id, err := t.training.Enqueue(ctx, personID, jobType)
	if err != nil {
		return nil, fmt.Errorf("enqueue training job: %w", err)
	}
	return t.training.GetJob(ctx, id)
}

// ProcessQueue runs up to 5 pending jobs FIFO, training each person and
// transitioning the job's status.
func (t *Trainer) ProcessQueue(ctx context.Context) (processed int, err error) {
	jobs, err := t.training.PendingFIFO(ctx, 5)
	if err != nil {
		return 0, fmt.Errorf("load pending training jobs: %w", err)
	}
	for _, job := range jobs {
		if err := t.training.MarkRunning(ctx, job.ID); err != nil {
			t.logger.WithError(err).WithField("job_id", job.ID).Warn("failed to mark training job running")
			continue
		}
		result, terr := t.TrainPerson(ctx, job.PersonID, 0)
		if terr != nil {
			t.logger.WithError(terr).WithField("job_id", job.ID).Warn("training job failed")
			if cerr := t.training.Complete(ctx, job.ID, models.TrainingJobFailed, 0, 0, 0); cerr != nil {
				t.logger.WithError(cerr).Warn("failed to mark training job failed")
			}
			continue
		}
		successRate := jobSuccessRate(result.Uploaded, len(result.Errors))
		status := jobTerminalStatus(result.Uploaded, len(result.Errors))
		if err := t.training.Complete(ctx, job.ID, status, result.Uploaded, len(result.Errors), successRate); err != nil {
			t.logger.WithError(err).WithField("job_id", job.ID).Warn("failed to complete training job")
			continue
		}
		processed++
	}
	return processed, nil
}

// RunAutoTrainingPass selects up to 10 eligible persons per pass and
// queues them for training, skipping anyone already guarded out.
func (t *Trainer) RunAutoTrainingPass(ctx context.Context) (queued int, err error) {
	if !t.cfg.AutoTrainingEnabled {
		return 0, nil
	}
	candidates, err := t.training.CandidatesForAutoTraining(ctx, t.cfg.MinFacesThreshold, t.cfg.TrainingIntervalHours, 10)
	if err != nil {
		return 0, fmt.Errorf("select auto-training candidates: %w", err)
	}
	for _, personID := range candidates {
		if _, err := t.QueuePersonForTraining(ctx, personID, models.TrainingIncremental); err != nil {
			t.logger.WithError(err).WithField("person_id", personID).Debug("auto-training candidate not queued")
			continue
		}
		queued++
	}
	return queued, nil
}
