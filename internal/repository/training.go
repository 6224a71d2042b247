package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openphotoalbum/photo-engine/internal/models"
	"github.com/openphotoalbum/photo-engine/internal/storage"
)

// TrainingRepo persists TrainingJob and FaceTrainingLogEntry rows for
// the selective trainer's queue and per-upload audit trail.
type TrainingRepo struct {
	db *storage.DB
}

func NewTrainingRepo(db *storage.DB) *TrainingRepo { return &TrainingRepo{db: db} }

// NonTerminalExists reports whether personID already has a pending or
// running training job, the guard queuePersonForTraining enforces.
func (r *TrainingRepo) NonTerminalExists(ctx context.Context, personID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM training_jobs
			WHERE person_id = $1 AND status IN ('pending', 'running')
		)`, personID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check non-terminal training job: %w", err)
	}
	return exists, nil
}

func (r *TrainingRepo) Enqueue(ctx context.Context, personID int64, jobType models.TrainingJobType) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO training_jobs (person_id, type, status) VALUES ($1, $2, 'pending')
		RETURNING id`, personID, jobType).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue training job: %w", err)
	}
	return id, nil
}

// PendingFIFO returns up to limit pending jobs, oldest first, for
// processTrainingQueue's batch.
func (r *TrainingRepo) PendingFIFO(ctx context.Context, limit int) ([]models.TrainingJob, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, person_id, type, status, started_at, completed_at, success_rate,
		       added_count, failed_count, created_at
		FROM training_jobs WHERE status = 'pending' ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending training jobs: %w", err)
	}
	defer rows.Close()

	var out []models.TrainingJob
	for rows.Next() {
		j, err := scanTrainingJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan training job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (r *TrainingRepo) MarkRunning(ctx context.Context, jobID int64) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE training_jobs SET status = 'running', started_at = now() WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("mark training job running: %w", err)
	}
	return nil
}

// Complete transitions jobID to completed or failed and records its
// per-run counters.
func (r *TrainingRepo) Complete(ctx context.Context, jobID int64, status models.TrainingJobStatus, addedCount, failedCount int, successRate float64) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE training_jobs
		SET status = $1, completed_at = now(), added_count = $2, failed_count = $3, success_rate = $4
		WHERE id = $5`, status, addedCount, failedCount, successRate, jobID)
	if err != nil {
		return fmt.Errorf("complete training job: %w", err)
	}
	return nil
}

// CandidatesForAutoTraining selects persons eligible for periodic
// auto-training: face_count >= minFacesThreshold, recognition_status
// untrained/failed (always eligible) or trained-but-stale (last_trained_at
// older than the interval), with no non-terminal job already queued.
func (r *TrainingRepo) CandidatesForAutoTraining(ctx context.Context, minFacesThreshold int, trainingIntervalHours, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.id FROM persons p
		WHERE p.face_count >= $1
		  AND (
		    p.recognition_status IN ('untrained', 'failed')
		    OR (p.recognition_status = 'trained' AND p.last_trained_at < now() - ($2 || ' hours')::interval)
		  )
		  AND NOT EXISTS (
		    SELECT 1 FROM training_jobs t
		    WHERE t.person_id = p.id AND t.status IN ('pending', 'running')
		  )
		ORDER BY p.id LIMIT $3`, minFacesThreshold, trainingIntervalHours, limit)
	if err != nil {
		return nil, fmt.Errorf("query auto-training candidates: %w", err)
	}
	defer rows.Close()
	return scanInt64s(rows)
}

func scanTrainingJob(row pgx.Row) (*models.TrainingJob, error) {
	var j models.TrainingJob
	err := row.Scan(&j.ID, &j.PersonID, &j.Type, &j.Status, &j.StartedAt, &j.CompletedAt,
		&j.SuccessRate, &j.AddedCount, &j.FailedCount, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// LogAttempt records one face-upload attempt, successful or not.
func (r *TrainingRepo) LogAttempt(ctx context.Context, faceID, personID int64, success bool, serviceResponse, errMsg string) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO face_training_log_entries (face_id, person_id, success, service_response, error)
		VALUES ($1, $2, $3, $4, $5)`, faceID, personID, success, serviceResponse, errMsg)
	if err != nil {
		return fmt.Errorf("log training attempt: %w", err)
	}
	return nil
}

// GetJob fetches a single training job, used by callers checking the
// queue guard before enqueueing.
func (r *TrainingRepo) GetJob(ctx context.Context, id int64) (*models.TrainingJob, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, person_id, type, status, started_at, completed_at, success_rate,
		       added_count, failed_count, created_at
		FROM training_jobs WHERE id = $1`, id)
	j, err := scanTrainingJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get training job: %w", err)
	}
	return j, nil
}
