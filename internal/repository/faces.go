package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openphotoalbum/photo-engine/internal/models"
	"github.com/openphotoalbum/photo-engine/internal/storage"
)

// PersonRepo persists Person rows and their face assignments against
// this engine's detected_faces/persons schema, including merge and
// delete transactions that reassign or drop dependent face rows.
type PersonRepo struct {
	db *storage.DB
}

func NewPersonRepo(db *storage.DB) *PersonRepo { return &PersonRepo{db: db} }

func (r *PersonRepo) Create(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO persons (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create person: %w", err)
	}
	return id, nil
}

func (r *PersonRepo) GetByID(ctx context.Context, id int64) (*models.Person, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, face_service_subject_id, recognition_status, training_face_count,
		       last_trained_at, face_count, created_at, updated_at
		FROM persons WHERE id = $1`, id)
	p, err := scanPerson(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func scanPerson(row pgx.Row) (*models.Person, error) {
	var p models.Person
	err := row.Scan(&p.ID, &p.Name, &p.FaceServiceSubjectID, &p.RecognitionStatus, &p.TrainingFaceCount,
		&p.LastTrainedAt, &p.FaceCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindBySubjectID looks up the person owning a given face-service
// subject id, used by the clustering engine to resolve a Recognize
// match back to a Person.
func (r *PersonRepo) FindBySubjectID(ctx context.Context, subjectID string) (*models.Person, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, face_service_subject_id, recognition_status, training_face_count,
		       last_trained_at, face_count, created_at, updated_at
		FROM persons WHERE face_service_subject_id = $1`, subjectID)
	p, err := scanPerson(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find person by subject id: %w", err)
	}
	return p, nil
}

// ListAll returns every person, used by the consistency manager's sweep.
func (r *PersonRepo) ListAll(ctx context.Context) ([]models.Person, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, face_service_subject_id, recognition_status, training_face_count,
		       last_trained_at, face_count, created_at, updated_at
		FROM persons ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var out []models.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// SetRecognitionStatus updates a person's training lifecycle state after
// a selective-trainer run.
func (r *PersonRepo) SetRecognitionStatus(ctx context.Context, id int64, status models.RecognitionStatus, trainingFaceCount int) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE persons SET recognition_status = $1, training_face_count = $2,
		       last_trained_at = now(), updated_at = now()
		WHERE id = $3`, status, trainingFaceCount, id)
	if err != nil {
		return fmt.Errorf("set recognition status: %w", err)
	}
	return nil
}

func (r *PersonRepo) SetFaceServiceSubjectID(ctx context.Context, id int64, subjectID string) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE persons SET face_service_subject_id = $1, updated_at = now() WHERE id = $2`, subjectID, id)
	if err != nil {
		return fmt.Errorf("set face service subject id: %w", err)
	}
	return nil
}

// Delete removes a person and detaches (not deletes) their faces,
// matching detected_faces.person_id's ON DELETE SET NULL.
func (r *PersonRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Pool().Exec(ctx, `DELETE FROM persons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	return nil
}

// Merge moves every face from each of sourceIDs onto targetID, deletes
// the source persons, and recomputes the target's face_count — the
// cleanup service's merge-duplicate-persons operation.
func (r *PersonRepo) Merge(ctx context.Context, targetID int64, sourceIDs []int64) (facesMoved int, err error) {
	err = r.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE detected_faces SET person_id = $1, assigned_by = 'system'
			WHERE person_id = ANY($2)`, targetID, sourceIDs)
		if err != nil {
			return fmt.Errorf("move faces: %w", err)
		}
		facesMoved = int(tag.RowsAffected())

		if _, err := tx.Exec(ctx, `DELETE FROM persons WHERE id = ANY($1)`, sourceIDs); err != nil {
			return fmt.Errorf("delete source persons: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE persons SET face_count = (
				SELECT COUNT(*) FROM detected_faces WHERE person_id = $1
			), updated_at = now() WHERE id = $1`, targetID); err != nil {
			return fmt.Errorf("recompute target face count: %w", err)
		}
		return nil
	})
	return facesMoved, err
}

// FaceRepo persists DetectedFace rows.
type FaceRepo struct {
	db *storage.DB
}

func NewFaceRepo(db *storage.DB) *FaceRepo { return &FaceRepo{db: db} }

func (r *FaceRepo) GetByID(ctx context.Context, id int64) (*models.DetectedFace, error) {
	row := r.db.QueryRow(ctx, faceSelectSQL+` WHERE id = $1`, id)
	f, err := scanFace(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get face: %w", err)
	}
	return f, nil
}

// Unassigned returns detected faces with no person assigned yet, above
// minConfidence, newest first, for the suggestion/clustering pass.
func (r *FaceRepo) Unassigned(ctx context.Context, minConfidence float64, limit int) ([]models.DetectedFace, error) {
	rows, err := r.db.Query(ctx, faceSelectSQL+`
		WHERE person_id IS NULL AND detection_confidence >= $1
		ORDER BY id DESC LIMIT $2`, minConfidence, limit)
	if err != nil {
		return nil, fmt.Errorf("query unassigned faces: %w", err)
	}
	defer rows.Close()
	return scanFaces(rows)
}

// ByPerson returns every face assigned to person, newest first.
func (r *FaceRepo) ByPerson(ctx context.Context, personID int64) ([]models.DetectedFace, error) {
	rows, err := r.db.Query(ctx, faceSelectSQL+`
		WHERE person_id = $1 ORDER BY created_at DESC`, personID)
	if err != nil {
		return nil, fmt.Errorf("query faces by person: %w", err)
	}
	defer rows.Close()
	return scanFaces(rows)
}

// ByImage returns every face detected in image, used by the smart
// album engine's person_based and characteristic rule evaluators.
func (r *FaceRepo) ByImage(ctx context.Context, imageID int64) ([]models.DetectedFace, error) {
	rows, err := r.db.Query(ctx, faceSelectSQL+`
		WHERE image_id = $1 ORDER BY created_at`, imageID)
	if err != nil {
		return nil, fmt.Errorf("query faces by image: %w", err)
	}
	defer rows.Close()
	return scanFaces(rows)
}

// Untrained returns faces assigned to a person but not yet synced to
// the face service, for the selective trainer's delta.
func (r *FaceRepo) Untrained(ctx context.Context, personID int64) ([]models.DetectedFace, error) {
	rows, err := r.db.Query(ctx, faceSelectSQL+`
		WHERE person_id = $1 AND compreface_synced = false ORDER BY created_at`, personID)
	if err != nil {
		return nil, fmt.Errorf("query untrained faces: %w", err)
	}
	defer rows.Close()
	return scanFaces(rows)
}

func (r *FaceRepo) AssignToPerson(ctx context.Context, faceID, personID int64, source models.AssignmentSource, method string) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE detected_faces SET person_id = $1, assigned_by = $2, recognition_method = $3
		WHERE id = $4`, personID, source, method, faceID)
	if err != nil {
		return fmt.Errorf("assign face to person: %w", err)
	}
	return nil
}

func (r *FaceRepo) MarkSynced(ctx context.Context, faceID int64) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE detected_faces SET compreface_synced = true, compreface_uploaded_at = now()
		WHERE id = $1`, faceID)
	if err != nil {
		return fmt.Errorf("mark face synced: %w", err)
	}
	return nil
}

// ResetSync clears the synced flag on every face belonging to personID,
// used by the consistency manager when a face-service subject disagrees
// with local state and must be retrained from scratch.
func (r *FaceRepo) ResetSync(ctx context.Context, personID int64) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE detected_faces SET compreface_synced = false, compreface_uploaded_at = NULL
		WHERE person_id = $1`, personID)
	if err != nil {
		return fmt.Errorf("reset face sync: %w", err)
	}
	return nil
}

// ClearSync clears the synced flag on a single face, used when that one
// face is removed from the person rather than the whole subject being
// reset.
func (r *FaceRepo) ClearSync(ctx context.Context, faceID int64) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE detected_faces SET compreface_synced = false, compreface_uploaded_at = NULL
		WHERE id = $1`, faceID)
	if err != nil {
		return fmt.Errorf("clear face sync: %w", err)
	}
	return nil
}

const faceSelectSQL = `
	SELECT id, image_id, bbox_x_min, bbox_y_min, bbox_x_max, bbox_y_max, detection_confidence,
	       gender_value, gender_probability, age_low, age_high, landmarks, face_image_path,
	       legacy_face_path, person_id, assigned_by, recognition_method, compreface_synced,
	       compreface_uploaded_at, created_at
	FROM detected_faces`

func scanFace(row pgx.Row) (*models.DetectedFace, error) {
	var f models.DetectedFace
	err := row.Scan(&f.ID, &f.ImageID, &f.BBoxXMin, &f.BBoxYMin, &f.BBoxXMax, &f.BBoxYMax,
		&f.DetectionConfidence, &f.GenderValue, &f.GenderProbability, &f.AgeLow, &f.AgeHigh,
		&f.Landmarks, &f.FaceImagePath, &f.LegacyFacePath, &f.PersonID, &f.AssignedBy,
		&f.RecognitionMethod, &f.CompreFaceSynced, &f.CompreFaceUploadedAt, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func scanFaces(rows pgx.Rows) ([]models.DetectedFace, error) {
	var out []models.DetectedFace
	for rows.Next() {
		f, err := scanFace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// SimilarityRepo persists pairwise face_similarities edges used by the
// clustering pass.
type SimilarityRepo struct {
	db *storage.DB
}

func NewSimilarityRepo(db *storage.DB) *SimilarityRepo { return &SimilarityRepo{db: db} }

// Record stores a (faceA, faceB, method) -> score edge. The schema's
// face_a_id < face_b_id CHECK constraint means callers must order the
// pair themselves; Record does that so no caller needs to remember it.
func (r *SimilarityRepo) Record(ctx context.Context, faceA, faceB int64, method string, score float64) error {
	if faceA > faceB {
		faceA, faceB = faceB, faceA
	}
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO face_similarities (face_a_id, face_b_id, method, score)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (face_a_id, face_b_id, method) DO UPDATE SET score = EXCLUDED.score`,
		faceA, faceB, method, score)
	if err != nil {
		return fmt.Errorf("record face similarity: %w", err)
	}
	return nil
}

// ClearMethod deletes every face_similarities row recorded under method,
// per the "cleared on rebuild" lifecycle: a fresh clustering pass
// starts from a clean slate rather than accumulating stale comparisons
// from faces that have since been assigned or deleted.
func (r *SimilarityRepo) ClearMethod(ctx context.Context, method string) error {
	_, err := r.db.Pool().Exec(ctx, `DELETE FROM face_similarities WHERE method = $1`, method)
	if err != nil {
		return fmt.Errorf("clear face similarities: %w", err)
	}
	return nil
}
