package models

import "time"

// FaceSimilarity is an unordered pair (FaceAID < FaceBID) written by the
// clustering engine and cleared wholesale on rebuild.
type FaceSimilarity struct {
	ID       int64   `db:"id"`
	FaceAID  int64   `db:"face_a_id"`
	FaceBID  int64   `db:"face_b_id"`
	Method   string  `db:"method"`
	Score    float64 `db:"score"`
	CreatedAt time.Time `db:"created_at"`
}

// FaceCluster is an opaque group of unassigned faces judged similar by
// pairwise verification.
type FaceCluster struct {
	ID                int64     `db:"id"`
	UUID              string    `db:"uuid"`
	RepresentativeFace int64    `db:"representative_face_id"`
	MemberCount       int       `db:"member_count"`
	AverageSimilarity float64   `db:"average_similarity"`
	Reviewed          bool      `db:"reviewed"`
	CreatedAt         time.Time `db:"created_at"`
}

// FaceClusterMember links a face to a cluster.
type FaceClusterMember struct {
	ClusterID      int64   `db:"cluster_id"`
	FaceID         int64   `db:"face_id"`
	SimilarityToCluster float64 `db:"similarity_to_cluster"`
	IsRepresentative bool  `db:"is_representative"`
}

// PersonSuggestion is the Phase-1 recognition-based output: a face that
// should be attributed to an existing Person, pending confirmation or
// auto-assignment when similarity clears the autoAssign threshold.
type PersonSuggestion struct {
	FaceID     int64   `json:"face_id"`
	PersonID   int64   `json:"person_id"`
	Similarity float64 `json:"similarity"`
}

// TrainingJobType distinguishes a full retrain from an incremental update
// or a validation-only dry run.
type TrainingJobType string

const (
	TrainingFull        TrainingJobType = "full"
	TrainingIncremental TrainingJobType = "incremental"
	TrainingValidation  TrainingJobType = "validation"
)

// TrainingJobStatus is the lifecycle of a TrainingJob; at most one
// non-terminal job may exist per person at a time.
type TrainingJobStatus string

const (
	TrainingJobPending   TrainingJobStatus = "pending"
	TrainingJobRunning   TrainingJobStatus = "running"
	TrainingJobCompleted TrainingJobStatus = "completed"
	TrainingJobFailed    TrainingJobStatus = "failed"
	TrainingJobCancelled TrainingJobStatus = "cancelled"
)

// IsTerminal reports whether the job has finished running.
func (s TrainingJobStatus) IsTerminal() bool {
	switch s {
	case TrainingJobCompleted, TrainingJobFailed, TrainingJobCancelled:
		return true
	default:
		return false
	}
}

// TrainingJob tracks one selective-training run for a person.
type TrainingJob struct {
	ID           int64             `db:"id"`
	PersonID     int64             `db:"person_id"`
	Type         TrainingJobType   `db:"type"`
	Status       TrainingJobStatus `db:"status"`
	StartedAt    *time.Time        `db:"started_at"`
	CompletedAt  *time.Time        `db:"completed_at"`
	SuccessRate  float64           `db:"success_rate"`
	AddedCount   int               `db:"added_count"`
	FailedCount  int               `db:"failed_count"`
	CreatedAt    time.Time         `db:"created_at"`
}

// FaceTrainingLogEntry records one individual face upload attempt,
// successful or not.
type FaceTrainingLogEntry struct {
	ID              int64     `db:"id"`
	FaceID          int64     `db:"face_id"`
	PersonID        int64     `db:"person_id"`
	Success         bool      `db:"success"`
	ServiceResponse string    `db:"service_response"`
	Error           string    `db:"error"`
	UploadAttemptAt time.Time `db:"upload_attempt_at"`
}
