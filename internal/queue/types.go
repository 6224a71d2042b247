// Package queue implements the job queue and worker pool: asynq
// provides the strict-priority-FIFO broker, and JobTracker layers the
// progress/cancellation/timeout/restart-debounce model the engine needs
// on top of it.
package queue

import "time"

// Priority is the four-level scheduling priority every job carries.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// queueWeights maps priority names to asynq queue weights. Strict
// priority is enabled at the server, so a queue is only drained once
// every higher-weighted queue is empty; the weights themselves only
// break ties when StrictPriority allows more than one queue to make
// progress in the same dequeue round.
var queueWeights = map[string]int{
	string(PriorityUrgent): 12,
	string(PriorityHigh):   6,
	string(PriorityNormal): 3,
	string(PriorityLow):    1,
}

// Kind identifies the job handler a payload is routed to.
type Kind string

const (
	KindImageProcessing Kind = "image_processing"
	KindFaceDetection   Kind = "face_detection"
	KindObjectDetection Kind = "object_detection"
	KindSmartAlbums     Kind = "smart_albums"
	KindScan            Kind = "scan"
	KindThumbnail       Kind = "thumbnail"
	KindFaceRecognition Kind = "face_recognition"
)

// Status is a job's lifecycle state as tracked by JobTracker.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// Job is the in-process record of a queued unit of work. It is not a
// persisted entity; it mirrors the queue's live state for the ops status
// endpoint and for cooperative cancellation. It is not restored on
// restart: a new JobTracker starts empty.
type Job struct {
	ID                 string
	Kind               Kind
	Priority           Priority
	Status             Status
	Data               map[string]interface{}
	Progress           int
	Total              int
	Errors             []string
	CreatedAt          time.Time
	StartedAt          time.Time
	CompletedAt        time.Time
	EstimatedRemaining time.Duration
}
