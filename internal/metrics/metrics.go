// Package metrics provides Prometheus metrics for the engine process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the engine exports.
type Metrics struct {
	// Jobs processed (total), labeled by terminal status.
	JobsProcessed *prometheus.CounterVec

	// Jobs failed, labeled by the pipeline stage that failed.
	JobsFailed *prometheus.CounterVec

	// Jobs that hit their per-job timeout and were forced to failed.
	JobsTimedOut prometheus.Counter

	// Per-stage processing duration.
	ProcessingDuration *prometheus.HistogramVec

	// Current queue depth, labeled by priority and status.
	QueueSize *prometheus.GaugeVec

	// Active worker count.
	ActiveWorkers prometheus.Gauge

	// Duplicate files skipped at ingest (content hash already indexed).
	DuplicatesSkipped prometheus.Counter

	// Face-service HTTP calls, labeled by operation and outcome.
	FaceServiceRequests *prometheus.CounterVec

	// Faces detected per image pipeline run.
	FacesDetected prometheus.Counter

	// Selective-trainer upload attempts, labeled by outcome.
	FacesTrained *prometheus.CounterVec

	// Training queue jobs completed, labeled by terminal status.
	TrainingJobsCompleted *prometheus.CounterVec

	// Consistency-manager flags raised, labeled by kind.
	ConsistencyFlags *prometheus.CounterVec

	// Unknown-face clusters created by the clustering engine.
	ClustersCreated prometheus.Counter

	// Person suggestions emitted by the clustering engine's recognition pass.
	SuggestionsEmitted prometheus.Counter

	// Smart-album membership changes, labeled by action (added/removed).
	SmartAlbumMemberships *prometheus.CounterVec

	// Geolocation links written, labeled by outcome (linked/no_city_in_radius).
	GeolocationLinks *prometheus.CounterVec

	// Engine status (1 = running, 0 = paused/stopped).
	EngineStatus prometheus.Gauge
}

// New creates and registers every engine metric.
func New() *Metrics {
	return &Metrics{
		JobsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_jobs_processed_total",
			Help: "Total number of jobs processed",
		}, []string{"status"}), // status: completed, failed, cancelled

		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_jobs_failed_total",
			Help: "Total number of failed jobs",
		}, []string{"stage"}), // stage: exif, color, objects, faces, astro, persist, ...

		JobsTimedOut: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engine_jobs_timed_out_total",
			Help: "Total number of jobs forced to failed by the per-job timeout",
		}),

		ProcessingDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_processing_duration_seconds",
			Help:    "Time taken per pipeline stage",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage"}),

		QueueSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_queue_size",
			Help: "Current queue size",
		}, []string{"priority", "status"}), // priority: low, normal, high, urgent; status: pending, running

		ActiveWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "engine_active_workers",
			Help: "Number of currently active workers",
		}),

		DuplicatesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engine_duplicates_skipped_total",
			Help: "Total files skipped at ingest because their content hash already exists",
		}),

		FaceServiceRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_face_service_requests_total",
			Help: "Total face-service HTTP calls",
		}, []string{"operation", "status"}), // operation: recognize, verify, add_face, ...; status: success, error

		FacesDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engine_faces_detected_total",
			Help: "Total faces detected across all processed images",
		}),

		FacesTrained: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_faces_trained_total",
			Help: "Total face-service training uploads",
		}, []string{"outcome"}), // outcome: uploaded, failed

		TrainingJobsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_training_jobs_completed_total",
			Help: "Total training queue jobs completed",
		}, []string{"status"}), // status: completed, failed

		ConsistencyFlags: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_consistency_flags_total",
			Help: "Total consistency flags raised by EnsureConsistency",
		}, []string{"kind"}), // kind: missing_compreface_subject, orphaned_faces

		ClustersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engine_clusters_created_total",
			Help: "Total unknown-face clusters created",
		}),

		SuggestionsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "engine_suggestions_emitted_total",
			Help: "Total person suggestions emitted by the recognition pass",
		}),

		SmartAlbumMemberships: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_smart_album_memberships_total",
			Help: "Total smart-album membership changes",
		}, []string{"action"}), // action: added, removed

		GeolocationLinks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_geolocation_links_total",
			Help: "Total geolocation-linker outcomes",
		}, []string{"outcome"}), // outcome: linked, no_city_in_radius, no_gps

		EngineStatus: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "engine_status",
			Help: "Engine status (1 = running, 0 = paused/stopped)",
		}),
	}
}

func (m *Metrics) IncJobsProcessed(status string) {
	m.JobsProcessed.WithLabelValues(status).Inc()
}

func (m *Metrics) IncJobsFailed(stage string) {
	m.JobsFailed.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncJobsTimedOut() {
	m.JobsTimedOut.Inc()
}

func (m *Metrics) ObserveProcessingDuration(stage string, seconds float64) {
	m.ProcessingDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) SetQueueSize(priority, status string, count int) {
	m.QueueSize.WithLabelValues(priority, status).Set(float64(count))
}

func (m *Metrics) SetActiveWorkers(count int) {
	m.ActiveWorkers.Set(float64(count))
}

func (m *Metrics) IncDuplicatesSkipped() {
	m.DuplicatesSkipped.Inc()
}

func (m *Metrics) IncFaceServiceRequests(operation, status string) {
	m.FaceServiceRequests.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) AddFacesDetected(n int) {
	m.FacesDetected.Add(float64(n))
}

func (m *Metrics) IncFacesTrained(outcome string) {
	m.FacesTrained.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncTrainingJobsCompleted(status string) {
	m.TrainingJobsCompleted.WithLabelValues(status).Inc()
}

func (m *Metrics) IncConsistencyFlag(kind string) {
	m.ConsistencyFlags.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncClustersCreated() {
	m.ClustersCreated.Inc()
}

func (m *Metrics) AddSuggestionsEmitted(n int) {
	m.SuggestionsEmitted.Add(float64(n))
}

func (m *Metrics) IncSmartAlbumMembership(action string) {
	m.SmartAlbumMemberships.WithLabelValues(action).Inc()
}

func (m *Metrics) IncGeolocationLink(outcome string) {
	m.GeolocationLinks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetEngineRunning() {
	m.EngineStatus.Set(1)
}

func (m *Metrics) SetEngineStopped() {
	m.EngineStatus.Set(0)
}
