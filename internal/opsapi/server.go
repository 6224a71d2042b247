// Package opsapi provides the engine's internal ops HTTP surface:
// health, status, Prometheus metrics, and worker-pool pause/resume. This
// is explicitly not the gallery-facing API, which lives elsewhere and
// stays out of this engine's scope entirely.
package opsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openphotoalbum/photo-engine/internal/logging"
	"github.com/openphotoalbum/photo-engine/internal/queue"
	"github.com/openphotoalbum/photo-engine/internal/storage"
)

// Server is the engine's internal ops HTTP server.
type Server struct {
	router    chi.Router
	server    *http.Server
	db        *storage.DB
	cache     *storage.Cache // nil if Redis cache disabled
	inspector *queue.Inspector
	tracker   *queue.JobTracker
	logger    *logging.Logger
	startTime time.Time
}

// Config holds the ops server's dependencies.
type Config struct {
	Port      int
	DB        *storage.DB
	Cache     *storage.Cache
	Inspector *queue.Inspector
	Tracker   *queue.JobTracker
	Logger    *logging.Logger
}

// New creates the ops HTTP server; call Start to begin serving.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		db:        cfg.DB,
		cache:     cfg.Cache,
		inspector: cfg.Inspector,
		tracker:   cfg.Tracker,
		logger:    cfg.Logger.WithField("component", "opsapi"),
		startTime: time.Now(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.Post("/pause", s.handlePause)
	s.router.Post("/resume", s.handleResume)
	s.router.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         portAddr(cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func portAddr(port int) string {
	if port <= 0 {
		port = 9090
	}
	return fmt.Sprintf(":%d", port)
}

// Start begins serving; blocks until Shutdown or a fatal listen error.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("starting ops API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down ops API server")
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status string `json:"status"`
	DB     bool   `json:"db_healthy"`
	Cache  bool   `json:"cache_healthy"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbHealth := s.db.Health(r.Context())
	cacheOK := true
	if s.cache != nil {
		cacheOK = s.cache.Ping(r.Context()) == nil
	}

	status := http.StatusOK
	if !dbHealth.Healthy || !cacheOK {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(healthResponse{
		Status: map[bool]string{true: "ok", false: "degraded"}[status == http.StatusOK],
		DB:     dbHealth.Healthy,
		Cache:  cacheOK,
	})
}

type statusResponse struct {
	UptimeSeconds int64              `json:"uptime_seconds"`
	Queue         []queue.QueueStats `json:"queue"`
	Jobs          jobsSummary        `json:"jobs"`
	Resources     resourcesStatus    `json:"resources"`
}

type jobsSummary struct {
	Running   int `json:"running"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

type resourcesStatus struct {
	MemoryUsedMB  int `json:"memory_used_mb"`
	NumGoroutines int `json:"num_goroutines"`
}

// handleStatus handles GET /status: queue depth by priority, active
// workers, and the in-process job tracker's own status counts —
// scan stats surface.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.inspector.Stats()
	if err != nil {
		s.logger.WithError(err).Warn("failed to read queue stats")
	}

	var summary jobsSummary
	for _, j := range s.tracker.Snapshot() {
		switch j.Status {
		case queue.StatusRunning:
			summary.Running++
		case queue.StatusPending:
			summary.Pending++
		case queue.StatusCompleted:
			summary.Completed++
		case queue.StatusFailed, queue.StatusTimeout:
			summary.Failed++
		case queue.StatusCancelled:
			summary.Cancelled++
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Queue:         stats,
		Jobs:          summary,
		Resources: resourcesStatus{
			MemoryUsedMB:  int(mem.Alloc / 1024 / 1024),
			NumGoroutines: runtime.NumGoroutine(),
		},
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var errs []string
	for _, p := range []queue.Priority{queue.PriorityUrgent, queue.PriorityHigh, queue.PriorityNormal, queue.PriorityLow} {
		if err := s.inspector.PauseQueue(p); err != nil {
			errs = append(errs, err.Error())
		}
	}
	s.logger.Info("worker pool paused")
	writeOKOrErrors(w, errs)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var errs []string
	for _, p := range []queue.Priority{queue.PriorityUrgent, queue.PriorityHigh, queue.PriorityNormal, queue.PriorityLow} {
		if err := s.inspector.ResumeQueue(p); err != nil {
			errs = append(errs, err.Error())
		}
	}
	s.logger.Info("worker pool resumed")
	writeOKOrErrors(w, errs)
}

func writeOKOrErrors(w http.ResponseWriter, errs []string) {
	w.Header().Set("Content-Type", "application/json")
	if len(errs) > 0 {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "error", "errors": errs})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
