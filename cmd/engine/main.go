// Command engine is the photo-engine process: it wires config, storage,
// the content-addressed store, the file index (scan + live watch), the
// priority job queue and worker pool, the face-service client, the
// selective trainer/consistency/cleanup schedulers, the clustering
// scheduler, the smart album engine, and the geolocation linker into one
// process, then blocks on an OS signal for graceful shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openphotoalbum/photo-engine/internal/cleanup"
	"github.com/openphotoalbum/photo-engine/internal/clustering"
	"github.com/openphotoalbum/photo-engine/internal/config"
	"github.com/openphotoalbum/photo-engine/internal/consistency"
	"github.com/openphotoalbum/photo-engine/internal/dispatch"
	"github.com/openphotoalbum/photo-engine/internal/faceservice"
	"github.com/openphotoalbum/photo-engine/internal/fileindex"
	"github.com/openphotoalbum/photo-engine/internal/geolink"
	"github.com/openphotoalbum/photo-engine/internal/logging"
	"github.com/openphotoalbum/photo-engine/internal/metrics"
	"github.com/openphotoalbum/photo-engine/internal/opsapi"
	"github.com/openphotoalbum/photo-engine/internal/pipeline"
	"github.com/openphotoalbum/photo-engine/internal/queue"
	"github.com/openphotoalbum/photo-engine/internal/repository"
	"github.com/openphotoalbum/photo-engine/internal/smartalbum"
	"github.com/openphotoalbum/photo-engine/internal/storage"
	"github.com/openphotoalbum/photo-engine/internal/store"
	"github.com/openphotoalbum/photo-engine/internal/trainer"
	"github.com/openphotoalbum/photo-engine/internal/worker"
)

const (
	consistencyCheckInterval = 15 * time.Minute
	autoTrainingInterval     = 10 * time.Minute
	trainingQueueInterval    = 2 * time.Minute
	clusteringInterval       = 30 * time.Minute
	geolinkRetroactiveEvery  = 5 * time.Minute
	trackerSweepInterval     = time.Hour
	trackerMaxAge            = 24 * time.Hour
)

func main() {
	defaultsPath := envOr("CONFIG_DEFAULTS_PATH", "config/defaults.json")
	settingsPath := envOr("CONFIG_SETTINGS_PATH", "config/settings.json")

	resolver := config.NewResolver(defaultsPath, settingsPath)
	cfg, err := resolver.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Service: "photo-engine"})
	for _, name := range config.LegacyWarnings() {
		log.WithField("env", name).Warn("legacy environment variable name accepted, switch to the documented name")
	}

	if err := os.MkdirAll(cfg.Storage.ProcessedDir, 0o755); err != nil {
		log.Fatal(fmt.Sprintf("failed to create processedDir: %v", err))
	}

	log.Info("starting photo-engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	db, err := storage.NewDB(ctx, cfg.Database.DSN(), storage.DefaultPoolConfig(), log)
	if err != nil {
		log.Fatal(fmt.Sprintf("failed to connect to database: %v", err))
	}
	defer db.Close()

	if err := storage.RunMigrations(log, cfg.Database.DSN(), envOr("MIGRATIONS_PATH", "migrations")); err != nil {
		log.Fatal(fmt.Sprintf("failed to apply migrations: %v", err))
	}

	cache, err := storage.NewCache(cfg.Redis.URL, log)
	if err != nil {
		log.Fatal(fmt.Sprintf("failed to connect to redis cache: %v", err))
	}
	defer cache.Close()

	contentStore := store.New(cfg.Storage.ProcessedDir, store.DateGranularity(cfg.Storage.DateGranularity))

	images := repository.NewImageRepo(db)
	persons := repository.NewPersonRepo(db)
	faces := repository.NewFaceRepo(db)
	similarities := repository.NewSimilarityRepo(db)
	albums := repository.NewAlbumRepo(db)
	geo := repository.NewGeoRepo(db)
	clusters := repository.NewClusterRepo(db)
	trainingRepo := repository.NewTrainingRepo(db)

	idx := fileindex.NewRepo(db, log)
	scanner := fileindex.NewScanner(idx, cfg.Storage.SourceDir, log)
	watcher := fileindex.NewWatcher(idx, cfg.Storage.SourceDir, 2*time.Minute, log)

	var faceClient *faceservice.Client
	if cfg.Features.FaceDetection {
		faceClient = faceservice.NewClient(faceservice.Config{
			BaseURL:          cfg.FaceService.BaseURL,
			DetectionKey:     cfg.FaceService.DetectAPIKey,
			RecognitionKey:   cfg.FaceService.RecognizeAPIKey,
			RequestTimeout:   time.Duration(cfg.FaceService.TimeoutSeconds) * time.Second,
			MaxConcurrency:   cfg.FaceService.MaxConcurrency,
			DetProbThreshold: cfg.Processing.FaceDetection.Confidence.Detection,
			Plugins:          []faceservice.Plugin{faceservice.PluginLandmarks, faceservice.PluginGender, faceservice.PluginAge, faceservice.PluginPose},
		}, log)
	}

	var objectDetector pipeline.ObjectDetector
	if cfg.Processing.ObjectDetection.Enabled && cfg.Features.ObjectDetection {
		objectDetector = pipeline.NewHTTPObjectDetector(cfg.ObjectService.BaseURL, time.Duration(cfg.ObjectService.TimeoutSeconds)*time.Second)
	}

	exifExtractor := pipeline.NewExifExtractor(log)
	imageProc := pipeline.NewImageProcessor(cfg.Image.ThumbnailSize, cfg.Image.JPEGQuality, log)
	var faceCropper *pipeline.FaceCropper
	if cfg.Features.FaceDetection {
		faceCropper = pipeline.NewFaceCropper(cfg.Image.JPEGQuality)
	}

	geoLinker := geolink.New(geolink.Config{}, geo, images, log)
	albumEngine := smartalbum.New(albums, images, faces, log)

	p := pipeline.New(
		pipeline.Config{
			FaceDetectionEnabled:   cfg.Features.FaceDetection && cfg.Processing.FaceDetection.Enabled,
			ObjectDetectionEnabled: cfg.Features.ObjectDetection && cfg.Processing.ObjectDetection.Enabled,
			AstroEnabled:           cfg.Features.Astrophotography,
			ObjectConfidenceMin:    cfg.Processing.ObjectDetection.Confidence.Detection,
			ThumbnailPx:            cfg.Image.ThumbnailSize,
			JPEGQuality:            cfg.Image.JPEGQuality,
			DateGranularity:        store.DateGranularity(cfg.Storage.DateGranularity),
		},
		contentStore, images, exifExtractor, imageProc, faceCropper,
		faceClient, objectDetector,
		geoLinkerOrNil(cfg.Features.Geolocation, geoLinker),
		albumEngineOrNil(cfg.Features.SmartAlbums, albumEngine),
		m, log,
	)

	tr := trainer.New(trainer.Config{
		MinFacesThreshold:     cfg.Processing.FaceRecognition.Workflow.MinFacesThreshold,
		TrainingIntervalHours: cfg.Processing.FaceRecognition.Workflow.TrainingIntervalHours,
		AutoTrainingEnabled:   cfg.Processing.FaceRecognition.Workflow.AutoTrainingEnabled,
	}, persons, faces, trainingRepo, contentStore, faceClient, log)

	consist := consistency.New(persons, faces, contentStore, faceClient, log)
	// cleanupSvc runs neither on a schedule nor behind an ops route: its
	// comprehensive/per-person/auto-face modes are operator-triggered
	// actions the gallery-facing API surfaces, not a background pass this
	// engine drives itself. Constructed here so it shares this process's
	// dependencies rather than needing its own entry point; left
	// unreferenced beyond construction is intentional.
	cleanupSvc := cleanup.New(persons, faces, contentStore, faceClient, log)
	_ = cleanupSvc

	clusterEngine := clustering.New(clustering.Config{
		AutoAssignThreshold:        cfg.Processing.FaceRecognition.Confidence.AutoAssign,
		ClusterSimilarityThreshold: cfg.Processing.FaceRecognition.Confidence.Similarity,
		MaxSuggestionsPerPerson:    cfg.Processing.FaceRecognition.Workflow.MaxSuggestionsPerPerson,
		MaxClusterSize:             cfg.Processing.FaceRecognition.Workflow.MaxClusterSize,
	}, faces, persons, clusters, similarities, contentStore, faceClient, log)

	tracker := queue.NewJobTracker(log)

	redisQueueURL := cfg.Redis.URL
	queueClient, err := queue.NewClient(queue.DefaultClientConfig(redisQueueURL), log)
	if err != nil {
		log.Fatal(fmt.Sprintf("failed to create queue client: %v", err))
	}
	defer queueClient.Close()

	queueServer, err := queue.NewServer(queue.DefaultServerConfig(redisQueueURL, workerConcurrency(cfg.Server.ScanBatchSize)), log, tracker)
	if err != nil {
		log.Fatal(fmt.Sprintf("failed to create queue server: %v", err))
	}

	inspector, err := queue.NewInspector(redisQueueURL)
	if err != nil {
		log.Fatal(fmt.Sprintf("failed to create queue inspector: %v", err))
	}
	defer inspector.Close()

	w := worker.New(p, scanner, idx, albumEngine, tr, consist, clusterEngine, tracker, m, log)
	queueServer.HandleFunc(queue.KindImageProcessing, w.HandleImageProcessing)
	queueServer.HandleFunc(queue.KindScan, w.HandleScan)
	queueServer.HandleFunc(queue.KindSmartAlbums, w.HandleSmartAlbums)
	queueServer.HandleFunc(queue.KindFaceRecognition, w.HandleFaceRecognition)
	queueServer.HandleFunc(queue.KindFaceDetection, w.HandleFaceDetection)
	queueServer.HandleFunc(queue.KindObjectDetection, w.HandleObjectDetection)
	queueServer.HandleFunc(queue.KindThumbnail, w.HandleThumbnail)

	if cfg.Features.SmartAlbums {
		if err := albumEngine.SeedDefaults(ctx); err != nil {
			log.WithError(err).Warn("failed to seed default smart albums")
		}
	}

	go func() {
		if err := queueServer.Start(); err != nil {
			log.Fatal(fmt.Sprintf("queue server failed: %v", err))
		}
	}()

	go watcher.Start(ctx)

	dispatcher := dispatch.New(idx, scanner, queueClient, tracker, dispatch.Config{
		BatchSize:     cfg.Server.ScanBatchSize,
		DrainInterval: 10 * time.Second,
		ScanInterval:  5 * time.Minute,
	}, log)
	go dispatcher.Run(ctx)

	if cfg.Features.Geolocation {
		go geoLinker.RunPeriodic(ctx, geolinkRetroactiveEvery)
	}

	sched := cron.New(cron.WithLogger(cronLogger{log}))
	mustEvery(sched, consistencyCheckInterval, func() { w.RunConsistencyCheck(ctx) })
	mustEvery(sched, autoTrainingInterval, func() { w.RunAutoTraining(ctx) })
	mustEvery(sched, trainingQueueInterval, func() { w.RunTrainingQueue(ctx) })
	mustEvery(sched, clusteringInterval, func() { w.RunClusteringPass(ctx) })
	mustEvery(sched, trackerSweepInterval, func() { tracker.Sweep(trackerMaxAge) })
	sched.Start()

	opsServer := opsapi.New(opsapi.Config{
		Port:      cfg.Server.OpsPort,
		DB:        db,
		Cache:     cache,
		Inspector: inspector,
		Tracker:   tracker,
		Logger:    log,
	})
	go func() {
		if err := opsServer.Start(); err != nil {
			log.WithError(err).Warn("ops API server stopped")
		}
	}()

	m.EngineStatus.Set(1)
	log.WithFields(map[string]interface{}{
		"source_dir":    cfg.Storage.SourceDir,
		"processed_dir": cfg.Storage.ProcessedDir,
		"ops_port":      cfg.Server.OpsPort,
	}).Info("photo-engine started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("received shutdown signal")

	m.EngineStatus.Set(0)
	watcher.Stop()
	cronDone := sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	select {
	case <-cronDone.Done():
	case <-shutdownCtx.Done():
		log.Warn("timed out waiting for in-flight scheduled pass to finish")
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("ops API server shutdown error")
	}
	queueServer.Shutdown()

	log.Info("photo-engine stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// workerConcurrency maps the pool-size/ceiling model onto asynq's
// single Concurrency knob: the hard ceiling of 2x scanBatchSize is what
// asynq enforces directly, since asynq has no separate notion of a
// resizable "base" pool beneath it.
func workerConcurrency(scanBatchSize int) int {
	if scanBatchSize <= 0 {
		scanBatchSize = 8
	}
	return scanBatchSize * 2
}

func geoLinkerOrNil(enabled bool, l *geolink.Linker) pipeline.GeoLinker {
	if !enabled {
		return nil
	}
	return l
}

func albumEngineOrNil(enabled bool, e *smartalbum.Engine) pipeline.AlbumProcessor {
	if !enabled {
		return nil
	}
	return e
}

// mustEvery schedules fn on a fixed interval using cron's "@every" spec.
// The spec string is built from a compile-time constant, so a parse error
// here can only mean a programming mistake, not bad runtime input.
func mustEvery(sched *cron.Cron, interval time.Duration, fn func()) {
	if _, err := sched.AddFunc(fmt.Sprintf("@every %s", interval), fn); err != nil {
		panic(fmt.Sprintf("invalid schedule %s: %v", interval, err))
	}
}

// cronLogger adapts this engine's structured logger to cron.Logger, the
// same pattern queue.go's asynqLogger uses for asynq's logger interface.
type cronLogger struct{ log *logging.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.WithField("component", "cron").Debug(msg)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.WithField("component", "cron").WithError(err).Error(msg)
}
