package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openphotoalbum/photo-engine/internal/logging"
)

// Payload is the JSON body every job carries: the job kind plus
// arbitrary typed data, looked up by the handler registered for that
// kind.
type Payload struct {
	JobID string                 `json:"job_id"`
	Kind  Kind                   `json:"kind"`
	Data  map[string]interface{} `json:"data"`
}

// Client enqueues jobs onto the priority broker.
type Client struct {
	client *asynq.Client
	logger *logging.Logger
}

type ClientConfig struct {
	RedisURL      string
	UniqueTaskTTL time.Duration
}

func DefaultClientConfig(redisURL string) ClientConfig {
	return ClientConfig{RedisURL: redisURL, UniqueTaskTTL: time.Hour}
}

func NewClient(cfg ClientConfig, log *logging.Logger) (*Client, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Client{
		client: asynq.NewClient(redisOpt),
		logger: log.WithField("component", "queue-client"),
	}, nil
}

func (c *Client) Close() error { return c.client.Close() }

// Enqueue schedules a job of the given kind and priority. jobID is used
// both as the asynq task's unique-dedup key (within ttl) and as the key
// JobTracker later looks the job up by.
func (c *Client) Enqueue(ctx context.Context, jobID string, kind Kind, priority Priority, data map[string]interface{}, ttl time.Duration) (*asynq.TaskInfo, error) {
	body, err := json.Marshal(Payload{JobID: jobID, Kind: kind, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(string(priority)),
		asynq.TaskID(jobID),
	}
	if ttl > 0 {
		opts = append(opts, asynq.Unique(ttl))
	}

	task := asynq.NewTask(string(kind), body, opts...)
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		if err == asynq.ErrDuplicateTask || err == asynq.ErrTaskIDConflict {
			c.logger.WithField("job_id", jobID).Debug("job already queued, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"job_id": jobID, "kind": kind, "priority": priority, "queue": info.Queue,
	}).Debug("job enqueued")
	return info, nil
}

// ServerConfig configures the worker pool. Concurrency is the pool size
// (cmd/engine passes twice scanBatchSize); asynq enforces it as a hard
// ceiling on concurrently
// running handlers regardless of how many queues have pending work.
type ServerConfig struct {
	RedisURL        string
	Concurrency     int
	ShutdownTimeout time.Duration
}

func DefaultServerConfig(redisURL string, concurrency int) ServerConfig {
	return ServerConfig{
		RedisURL:        redisURL,
		Concurrency:     concurrency,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server wraps asynq.Server with the four fixed priority queues.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *logging.Logger
}

// NewServer builds the asynq-backed worker pool. tracker may be nil; when
// set, its restart-debounce gate gets a dedicated log line whenever a
// handler error looks like the kind of fatal failure a worker-restart
// would address — asynq itself already recovers the goroutine that ran the
// failed task and returns it to the pool, so there is no separate
// process to respawn, but the debounced "worker restarted" signal this
// reproduces is still useful operational signal distinct from the
// per-job failure log line below it.
func NewServer(cfg ServerConfig, log *logging.Logger, tracker *JobTracker) (*Server, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          queueWeights,
		StrictPriority:  true,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          &asynqLogger{log: log.WithField("component", "asynq")},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.WithFields(map[string]interface{}{
				"kind":  task.Type(),
				"error": err.Error(),
			}).Error("job handler returned error")
			if tracker != nil && isFatalHandlerError(err) && tracker.AllowRestart() {
				log.WithField("kind", task.Type()).Warn("worker slot restarted after fatal handler error")
			}
		}),
	})

	return &Server{
		server: server,
		mux:    asynq.NewServeMux(),
		logger: log.WithField("component", "queue-server"),
	}, nil
}

// isFatalHandlerError reports whether err looks like the kind of
// unrecoverable failure (panic recovery, connection loss) that should
// count against the restart debounce, rather than an ordinary
// per-job processing error.
func isFatalHandlerError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "panic") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset")
}

// HandleFunc registers a handler for a job kind.
func (s *Server) HandleFunc(kind Kind, handler func(context.Context, *asynq.Task) error) {
	s.mux.HandleFunc(string(kind), handler)
}

func (s *Server) Start() error {
	s.logger.Info("starting job queue worker pool")
	return s.server.Start(s.mux)
}

func (s *Server) Shutdown() {
	s.logger.Info("shutting down job queue worker pool")
	s.server.Shutdown()
}

// Inspector exposes queue/task introspection for the ops status endpoint.
type Inspector struct {
	inspector *asynq.Inspector
}

func NewInspector(redisURL string) (*Inspector, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Inspector{inspector: asynq.NewInspector(redisOpt)}, nil
}

func (i *Inspector) Close() error { return i.inspector.Close() }

type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

func (i *Inspector) Stats() ([]QueueStats, error) {
	var out []QueueStats
	for q := range queueWeights {
		info, err := i.inspector.GetQueueInfo(q)
		if err != nil {
			continue
		}
		out = append(out, QueueStats{
			Queue: q, Pending: info.Pending, Active: info.Active,
			Scheduled: info.Scheduled, Retry: info.Retry, Archived: info.Archived,
		})
	}
	return out, nil
}

func (i *Inspector) PauseQueue(priority Priority) error  { return i.inspector.PauseQueue(string(priority)) }
func (i *Inspector) ResumeQueue(priority Priority) error { return i.inspector.UnpauseQueue(string(priority)) }

type asynqLogger struct{ log *logging.Logger }

func (l *asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(fmt.Sprint(args...)) }
