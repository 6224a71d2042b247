// Package storage is the ambient persistence layer: a pgx connection
// pool fronting PostgreSQL (the single source of truth for every entity
// in internal/models) plus a Redis client for caching.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openphotoalbum/photo-engine/internal/logging"
)

// DB wraps pgxpool.Pool with health checks and a transaction helper.
type DB struct {
	pool   *pgxpool.Pool
	logger *logging.Logger
}

// PoolConfig holds pool-sizing parameters independent of the DSN.
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

// DefaultPoolConfig returns sizing defaults tuned for an ingestion workload
// dominated by a handful of long transactions rather than many short ones.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:          20,
		MinConns:          4,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		ConnectTimeout:    10 * time.Second,
	}
}

// NewDB creates and verifies a new connection pool.
func NewDB(ctx context.Context, dsn string, cfg PoolConfig, log *logging.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	db := &DB{pool: pool, logger: log.WithField("component", "database")}

	if err := db.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.logger.Info("database connection pool created")
	return db, nil
}

// Pool returns the underlying pgxpool.Pool for repositories that need
// direct access (query builders, COPY, etc).
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

func (db *DB) Ping(ctx context.Context) error { return db.pool.Ping(ctx) }

func (db *DB) Close() {
	db.logger.Info("closing database connection pool")
	db.pool.Close()
}

// HealthStatus summarizes pool health for the ops /health endpoint.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency_ns"`
	Error   string        `json:"error,omitempty"`
}

func (db *DB) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	if err := db.Ping(ctx); err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	return HealthStatus{Healthy: true, Latency: time.Since(start)}
}

func (db *DB) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := db.pool.Exec(ctx, sql, args...)
	return err
}

func (db *DB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

func (db *DB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) { return db.pool.Begin(ctx) }

// WithTx runs fn inside a transaction, rolling back on error or panic and
// committing otherwise. Every multi-row mutation in the engine (e.g. the
// cascade delete behind cleanup, or the per-image pipeline's atomic write
// of Image+ImageMetadata+DetectedObject+DetectedFace) goes through this.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
