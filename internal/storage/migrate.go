package storage

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/openphotoalbum/photo-engine/internal/logging"
)

// RunMigrations applies all pending schema migrations from migrationsPath.
// golang-migrate takes a Postgres advisory lock internally, so it is safe
// to call this from multiple engine instances starting concurrently.
func RunMigrations(log *logging.Logger, databaseURL, migrationsPath string) error {
	sourceURL := "file://" + migrationsPath

	m, err := migrate.New(sourceURL, convertToPgxURL(databaseURL))
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("database schema is up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	log.WithFields(map[string]interface{}{
		"version": version,
		"dirty":   dirty,
	}).Info("database migrations applied")
	return nil
}

// convertToPgxURL converts a postgres:// or postgresql:// URL to the pgx5:// scheme
// required by golang-migrate's pgx v5 driver.
func convertToPgxURL(dbURL string) string {
	if len(dbURL) > 11 && dbURL[:11] == "postgres://" {
		return "pgx5://" + dbURL[11:]
	}
	if len(dbURL) > 13 && dbURL[:13] == "postgresql://" {
		return "pgx5://" + dbURL[13:]
	}
	return dbURL
}
