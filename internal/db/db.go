// Package db manages the PostgreSQL connection pool and schema migrations
// for the MCF server. Migrations are embedded with go:embed, so a deployed
// binary can bring its schema current on startup without external tooling.
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect opens the PostgreSQL pool and verifies it with a ping. Pool limits
// come from the database section of the configuration.
func Connect(dsn string, maxConnections, minIdleConnections int) (*sqlx.DB, error) {
	pool, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pool.SetMaxOpenConns(maxConnections)
	pool.SetMaxIdleConns(minIdleConnections)

	if err := pool.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// migrator builds a migrate instance backed by the embedded SQL files.
func migrator(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	return migrate.NewWithInstance("iofs", source, "postgres", driver)
}

// RunMigrations applies or rolls back the embedded schema migrations.
// Direction is "up" or "down"; an already-current schema is not an error.
func RunMigrations(db *sql.DB, direction string) error {
	m, err := migrator(db)
	if err != nil {
		return err
	}

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		return fmt.Errorf("invalid migration direction: %s (must be 'up' or 'down')", direction)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s failed: %w", direction, err)
	}
	return nil
}

// GetMigrationVersion reports the schema version recorded in the database.
// A fresh database with no migrations applied reports version 0.
func GetMigrationVersion(db *sql.DB) (version uint, dirty bool, err error) {
	m, err := migrator(db)
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}
