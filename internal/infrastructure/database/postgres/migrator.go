package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationsTable records the applied schema version.
const MigrationsTable = "optiflow_schema_migrations"

// ─────────────────────────────────────────────────────────────────────────────
// Migrator
// ─────────────────────────────────────────────────────────────────────────────

// Migrator applies the embedded model-store schema.
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator binds the embedded migrations to one connection taken from
// db.  Close returns that connection to the pool.
func NewMigrator(ctx context.Context, db *sql.DB) (*Migrator, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire migration connection: %w", err)
	}
	driver, err := pgmigrate.WithConnection(ctx, conn, &pgmigrate.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies every pending migration.  No pending migration is not an error.
func (g *Migrator) Up() error {
	if err := g.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Rollback reverts steps migrations.
func (g *Migrator) Rollback(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be greater than 0, got %d", steps)
	}
	if err := g.m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("no migrations to roll back")
		}
		return fmt.Errorf("rollback %d step(s): %w", steps, err)
	}
	return nil
}

// Status returns the applied version and whether a failed migration left the
// schema dirty.  Version 0 means nothing has been applied.
func (g *Migrator) Status() (version uint, dirty bool, err error) {
	version, dirty, err = g.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

// Close releases the source and the migration connection.
func (g *Migrator) Close() error {
	srcErr, connErr := g.m.Close()
	return errors.Join(srcErr, connErr)
}

//Personal.AI order the ending
