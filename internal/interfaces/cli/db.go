package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/OptiFlow/internal/app"
	"github.com/turtacn/OptiFlow/internal/infrastructure/database/postgres"
	"github.com/turtacn/OptiFlow/pkg/errors"
)

// MigrationStatus is the schema state of the postgres model store.
type MigrationStatus struct {
	Database string `json:"database"`
	Version  uint   `json:"version"`
	Dirty    bool   `json:"dirty"`
}

func (s MigrationStatus) String() string {
	state := "clean"
	if s.Dirty {
		state = "dirty"
	}
	return fmt.Sprintf("%s: schema version %d (%s)", s.Database, s.Version, state)
}

// NewDBCmd creates the db command tree that manages the postgres store schema.
func NewDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the postgres model store schema",
	}

	var steps int
	rollback := &cobra.Command{
		Use:   "rollback",
		Short: "Revert applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *postgres.Migrator) error {
				return m.Rollback(steps)
			})
		},
	}
	rollback.Flags().IntVar(&steps, "steps", 1, "number of migrations to revert")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd, func(m *postgres.Migrator) error { return m.Up() })
			},
		},
		rollback,
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd, func(m *postgres.Migrator) error { return nil })
			},
		},
	)
	return cmd
}

// withMigrator connects to the configured database, runs fn and prints the
// resulting schema status.
func withMigrator(cmd *cobra.Command, fn func(*postgres.Migrator) error) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	cfg := cliCtx.Config.Postgres
	if cfg.Host == "" {
		return errors.Validation("postgres.host is not configured").WithDetail("field=postgres.host")
	}
	ctx, cancel := commandContext(cmd, cliCtx)
	defer cancel()

	conn, err := app.OpenPostgres(ctx, cfg, cliCtx.Logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	status, err := migrate(ctx, conn, fn)
	if err != nil {
		return err
	}
	status.Database = cfg.Database
	return PrintResult(cmd, status)
}

func migrate(ctx context.Context, conn *postgres.Connection, fn func(*postgres.Migrator) error) (MigrationStatus, error) {
	m, err := postgres.NewMigrator(ctx, conn.DB())
	if err != nil {
		return MigrationStatus{}, err
	}
	defer m.Close()
	if err := fn(m); err != nil {
		return MigrationStatus{}, err
	}
	version, dirty, err := m.Status()
	if err != nil {
		return MigrationStatus{}, err
	}
	return MigrationStatus{Version: version, Dirty: dirty}, nil
}

//Personal.AI order the ending
