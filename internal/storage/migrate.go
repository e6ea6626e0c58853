package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	logx "hostwatch/pkg/logx"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// migrateLogger adapts logx to migrate.Logger.
type migrateLogger struct{ log logx.Logger }

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return false }

// migrateSQLite applies the sqlite migrations on db. The *sql.DB stays
// owned by the caller.
func migrateSQLite(db *sql.DB, log logx.Logger) error {
	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migrate sqlite driver: %w", err)
	}
	return runMigrations("sqlite", "migrations/sqlite", drv, log)
}

// migratePostgres applies the postgres migrations over a dedicated
// connection opened from dsn.
func migratePostgres(dsn string, log logx.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, pgx5URL(dsn))
	if err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	m.Log = migrateLogger{log: log}
	return up(m, "postgres", log)
}

func runMigrations(name, dir string, drv database.Driver, log logx.Logger) error {
	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, name, drv)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", name, err)
	}
	m.Log = migrateLogger{log: log}
	// m.Close would close the caller's *sql.DB through the driver.
	defer func() { _ = src.Close() }()
	return up(m, name, log)
}

func up(m *migrate.Migrate, name string, log logx.Logger) error {
	err := m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if v, dirty, verr := m.Version(); verr == nil && dirty {
			return fmt.Errorf("migrate %s: version %d is dirty: %w", name, v, err)
		}
		return fmt.Errorf("migrate %s: %w", name, err)
	}
	v, _, verr := m.Version()
	if verr == nil {
		log.Info("schema ready", logx.String("driver", name), logx.Uint64("version", uint64(v)))
	}
	return nil
}

// pgx5URL rewrites a postgres URL to the scheme the migrate pgx/v5 driver
// registers.
func pgx5URL(dsn string) string {
	for _, p := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, p) {
			return "pgx5://" + strings.TrimPrefix(dsn, p)
		}
	}
	return dsn
}
