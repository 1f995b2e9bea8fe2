package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DefaultMigrationsTable is the golang-migrate bookkeeping table.
const DefaultMigrationsTable = "schema_migrations"

type (
	// Runner applies embedded migrations to a PostgreSQL database.
	//
	// The runner owns its own *sql.DB: closing a golang-migrate instance closes the
	// database handle it was built from, so it must never share the service pool.
	Runner struct {
		migrate *migrate.Migrate
		db      *sql.DB
		source  *Source
		logger  *slog.Logger
	}

	// migrateLogger adapts slog to the migrate.Logger interface.
	migrateLogger struct {
		logger *slog.Logger
	}
)

var _ migrate.Logger = (*migrateLogger)(nil)

// NewRunner opens a dedicated connection to databaseURL and prepares the embedded source.
func NewRunner(ctx context.Context, databaseURL string, logger *slog.Logger) (*Runner, error) {
	source := NewSource(nil)

	if err := source.Validate(); err != nil {
		return nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: DefaultMigrationsTable,
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(source.FS(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	return &Runner{
		migrate: m,
		db:      db,
		source:  source,
		logger:  logger,
	}, nil
}

// Up applies all pending migrations. An already current schema is not an error.
func (r *Runner) Up() error {
	err := r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, dirty, verr := r.migrate.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", verr)
	}

	if dirty {
		return migrate.ErrDirty{Version: int(version)} //nolint: gosec
	}

	r.logger.Info("Database schema is current",
		slog.Uint64("schema_version", uint64(version)),
		slog.Int("embedded_version", r.source.LatestVersion()),
		slog.Bool("applied", !errors.Is(err, migrate.ErrNoChange)),
	)

	return nil
}

// Close releases the migration source and the dedicated database handle.
func (r *Runner) Close() error {
	var errs []error

	sourceErr, dbErr := r.migrate.Close()
	if sourceErr != nil {
		errs = append(errs, fmt.Errorf("source close error: %w", sourceErr))
	}

	if dbErr != nil {
		errs = append(errs, fmt.Errorf("database close error: %w", dbErr))
	}

	// migrate already closed r.db through the driver; a second close is a no-op
	_ = r.db.Close()

	return errors.Join(errs...)
}

// Apply brings the database at databaseURL up to the embedded schema version.
func Apply(ctx context.Context, databaseURL string, logger *slog.Logger) error {
	runner, err := NewRunner(ctx, databaseURL, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := runner.Close(); err != nil {
			logger.Warn("Failed to close migration runner", slog.String("error", err.Error()))
		}
	}()

	return runner.Up()
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf("[MIGRATE] "+format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
