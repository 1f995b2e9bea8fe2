package storage

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/gjallarhorn-io/gjallarhorn/internal/ingestion"
)

// Compile-time interface assertions.
var (
	_ ingestion.QualityGateStore = (*IngestionStore)(nil)
	_ ingestion.ScenarioStore    = (*IngestionStore)(nil)
	_ ingestion.QualityGateTx    = (*qualityGateTx)(nil)
	_ ingestion.ScenarioTx       = (*scenarioTx)(nil)
)

type (
	// IngestionStore implements the ingestion store interfaces on PostgreSQL.
	//
	// Every Run*Tx call is one UnitOfWork: one transaction bounded by the
	// configured timeout, committed only when the callback succeeds.
	IngestionStore struct {
		conn   *Connection
		uow    *UnitOfWork
		logger *slog.Logger
	}

	// IngestionStoreOption configures optional IngestionStore behavior.
	IngestionStoreOption func(*IngestionStore)
)

// WithLogger sets the logger used for transaction diagnostics.
func WithLogger(logger *slog.Logger) IngestionStoreOption {
	return func(s *IngestionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewIngestionStore creates a PostgreSQL-backed ingestion store.
// Returns ErrNoDatabaseConnection if conn is nil.
func NewIngestionStore(conn *Connection, txTimeout time.Duration, opts ...IngestionStoreOption) (*IngestionStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	store := &IngestionStore{conn: conn, logger: slog.Default()}

	for _, opt := range opts {
		opt(store)
	}

	uow, err := NewUnitOfWork(conn, txTimeout, store.logger)
	if err != nil {
		return nil, err
	}

	store.uow = uow

	return store, nil
}

// RunQualityGateTx implements ingestion.QualityGateStore.
func (s *IngestionStore) RunQualityGateTx(
	ctx context.Context,
	fn func(ctx context.Context, tx ingestion.QualityGateTx) error,
) error {
	return s.uow.Do(ctx, "quality gate upsert", func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &qualityGateTx{tx: tx})
	})
}

// RunScenarioTx implements ingestion.ScenarioStore.
func (s *IngestionStore) RunScenarioTx(
	ctx context.Context,
	fn func(ctx context.Context, tx ingestion.ScenarioTx) error,
) error {
	return s.uow.Do(ctx, "scenario tree write", func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &scenarioTx{tx: tx})
	})
}

// HealthCheck verifies the database connection is healthy and ready to serve requests.
func (s *IngestionStore) HealthCheck(ctx context.Context) error {
	if s.conn == nil {
		return ErrNoDatabaseConnection
	}

	return s.conn.HealthCheck(ctx)
}
