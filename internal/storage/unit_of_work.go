package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// UnitOfWork runs a function inside one database transaction with a deadline.
//
// Do commits when fn returns nil and rolls back on every other exit path,
// including a panic inside fn (the panic is re-raised after the rollback).
// A rollback failure is logged and joined with the error that caused it.
type UnitOfWork struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

// NewUnitOfWork creates a UnitOfWork over conn. timeout bounds each transaction.
func NewUnitOfWork(conn *Connection, timeout time.Duration, logger *slog.Logger) (*UnitOfWork, error) {
	if conn == nil || conn.DB == nil {
		return nil, ErrNoDatabaseConnection
	}

	if timeout <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidTxTimeout, timeout)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &UnitOfWork{db: conn.DB, timeout: timeout, logger: logger}, nil
}

// Do runs fn in a transaction. The ctx passed to fn carries the transaction deadline.
func (u *UnitOfWork) Do(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op+": begin", err)
	}

	committed := false

	defer func() {
		if committed {
			return
		}

		recovered := recover()

		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			u.logger.Error("Failed to roll back transaction",
				slog.String("op", op),
				slog.String("error", rbErr.Error()),
			)

			err = errors.Join(err, classify(op+": rollback", rbErr))
		}

		if recovered != nil {
			panic(recovered)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return classify(op+": commit", err)
	}

	committed = true

	return nil
}
