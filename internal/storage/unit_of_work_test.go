package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockConnection(t *testing.T) (*Connection, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return &Connection{DB: db}, mock
}

func newTestUnitOfWork(t *testing.T) (*UnitOfWork, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock := newMockConnection(t)

	uow, err := NewUnitOfWork(conn, time.Second, nil)
	require.NoError(t, err)

	return uow, mock
}

func TestNewUnitOfWork(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	conn, _ := newMockConnection(t)

	_, err := NewUnitOfWork(nil, time.Second, nil)
	require.ErrorIs(t, err, ErrNoDatabaseConnection)

	_, err = NewUnitOfWork(conn, 0, nil)
	require.ErrorIs(t, err, ErrInvalidTxTimeout)
}

func TestUnitOfWork_CommitsOnSuccess(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	uow, mock := newTestUnitOfWork(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE step").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := uow.Do(context.Background(), "test", func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE step SET test_id = 1 WHERE id = 1")

		return err
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_RollsBackOnError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	uow, mock := newTestUnitOfWork(t)
	errFn := errors.New("step rejected")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := uow.Do(context.Background(), "test", func(context.Context, *sql.Tx) error {
		return errFn
	})

	require.ErrorIs(t, err, errFn)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_RollsBackOnPanic(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	uow, mock := newTestUnitOfWork(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.PanicsWithValue(t, "unexpected nil test", func() {
		_ = uow.Do(context.Background(), "test", func(context.Context, *sql.Tx) error {
			panic("unexpected nil test")
		})
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_RollbackFailureIsJoined(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	uow, mock := newTestUnitOfWork(t)
	errFn := errors.New("step rejected")
	errRollback := errors.New("connection reset by peer")

	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errRollback)

	err := uow.Do(context.Background(), "scenario tree write", func(context.Context, *sql.Tx) error {
		return errFn
	})

	require.ErrorIs(t, err, errFn)
	require.ErrorIs(t, err, errRollback)
	require.ErrorIs(t, err, ErrStorage)
	assert.Contains(t, err.Error(), "scenario tree write: rollback")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_BeginFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	uow, mock := newTestUnitOfWork(t)

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	called := false
	err := uow.Do(context.Background(), "test", func(context.Context, *sql.Tx) error {
		called = true

		return nil
	})

	require.ErrorIs(t, err, ErrStorage)
	assert.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_CommitFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	uow, mock := newTestUnitOfWork(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("could not serialize access"))

	err := uow.Do(context.Background(), "test", func(context.Context, *sql.Tx) error {
		return nil
	})

	require.ErrorIs(t, err, ErrStorage)
	assert.Contains(t, err.Error(), "test: commit")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitOfWork_AppliesDeadline(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	conn, mock := newMockConnection(t)

	uow, err := NewUnitOfWork(conn, 50*time.Millisecond, nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err = uow.Do(context.Background(), "test", func(ctx context.Context, _ *sql.Tx) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok, "transaction context carries a deadline")
		assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)

		<-ctx.Done()

		return ctx.Err()
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
}
