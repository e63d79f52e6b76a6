package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// scriptedDriver counts commits and rollbacks and fails the first
// failCommits commits with failCode.
type scriptedDriver struct {
	commits     int64
	rollbacks   int64
	failCommits int64
	failCode    string
	isolations  []driver.IsolationLevel
}

func (d *scriptedDriver) Open(string) (driver.Conn, error) {
	return &scriptedConn{driver: d}, nil
}

type scriptedConn struct {
	driver *scriptedDriver
}

func (c *scriptedConn) Prepare(string) (driver.Stmt, error) { return noopStmt{}, nil }
func (c *scriptedConn) Close() error                        { return nil }
func (c *scriptedConn) Begin() (driver.Tx, error)           { return &scriptedTx{driver: c.driver}, nil }

func (c *scriptedConn) BeginTx(_ context.Context, opts driver.TxOptions) (driver.Tx, error) {
	c.driver.isolations = append(c.driver.isolations, opts.Isolation)
	return &scriptedTx{driver: c.driver}, nil
}

type scriptedTx struct {
	driver *scriptedDriver
}

func (t *scriptedTx) Commit() error {
	call := atomic.AddInt64(&t.driver.commits, 1)
	if call <= t.driver.failCommits {
		return &pq.Error{Code: pq.ErrorCode(t.driver.failCode)}
	}
	return nil
}

func (t *scriptedTx) Rollback() error {
	atomic.AddInt64(&t.driver.rollbacks, 1)
	return nil
}

type noopStmt struct{}

func (noopStmt) Close() error                               { return nil }
func (noopStmt) NumInput() int                              { return -1 }
func (noopStmt) Exec([]driver.Value) (driver.Result, error) { return driver.RowsAffected(0), nil }
func (noopStmt) Query([]driver.Value) (driver.Rows, error)  { return nil, errors.New("not supported") }

var driverCounter uint64

func openScripted(t *testing.T, d *scriptedDriver) *sqlx.DB {
	t.Helper()
	name := fmt.Sprintf("scripted-%d", atomic.AddUint64(&driverCounter, 1))
	sql.Register(name, d)
	sqlDB, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlx.NewDb(sqlDB, name)
}

func TestWithTxCommits(t *testing.T) {
	d := &scriptedDriver{}
	xdb := openScripted(t, d)
	if err := WithTx(context.Background(), xdb, func(*sqlx.Tx) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.commits != 1 || d.rollbacks != 0 {
		t.Fatalf("expected commit=1 rollback=0, got %d/%d", d.commits, d.rollbacks)
	}
}

func TestWithTxRollsBackOnDomainError(t *testing.T) {
	d := &scriptedDriver{}
	xdb := openScripted(t, d)
	boom := errors.New("insufficient balance")
	calls := 0
	err := WithTx(context.Background(), xdb, func(*sqlx.Tx) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if calls != 1 || d.rollbacks != 1 || d.commits != 0 {
		t.Fatalf("expected one rolled back attempt, got calls=%d rollbacks=%d commits=%d", calls, d.rollbacks, d.commits)
	}
}

func TestWithTxReplaysOnDeadlockFromFn(t *testing.T) {
	d := &scriptedDriver{}
	xdb := openScripted(t, d)
	calls := 0
	err := WithTx(context.Background(), xdb, func(*sqlx.Tx) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("lock account: %w", &pq.Error{Code: "40P01"})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || d.commits != 1 {
		t.Fatalf("expected replay then commit, got calls=%d commits=%d", calls, d.commits)
	}
}

func TestWithTxRetriesOnSerializableConflict(t *testing.T) {
	d := &scriptedDriver{failCommits: 1, failCode: "40001"}
	xdb := openScripted(t, d)
	if err := WithTx(context.Background(), xdb, func(*sqlx.Tx) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.commits != 2 {
		t.Fatalf("expected 2 commits, got %d", d.commits)
	}
}

func TestWithTxGivesUpAfterMaxAttempts(t *testing.T) {
	d := &scriptedDriver{failCommits: 10, failCode: "40P01"}
	xdb := openScripted(t, d)
	err := WithTx(context.Background(), xdb, func(*sqlx.Tx) error { return nil })
	if !errors.Is(err, ErrRetryLimitExceeded) || !IsRetryable(err) {
		t.Fatalf("expected retry limit wrapping the last deadlock, got %v", err)
	}
	if d.commits != maxAttempts {
		t.Fatalf("expected %d commits, got %d", maxAttempts, d.commits)
	}
}

func TestWithTxStopsRetryingWhenContextDone(t *testing.T) {
	d := &scriptedDriver{failCommits: 10, failCode: "40001"}
	xdb := openScripted(t, d)
	ctx, cancel := context.WithCancel(context.Background())
	err := WithTx(ctx, xdb, func(*sqlx.Tx) error {
		cancel()
		return &pq.Error{Code: "40001"}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestErrorClassifiers(t *testing.T) {
	if !IsLockNotAvailable(fmt.Errorf("wrap: %w", &pq.Error{Code: "55P03"})) {
		t.Fatal("expected 55P03 to be lock not available")
	}
	if !IsUniqueViolation(&pq.Error{Code: "23505"}) {
		t.Fatal("expected 23505 to be unique violation")
	}
	if IsRetryable(errors.New("plain")) || IsLockNotAvailable(nil) {
		t.Fatal("non pq errors must not classify")
	}
}

func TestTxRunnerIsolation(t *testing.T) {
	d := &scriptedDriver{}
	xdb := openScripted(t, d)
	if err := NewTxRunner(xdb).WithTx(context.Background(), func(*sqlx.Tx) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	leases := NewTxRunner(xdb, WithIsolation(sql.LevelReadCommitted))
	if err := leases.WithTx(context.Background(), func(*sqlx.Tx) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []driver.IsolationLevel{driver.IsolationLevel(sql.LevelSerializable), driver.IsolationLevel(sql.LevelReadCommitted)}
	if len(d.isolations) != 2 || d.isolations[0] != want[0] || d.isolations[1] != want[1] {
		t.Fatalf("expected isolations %v, got %v", want, d.isolations)
	}
}

func TestTxRunnerRetriesDeadlocksUnderReadCommitted(t *testing.T) {
	d := &scriptedDriver{failCommits: 2, failCode: "40P01"}
	xdb := openScripted(t, d)
	runner := NewTxRunner(xdb, WithIsolation(sql.LevelReadCommitted))
	if err := runner.WithTx(context.Background(), func(*sqlx.Tx) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.commits != 3 {
		t.Fatalf("expected 3 commits, got %d", d.commits)
	}
}
