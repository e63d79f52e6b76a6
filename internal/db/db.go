package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const maxAttempts = 5

var ErrRetryLimitExceeded = errors.New("transaction retry limit exceeded")

type TxRunner interface {
	WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
}

type SQLXTxRunner struct {
	db        *sqlx.DB
	isolation sql.IsolationLevel
}

type TxOption func(*SQLXTxRunner)

// WithIsolation overrides the default serializable isolation. Row-locking
// callers use read committed so a waiter on FOR UPDATE proceeds with the
// committed row instead of failing with a serialization error.
func WithIsolation(level sql.IsolationLevel) TxOption {
	return func(r *SQLXTxRunner) {
		r.isolation = level
	}
}

func NewTxRunner(db *sqlx.DB, opts ...TxOption) SQLXTxRunner {
	runner := SQLXTxRunner{db: db, isolation: sql.LevelSerializable}
	for _, opt := range opts {
		opt(&runner)
	}
	return runner
}

func (r SQLXTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return withTx(ctx, r.db, r.isolation, fn)
}

func Connect(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// WithTx runs fn in a serializable transaction and replays it on
// serialization failures and deadlocks. fn must be safe to run again.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	return withTx(ctx, db, sql.LevelSerializable, fn)
}

func withTx(ctx context.Context, db *sqlx.DB, isolation sql.IsolationLevel, fn func(*sqlx.Tx) error) error {
	for attempt := 1; ; attempt++ {
		tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: isolation})
		if err != nil {
			return err
		}
		err = fn(tx)
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt == maxAttempts {
			return fmt.Errorf("%w: %w", ErrRetryLimitExceeded, err)
		}
		if err := sleepWithBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

// IsRetryable reports serialization failures (40001) and deadlocks (40P01).
func IsRetryable(err error) bool {
	code, ok := pqCode(err)
	return ok && (code == "40001" || code == "40P01")
}

// IsLockNotAvailable reports lock_timeout expiry (55P03).
func IsLockNotAvailable(err error) bool {
	code, ok := pqCode(err)
	return ok && code == "55P03"
}

func IsUniqueViolation(err error) bool {
	code, ok := pqCode(err)
	return ok && code == "23505"
}

func pqCode(err error) (pq.ErrorCode, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return "", false
	}
	return pqErr.Code, true
}

func sleepWithBackoff(ctx context.Context, attempt int) error {
	base := 20 * time.Millisecond
	backoff := time.Duration(attempt*attempt) * base
	jitter := time.Duration(rand.Int63n(int64(10 * time.Millisecond)))
	log.Debug().Int("attempt", attempt).Dur("backoff", backoff+jitter).Msg("retrying transaction")
	timer := time.NewTimer(backoff + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
