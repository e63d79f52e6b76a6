package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
)

// isolationDriver records the isolation level and statements of every
// transaction opened through it.
type isolationDriver struct {
	isolations []driver.IsolationLevel
	statements []string
}

func (d *isolationDriver) Open(string) (driver.Conn, error) { return &isolationConn{driver: d}, nil }

type isolationConn struct{ driver *isolationDriver }

func (c *isolationConn) Prepare(query string) (driver.Stmt, error) {
	return isolationStmt{driver: c.driver, query: query}, nil
}
func (c *isolationConn) Close() error              { return nil }
func (c *isolationConn) Begin() (driver.Tx, error) { return isolationTx{}, nil }

func (c *isolationConn) BeginTx(_ context.Context, opts driver.TxOptions) (driver.Tx, error) {
	c.driver.isolations = append(c.driver.isolations, opts.Isolation)
	return isolationTx{}, nil
}

type isolationTx struct{}

func (isolationTx) Commit() error   { return nil }
func (isolationTx) Rollback() error { return nil }

type isolationStmt struct {
	driver *isolationDriver
	query  string
}

func (s isolationStmt) Close() error  { return nil }
func (s isolationStmt) NumInput() int { return -1 }
func (s isolationStmt) Exec([]driver.Value) (driver.Result, error) {
	s.driver.statements = append(s.driver.statements, s.query)
	return driver.RowsAffected(0), nil
}
func (s isolationStmt) Query([]driver.Value) (driver.Rows, error) {
	return nil, errors.New("not supported")
}

func TestOpenAccountStoreLeasesAtReadCommitted(t *testing.T) {
	d := &isolationDriver{}
	sql.Register("lease-isolation", d)
	sqlDB, err := sql.Open("lease-isolation", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sqlDB.Close()

	s := OpenAccountStore(sqlx.NewDb(sqlDB, "postgres"), 250*time.Millisecond)
	if err := s.WithLease(context.Background(), func(AccountTx) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.isolations) != 1 || d.isolations[0] != driver.IsolationLevel(sql.LevelReadCommitted) {
		t.Fatalf("expected one read committed lease, got %v", d.isolations)
	}
	if len(d.statements) != 1 || !strings.Contains(d.statements[0], "lock_timeout = '250ms'") {
		t.Fatalf("expected lock_timeout to be set, got %v", d.statements)
	}
}
