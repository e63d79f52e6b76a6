// Package store persists account aggregates. Both engines guarantee at most
// one mutator per account number: LoadForMutation holds an exclusive lease on
// the number until the surrounding WithLease call returns, and nothing saved
// inside WithLease becomes visible unless the whole unit succeeds.
package store

import (
	"context"
	"errors"
	"time"

	"ledger/internal/account"
	"ledger/internal/money"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var ErrLockTimeout = errors.New("timed out waiting for account lock")

// AccountTx is the mutation side of a lease.
type AccountTx interface {
	LoadForMutation(ctx context.Context, number account.Number) (*account.Account, error)
	Save(ctx context.Context, acc *account.Account) error
}

type HistoryRecord struct {
	TransactionID  account.TransactionID
	Kind           account.TransactionKind
	SenderNumber   account.Number
	ReceiverNumber account.Number
	Amount         money.Money
	Fee            money.Money
	Balance        money.Money
	TransactionAt  time.Time
}

type HistoryPage struct {
	Records    []HistoryRecord
	TotalCount int64
	PageSize   int
	PageNumber int
	TotalPages int
}

// NormalizePage clamps a zero-based page number and a page size.
func NormalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

func newHistoryPage(records []HistoryRecord, total int64, page, size int) HistoryPage {
	totalPages := 0
	if size > 0 {
		totalPages = int((total + int64(size) - 1) / int64(size))
	}
	if records == nil {
		records = []HistoryRecord{}
	}
	return HistoryPage{
		Records:    records,
		TotalCount: total,
		PageSize:   size,
		PageNumber: page,
		TotalPages: totalPages,
	}
}

func historyRecord(tx account.Transaction, own, counterparty account.Number) HistoryRecord {
	record := HistoryRecord{
		TransactionID: tx.ID,
		Kind:          tx.Kind,
		Amount:        tx.Amount,
		Fee:           tx.Fee,
		Balance:       tx.Balance,
		TransactionAt: tx.TransactionAt,
	}
	if tx.Kind == account.KindReceive {
		record.SenderNumber, record.ReceiverNumber = counterparty, own
	} else {
		record.SenderNumber, record.ReceiverNumber = own, counterparty
	}
	return record
}
