// Package account holds the account aggregate. Its methods are the only way
// to change a balance; every change appends a Transaction to the history the
// account owns.
package account

import (
	"fmt"
	"time"

	"ledger/internal/money"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusDestroyed Status = "DESTROYED"
)

func ParseStatus(raw string) (Status, error) {
	switch status := Status(raw); status {
	case StatusActive, StatusDestroyed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown account status %q", raw)
	}
}

var (
	DefaultWithdrawLimit   = money.FromInt(1_000_000)
	DefaultTransferLimit   = money.FromInt(3_000_000)
	DefaultTransferFeeRate = money.MustFeeRate("0.01")
)

type Account struct {
	id              ID
	number          Number
	holderName      string
	balance         money.Money
	status          Status
	withdrawLimit   money.Money
	transferLimit   money.Money
	transferFeeRate money.FeeRate
	createdAt       time.Time
	destroyedAt     *time.Time
	transactions    []Transaction
	persisted       int
}

// Snapshot is the storable shape of an account. Nil limits and fee rate fall
// back to the platform defaults on Restore.
type Snapshot struct {
	ID              ID
	Number          Number
	HolderName      string
	Balance         money.Money
	Status          Status
	WithdrawLimit   *money.Money
	TransferLimit   *money.Money
	TransferFeeRate *money.FeeRate
	CreatedAt       time.Time
	DestroyedAt     *time.Time
	Transactions    []Transaction
}

// Open creates a fresh active account with a zero balance.
func Open(holderName string, now time.Time) *Account {
	return &Account{
		id:              NewID(),
		number:          GenerateNumber(now),
		holderName:      holderName,
		balance:         money.Zero,
		status:          StatusActive,
		withdrawLimit:   DefaultWithdrawLimit,
		transferLimit:   DefaultTransferLimit,
		transferFeeRate: DefaultTransferFeeRate,
		createdAt:       now,
	}
}

// Restore rebuilds a loaded account. The given transactions count as already
// persisted.
func Restore(s Snapshot) *Account {
	a := &Account{
		id:              s.ID,
		number:          s.Number,
		holderName:      s.HolderName,
		balance:         s.Balance,
		status:          s.Status,
		withdrawLimit:   DefaultWithdrawLimit,
		transferLimit:   DefaultTransferLimit,
		transferFeeRate: DefaultTransferFeeRate,
		createdAt:       s.CreatedAt,
		transactions:    append([]Transaction(nil), s.Transactions...),
	}
	if a.status == "" {
		a.status = StatusActive
	}
	if s.WithdrawLimit != nil {
		a.withdrawLimit = *s.WithdrawLimit
	}
	if s.TransferLimit != nil {
		a.transferLimit = *s.TransferLimit
	}
	if s.TransferFeeRate != nil {
		a.transferFeeRate = *s.TransferFeeRate
	}
	if s.DestroyedAt != nil {
		destroyedAt := *s.DestroyedAt
		a.destroyedAt = &destroyedAt
	}
	a.persisted = len(a.transactions)
	return a
}

func (a *Account) Snapshot() Snapshot {
	withdrawLimit := a.withdrawLimit
	transferLimit := a.transferLimit
	feeRate := a.transferFeeRate
	s := Snapshot{
		ID:              a.id,
		Number:          a.number,
		HolderName:      a.holderName,
		Balance:         a.balance,
		Status:          a.status,
		WithdrawLimit:   &withdrawLimit,
		TransferLimit:   &transferLimit,
		TransferFeeRate: &feeRate,
		CreatedAt:       a.createdAt,
		Transactions:    a.Transactions(),
	}
	if a.destroyedAt != nil {
		destroyedAt := *a.destroyedAt
		s.DestroyedAt = &destroyedAt
	}
	return s
}

// Clone returns a deep copy that keeps the persisted marker.
func (a *Account) Clone() *Account {
	clone := Restore(a.Snapshot())
	clone.persisted = a.persisted
	return clone
}

func (a *Account) ID() ID                         { return a.id }
func (a *Account) Number() Number                 { return a.number }
func (a *Account) HolderName() string             { return a.holderName }
func (a *Account) Balance() money.Money           { return a.balance }
func (a *Account) Status() Status                 { return a.status }
func (a *Account) WithdrawLimit() money.Money     { return a.withdrawLimit }
func (a *Account) TransferLimit() money.Money     { return a.transferLimit }
func (a *Account) TransferFeeRate() money.FeeRate { return a.transferFeeRate }
func (a *Account) CreatedAt() time.Time           { return a.createdAt }
func (a *Account) IsDestroyed() bool              { return a.status == StatusDestroyed }

func (a *Account) DestroyedAt() *time.Time {
	if a.destroyedAt == nil {
		return nil
	}
	destroyedAt := *a.destroyedAt
	return &destroyedAt
}

func (a *Account) Transactions() []Transaction {
	return append([]Transaction(nil), a.transactions...)
}

// PendingTransactions returns the records appended since the account was
// loaded or last marked persisted.
func (a *Account) PendingTransactions() []Transaction {
	return append([]Transaction(nil), a.transactions[a.persisted:]...)
}

func (a *Account) MarkPersisted() {
	a.persisted = len(a.transactions)
}

func (a *Account) Destroy(now time.Time) error {
	if a.status == StatusDestroyed {
		return fmt.Errorf("destroy failed: account already destroyed: %w", ErrAccountStatusInvalid)
	}
	a.status = StatusDestroyed
	a.destroyedAt = &now
	return nil
}

func (a *Account) Deposit(amount money.Money, now time.Time) (Transaction, error) {
	if a.status != StatusActive {
		return Transaction{}, statusError("deposit")
	}
	a.balance = a.balance.Add(amount)
	tx := newTransaction(KindDeposit, a.id, ID{}, amount, money.Zero, a.balance, now)
	a.transactions = append(a.transactions, tx)
	return tx, nil
}

func (a *Account) Withdraw(amount money.Money, now time.Time) (Transaction, error) {
	if a.status != StatusActive {
		return Transaction{}, statusError("withdraw")
	}
	if amount.IsGreaterThan(a.balance) {
		return Transaction{}, ErrInsufficientBalance
	}
	if a.totalToday(KindWithdrawal, now).Add(amount).IsGreaterThan(a.withdrawLimit) {
		return Transaction{}, ErrWithdrawLimitExceeded
	}
	a.balance = a.balance.Subtract(amount)
	tx := newTransaction(KindWithdrawal, a.id, ID{}, amount, money.Zero, a.balance, now)
	a.transactions = append(a.transactions, tx)
	return tx, nil
}

// Transfer debits amount plus fee. Only the principal counts toward the daily
// transfer limit.
func (a *Account) Transfer(receiverID ID, amount money.Money, now time.Time) (Transaction, error) {
	if a.status != StatusActive {
		return Transaction{}, statusError("transfer")
	}
	if receiverID == a.id {
		return Transaction{}, fmt.Errorf("%w: cannot transfer to the same account", ErrInvalidTransfer)
	}
	fee := a.transferFeeRate.CalculateFee(amount)
	if amount.Add(fee).IsGreaterThan(a.balance) {
		return Transaction{}, ErrInsufficientBalance
	}
	if a.totalToday(KindTransfer, now).Add(amount).IsGreaterThan(a.transferLimit) {
		return Transaction{}, ErrTransferLimitExceeded
	}
	a.balance = a.balance.Subtract(amount.Add(fee))
	tx := newTransaction(KindTransfer, a.id, receiverID, amount, fee, a.balance, now)
	a.transactions = append(a.transactions, tx)
	return tx, nil
}

func (a *Account) Receive(senderID ID, amount money.Money, now time.Time) (Transaction, error) {
	if a.status != StatusActive {
		return Transaction{}, statusError("receive")
	}
	a.balance = a.balance.Add(amount)
	tx := newTransaction(KindReceive, a.id, senderID, amount, money.Zero, a.balance, now)
	a.transactions = append(a.transactions, tx)
	return tx, nil
}

// totalToday sums principal amounts of the given kind recorded on the same
// calendar date as now, evaluated in now's location.
func (a *Account) totalToday(kind TransactionKind, now time.Time) money.Money {
	total := money.Zero
	for _, tx := range a.transactions {
		if tx.Kind != kind || tx.TransactionAt.IsZero() {
			continue
		}
		if sameDay(tx.TransactionAt, now) {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

func sameDay(at, now time.Time) bool {
	y1, m1, d1 := at.In(now.Location()).Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
