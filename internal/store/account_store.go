package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"ledger/internal/account"
	pgdb "ledger/internal/db"
	"ledger/internal/models"
	"ledger/internal/money"
)

const accountColumns = `id, account_number, account_holder_name, balance, status,
		       withdraw_limit_amount, transfer_limit_amount, transfer_fee_rate,
		       created_at, destroyed_at`

// AccountStore is the Postgres engine. Leases are row locks taken with
// SELECT ... FOR UPDATE. The lease transaction runs at read committed: the
// row lock already serializes mutators of one account, and a waiter must see
// the holder's committed row rather than abort with 40001.
type AccountStore struct {
	db           DB
	txRunner     pgdb.TxRunner
	transactions *TransactionStore
	ledger       *LedgerStore
	lockTimeout  time.Duration
}

func NewAccountStore(db DB, txRunner pgdb.TxRunner, lockTimeout time.Duration) *AccountStore {
	return &AccountStore{
		db:           db,
		txRunner:     txRunner,
		transactions: NewTransactionStore(db),
		ledger:       NewLedgerStore(db),
		lockTimeout:  lockTimeout,
	}
}

// OpenAccountStore builds the store with a read committed lease runner.
func OpenAccountStore(database *sqlx.DB, lockTimeout time.Duration) *AccountStore {
	return NewAccountStore(database, pgdb.NewTxRunner(database, pgdb.WithIsolation(sql.LevelReadCommitted)), lockTimeout)
}

func (s *AccountStore) Create(ctx context.Context, acc *account.Account) error {
	row := accountRow(acc)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, account_number, account_holder_name, balance, status,
		                      withdraw_limit_amount, transfer_limit_amount, transfer_fee_rate,
		                      created_at, destroyed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, row.ID, row.AccountNumber, row.AccountHolderName, row.Balance, row.Status,
		row.WithdrawLimitAmount, row.TransferLimitAmount, row.TransferFeeRate,
		row.CreatedAt, row.DestroyedAt)
	if err != nil {
		if pgdb.IsUniqueViolation(err) {
			return account.ErrDuplicateAccountNumber
		}
		return err
	}
	acc.MarkPersisted()
	return nil
}

// FindByNumber returns the account without its history.
func (s *AccountStore) FindByNumber(ctx context.Context, number account.Number) (*account.Account, error) {
	var row models.Account
	err := s.db.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE account_number = $1
	`, string(number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrAccountNotFound
		}
		return nil, err
	}
	return toAccount(row, nil)
}

// WithLease runs fn in one database transaction. Row locks taken by
// LoadForMutation are released on commit or rollback.
func (s *AccountStore) WithLease(ctx context.Context, fn func(tx AccountTx) error) error {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if s.lockTimeout > 0 {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
				return err
			}
		}
		return fn(&pgAccountTx{tx: tx, transactions: s.transactions})
	})
	if pgdb.IsLockNotAvailable(err) {
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	return err
}

func (s *AccountStore) FindTransferAndReceiveHistory(ctx context.Context, accountID account.ID, page, size int) (HistoryPage, error) {
	page, size = NormalizePage(page, size)
	total, err := s.transactions.CountTransferAndReceive(ctx, accountID.String())
	if err != nil {
		return HistoryPage{}, err
	}
	rows, err := s.transactions.ListTransferAndReceive(ctx, accountID.String(), size, page*size)
	if err != nil {
		return HistoryPage{}, err
	}
	records := make([]HistoryRecord, 0, len(rows))
	for _, row := range rows {
		tx, err := toTransaction(row)
		if err != nil {
			return HistoryPage{}, err
		}
		counterparty := account.Number(derefStringPtr(row.CounterpartyNum))
		records = append(records, historyRecord(tx, account.Number(row.OwnAccountNumber), counterparty))
	}
	return newHistoryPage(records, total, page, size), nil
}

func (s *AccountStore) SumLedger(ctx context.Context, accountID account.ID) (money.Money, error) {
	return s.ledger.SumByAccount(ctx, accountID.String())
}

type pgAccountTx struct {
	tx           Tx
	transactions *TransactionStore
}

func (t *pgAccountTx) LoadForMutation(ctx context.Context, number account.Number) (*account.Account, error) {
	var row models.Account
	err := t.tx.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE account_number = $1
		FOR UPDATE
	`, string(number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrAccountNotFound
		}
		return nil, err
	}
	history, err := t.transactions.ListByAccount(ctx, t.tx, row.ID)
	if err != nil {
		return nil, err
	}
	return toAccount(row, history)
}

func (t *pgAccountTx) Save(ctx context.Context, acc *account.Account) error {
	row := accountRow(acc)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET account_holder_name = $1, balance = $2, status = $3,
		    withdraw_limit_amount = $4, transfer_limit_amount = $5, transfer_fee_rate = $6,
		    destroyed_at = $7, updated_at = NOW()
		WHERE id = $8
	`, row.AccountHolderName, row.Balance, row.Status,
		row.WithdrawLimitAmount, row.TransferLimitAmount, row.TransferFeeRate,
		row.DestroyedAt, row.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return account.ErrAccountNotFound
	}
	if err := t.transactions.Insert(ctx, t.tx, acc.PendingTransactions()); err != nil {
		return err
	}
	acc.MarkPersisted()
	return nil
}

func accountRow(acc *account.Account) models.Account {
	return models.Account{
		ID:                  acc.ID().String(),
		AccountNumber:       acc.Number().String(),
		AccountHolderName:   acc.HolderName(),
		Balance:             acc.Balance(),
		Status:              string(acc.Status()),
		WithdrawLimitAmount: acc.WithdrawLimit(),
		TransferLimitAmount: acc.TransferLimit(),
		TransferFeeRate:     acc.TransferFeeRate().Decimal().String(),
		CreatedAt:           acc.CreatedAt(),
		DestroyedAt:         acc.DestroyedAt(),
	}
}

func toAccount(row models.Account, history []models.AccountTransaction) (*account.Account, error) {
	id, err := account.ParseID(row.ID)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", row.AccountNumber, err)
	}
	status, err := account.ParseStatus(row.Status)
	if err != nil {
		return nil, err
	}
	snapshot := account.Snapshot{
		ID:            id,
		Number:        account.Number(row.AccountNumber),
		HolderName:    row.AccountHolderName,
		Balance:       row.Balance,
		Status:        status,
		WithdrawLimit: &row.WithdrawLimitAmount,
		TransferLimit: &row.TransferLimitAmount,
		CreatedAt:     row.CreatedAt,
		DestroyedAt:   row.DestroyedAt,
	}
	if row.TransferFeeRate != "" {
		raw, err := decimal.NewFromString(row.TransferFeeRate)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", row.AccountNumber, err)
		}
		rate, err := money.NewFeeRate(raw)
		if err != nil {
			return nil, err
		}
		snapshot.TransferFeeRate = &rate
	}
	for _, txRow := range history {
		tx, err := toTransaction(txRow)
		if err != nil {
			return nil, err
		}
		snapshot.Transactions = append(snapshot.Transactions, tx)
	}
	return account.Restore(snapshot), nil
}

func derefStringPtr(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
