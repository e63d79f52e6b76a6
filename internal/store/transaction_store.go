package store

import (
	"context"
	"fmt"

	"ledger/internal/account"
	"ledger/internal/models"
)

const historyKinds = `('TRANSFER', 'RECEIVE')`

// TransactionStore reads and appends account_transactions rows. Rows are
// never updated or deleted.
type TransactionStore struct {
	db DB
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func (s *TransactionStore) Insert(ctx context.Context, tx Execer, records []account.Transaction) error {
	query := `
		INSERT INTO account_transactions (id, account_id, kind, counterparty_account_id, amount, fee, balance_after, transaction_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, record := range records {
		row := transactionRow(record)
		if _, err := tx.ExecContext(ctx, query,
			row.ID, row.AccountID, row.Kind, row.CounterpartyID,
			row.Amount, row.Fee, row.BalanceAfter, row.TransactionAt,
		); err != nil {
			return err
		}
	}
	return nil
}

// ListByAccount returns the full history of one account in append order.
func (s *TransactionStore) ListByAccount(ctx context.Context, q Selecter, accountID string) ([]models.AccountTransaction, error) {
	var rows []models.AccountTransaction
	err := q.SelectContext(ctx, &rows, `
		SELECT id, account_id, kind, counterparty_account_id, amount, fee, balance_after, transaction_at
		FROM account_transactions
		WHERE account_id = $1
		ORDER BY seq
	`, accountID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransactionStore) CountTransferAndReceive(ctx context.Context, accountID string) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, `
		SELECT COUNT(*)
		FROM account_transactions
		WHERE account_id = $1 AND kind IN `+historyKinds, accountID)
	return total, err
}

// ListTransferAndReceive pages TRANSFER and RECEIVE rows newest first, joined
// with the account numbers on both sides.
func (s *TransactionStore) ListTransferAndReceive(ctx context.Context, accountID string, limit, offset int) ([]models.AccountTransaction, error) {
	var rows []models.AccountTransaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT t.id, t.account_id, t.kind, t.counterparty_account_id, t.amount, t.fee,
		       t.balance_after, t.transaction_at,
		       a.account_number, c.account_number AS counterparty_account_number
		FROM account_transactions t
		JOIN accounts a ON a.id = t.account_id
		LEFT JOIN accounts c ON c.id = t.counterparty_account_id
		WHERE t.account_id = $1 AND t.kind IN `+historyKinds+`
		ORDER BY t.transaction_at DESC, t.seq DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func transactionRow(record account.Transaction) models.AccountTransaction {
	row := models.AccountTransaction{
		ID:            record.ID.String(),
		AccountID:     record.AccountID.String(),
		Kind:          string(record.Kind),
		Amount:        record.Amount,
		Fee:           record.Fee,
		BalanceAfter:  record.Balance,
		TransactionAt: record.TransactionAt,
	}
	if !record.CounterpartyID.IsZero() {
		counterparty := record.CounterpartyID.String()
		row.CounterpartyID = &counterparty
	}
	return row
}

func toTransaction(row models.AccountTransaction) (account.Transaction, error) {
	id, err := account.ParseID(row.ID)
	if err != nil {
		return account.Transaction{}, fmt.Errorf("transaction %s: %w", row.ID, err)
	}
	accountID, err := account.ParseID(row.AccountID)
	if err != nil {
		return account.Transaction{}, fmt.Errorf("transaction %s: %w", row.ID, err)
	}
	kind, err := account.ParseTransactionKind(row.Kind)
	if err != nil {
		return account.Transaction{}, err
	}
	record := account.Transaction{
		ID:            account.TransactionID(id),
		Kind:          kind,
		AccountID:     accountID,
		Amount:        row.Amount,
		Fee:           row.Fee,
		Balance:       row.BalanceAfter,
		TransactionAt: row.TransactionAt,
	}
	if row.CounterpartyID != nil {
		counterparty, err := account.ParseID(*row.CounterpartyID)
		if err != nil {
			return account.Transaction{}, fmt.Errorf("transaction %s: %w", row.ID, err)
		}
		record.CounterpartyID = counterparty
	}
	return record, nil
}
