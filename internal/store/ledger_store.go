package store

import (
	"context"

	"ledger/internal/money"
)

// LedgerStore answers aggregate questions over account_transactions.
type LedgerStore struct {
	db DB
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// SumByAccount replays the signed effect of every record for one account.
func (s *LedgerStore) SumByAccount(ctx context.Context, accountID string) (money.Money, error) {
	var sum money.Money
	err := s.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(
		         CASE kind
		           WHEN 'DEPOSIT' THEN amount
		           WHEN 'RECEIVE' THEN amount
		           WHEN 'WITHDRAWAL' THEN -amount
		           WHEN 'TRANSFER' THEN -(amount + fee)
		         END), 0)
		FROM account_transactions
		WHERE account_id = $1
	`, accountID)
	return sum, err
}
