package models

import (
	"time"

	"ledger/internal/money"
)

type Account struct {
	ID                  string      `db:"id" json:"id"`
	AccountNumber       string      `db:"account_number" json:"account_number"`
	AccountHolderName   string      `db:"account_holder_name" json:"account_holder_name"`
	Balance             money.Money `db:"balance" json:"balance"`
	Status              string      `db:"status" json:"status"`
	WithdrawLimitAmount money.Money `db:"withdraw_limit_amount" json:"withdraw_limit_amount"`
	TransferLimitAmount money.Money `db:"transfer_limit_amount" json:"transfer_limit_amount"`
	TransferFeeRate     string      `db:"transfer_fee_rate" json:"transfer_fee_rate"`
	CreatedAt           time.Time   `db:"created_at" json:"created_at"`
	DestroyedAt         *time.Time  `db:"destroyed_at" json:"destroyed_at,omitempty"`
}

type AccountTransaction struct {
	ID               string      `db:"id" json:"id"`
	AccountID        string      `db:"account_id" json:"account_id"`
	Kind             string      `db:"kind" json:"kind"`
	CounterpartyID   *string     `db:"counterparty_account_id" json:"counterparty_account_id,omitempty"`
	Amount           money.Money `db:"amount" json:"amount"`
	Fee              money.Money `db:"fee" json:"fee"`
	BalanceAfter     money.Money `db:"balance_after" json:"balance_after"`
	TransactionAt    time.Time   `db:"transaction_at" json:"transaction_at"`
	CounterpartyNum  *string     `db:"counterparty_account_number" json:"counterparty_account_number,omitempty"`
	OwnAccountNumber string      `db:"account_number" json:"account_number"`
}
