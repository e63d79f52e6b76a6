package account

import (
	"fmt"
	"time"

	"ledger/internal/money"
)

type TransactionKind string

const (
	KindDeposit    TransactionKind = "DEPOSIT"
	KindWithdrawal TransactionKind = "WITHDRAWAL"
	KindTransfer   TransactionKind = "TRANSFER"
	KindReceive    TransactionKind = "RECEIVE"
)

func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch kind := TransactionKind(raw); kind {
	case KindDeposit, KindWithdrawal, KindTransfer, KindReceive:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown transaction kind %q", raw)
	}
}

// Transaction is one immutable ledger record. CounterpartyID is the receiver
// for a TRANSFER and the sender for a RECEIVE; it is zero otherwise. Fee is
// only set on TRANSFER. Balance is the account balance right after the record.
type Transaction struct {
	ID             TransactionID
	Kind           TransactionKind
	AccountID      ID
	CounterpartyID ID
	Amount         money.Money
	Fee            money.Money
	Balance        money.Money
	TransactionAt  time.Time
}

// Effect is the signed change the record applied to the balance.
func (t Transaction) Effect() money.Money {
	switch t.Kind {
	case KindDeposit, KindReceive:
		return t.Amount
	case KindWithdrawal:
		return t.Amount.Negate()
	case KindTransfer:
		return t.Amount.Add(t.Fee).Negate()
	default:
		panic(fmt.Sprintf("account: unhandled transaction kind %q", t.Kind))
	}
}

func newTransaction(kind TransactionKind, accountID, counterpartyID ID, amount, fee, balance money.Money, at time.Time) Transaction {
	return Transaction{
		ID:             NewTransactionID(),
		Kind:           kind,
		AccountID:      accountID,
		CounterpartyID: counterpartyID,
		Amount:         amount,
		Fee:            fee,
		Balance:        balance,
		TransactionAt:  at,
	}
}
