package handlers

import (
	"context"

	"ledger/internal/account"
	"ledger/internal/services"
	"ledger/internal/store"
)

type LedgerService interface {
	CreateAccount(ctx context.Context, holderName string) (services.CreateAccountResult, error)
	DestroyAccount(ctx context.Context, number account.Number) error
	Deposit(ctx context.Context, req services.DepositRequest) (services.DepositResult, error)
	Withdraw(ctx context.Context, req services.WithdrawRequest) (services.WithdrawResult, error)
	Transfer(ctx context.Context, req services.TransferRequest) (services.TransferResult, error)
	RetrieveHistory(ctx context.Context, number account.Number, page, size int) (store.HistoryPage, error)
	ReconcileBalance(ctx context.Context, number account.Number) (services.ReconcileResult, error)
	CurrentBalance(ctx context.Context, number account.Number) (services.BalanceResult, error)
}
