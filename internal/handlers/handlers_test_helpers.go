package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ledger/internal/account"
	"ledger/internal/config"
	"ledger/internal/middleware"
	"ledger/internal/services"
	"ledger/internal/store"
	"ledger/internal/websocket"
)

type stubService struct {
	createFn    func(ctx context.Context, holderName string) (services.CreateAccountResult, error)
	destroyFn   func(ctx context.Context, number account.Number) error
	depositFn   func(ctx context.Context, req services.DepositRequest) (services.DepositResult, error)
	withdrawFn  func(ctx context.Context, req services.WithdrawRequest) (services.WithdrawResult, error)
	transferFn  func(ctx context.Context, req services.TransferRequest) (services.TransferResult, error)
	historyFn   func(ctx context.Context, number account.Number, page, size int) (store.HistoryPage, error)
	reconcileFn func(ctx context.Context, number account.Number) (services.ReconcileResult, error)
	balanceFn   func(ctx context.Context, number account.Number) (services.BalanceResult, error)
}

func (s stubService) CreateAccount(ctx context.Context, holderName string) (services.CreateAccountResult, error) {
	if s.createFn == nil {
		return services.CreateAccountResult{}, nil
	}
	return s.createFn(ctx, holderName)
}

func (s stubService) DestroyAccount(ctx context.Context, number account.Number) error {
	if s.destroyFn == nil {
		return nil
	}
	return s.destroyFn(ctx, number)
}

func (s stubService) Deposit(ctx context.Context, req services.DepositRequest) (services.DepositResult, error) {
	if s.depositFn == nil {
		return services.DepositResult{}, nil
	}
	return s.depositFn(ctx, req)
}

func (s stubService) Withdraw(ctx context.Context, req services.WithdrawRequest) (services.WithdrawResult, error) {
	if s.withdrawFn == nil {
		return services.WithdrawResult{}, nil
	}
	return s.withdrawFn(ctx, req)
}

func (s stubService) Transfer(ctx context.Context, req services.TransferRequest) (services.TransferResult, error) {
	if s.transferFn == nil {
		return services.TransferResult{}, nil
	}
	return s.transferFn(ctx, req)
}

func (s stubService) RetrieveHistory(ctx context.Context, number account.Number, page, size int) (store.HistoryPage, error) {
	if s.historyFn == nil {
		return store.HistoryPage{}, nil
	}
	return s.historyFn(ctx, number, page, size)
}

func (s stubService) ReconcileBalance(ctx context.Context, number account.Number) (services.ReconcileResult, error) {
	if s.reconcileFn == nil {
		return services.ReconcileResult{}, nil
	}
	return s.reconcileFn(ctx, number)
}

func (s stubService) CurrentBalance(ctx context.Context, number account.Number) (services.BalanceResult, error) {
	if s.balanceFn == nil {
		return services.BalanceResult{Number: number}, nil
	}
	return s.balanceFn(ctx, number)
}

func newTestHandler(service LedgerService, idempotency middleware.IdempotencyStore) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		StoreDriver:    "memory",
		AllowedOrigins: "*",
	}
	return New(cfg, service, websocket.NewHub(), idempotency)
}

func serve(t *testing.T, handler *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)
	return rr
}
