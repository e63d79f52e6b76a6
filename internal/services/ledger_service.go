package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"ledger/internal/account"
	"ledger/internal/events"
	"ledger/internal/money"
	"ledger/internal/store"
	"ledger/internal/validator"
	"ledger/internal/websocket"
)

const (
	maxNumberAttempts = 5
	publishTimeout    = 5 * time.Second
)

var ErrNumberSpaceExhausted = errors.New("could not allocate a unique account number")

type AccountStore interface {
	Create(ctx context.Context, acc *account.Account) error
	FindByNumber(ctx context.Context, number account.Number) (*account.Account, error)
	WithLease(ctx context.Context, fn func(tx store.AccountTx) error) error
	FindTransferAndReceiveHistory(ctx context.Context, accountID account.ID, page, size int) (store.HistoryPage, error)
	SumLedger(ctx context.Context, accountID account.ID) (money.Money, error)
}

type BalanceHub interface {
	BroadcastBalance(accountNumber string, update websocket.BalanceUpdate)
	CloseAccount(accountNumber string)
}

// LedgerService runs every balance change as one leased unit of work against
// the store and announces it once committed.
type LedgerService struct {
	accounts  AccountStore
	publisher events.Publisher
	hub       BalanceHub
	now       func() time.Time
}

// NewLedgerService falls back to no-op publishing and broadcasting, and to
// time.Now, when the matching argument is nil.
func NewLedgerService(accounts AccountStore, publisher events.Publisher, hub BalanceHub, clock func() time.Time) *LedgerService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if hub == nil {
		hub = nopHub{}
	}
	if clock == nil {
		clock = time.Now
	}
	return &LedgerService{
		accounts:  accounts,
		publisher: publisher,
		hub:       hub,
		now:       clock,
	}
}

type CreateAccountResult struct {
	ID         account.ID
	Number     account.Number
	HolderName string
	Balance    money.Money
}

func (s *LedgerService) CreateAccount(ctx context.Context, holderName string) (CreateAccountResult, error) {
	if err := validator.ValidateHolderName(holderName); err != nil {
		return CreateAccountResult{}, err
	}
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		now := s.now()
		acc := account.Open(holderName, now)
		err := s.accounts.Create(ctx, acc)
		if errors.Is(err, account.ErrDuplicateAccountNumber) {
			log.Debug().Int("attempt", attempt).Str("account_number", acc.Number().String()).Msg("account number taken, regenerating")
			continue
		}
		if err != nil {
			return CreateAccountResult{}, fmt.Errorf("create account: %w", err)
		}
		log.Info().Str("account_number", acc.Number().String()).Msg("account created")
		s.publish(ctx, events.Event{
			ID:            acc.ID().String(),
			Type:          events.AccountCreated,
			AccountNumber: acc.Number().String(),
			Balance:       acc.Balance().String(),
			OccurredAt:    now,
		})
		return CreateAccountResult{
			ID:         acc.ID(),
			Number:     acc.Number(),
			HolderName: acc.HolderName(),
			Balance:    acc.Balance(),
		}, nil
	}
	return CreateAccountResult{}, ErrNumberSpaceExhausted
}

func (s *LedgerService) DestroyAccount(ctx context.Context, number account.Number) error {
	var destroyedAt time.Time
	var balance money.Money
	err := s.accounts.WithLease(ctx, func(tx store.AccountTx) error {
		acc, err := tx.LoadForMutation(ctx, number)
		if err != nil {
			return err
		}
		destroyedAt = s.now()
		if err := acc.Destroy(destroyedAt); err != nil {
			return err
		}
		balance = acc.Balance()
		return tx.Save(ctx, acc)
	})
	if err != nil {
		return err
	}
	log.Info().Str("account_number", number.String()).Msg("account destroyed")
	s.hub.CloseAccount(number.String())
	s.publish(ctx, events.Event{
		ID:            account.NewID().String(),
		Type:          events.AccountDestroyed,
		AccountNumber: number.String(),
		Balance:       balance.String(),
		OccurredAt:    destroyedAt,
	})
	return nil
}

type DepositRequest struct {
	AccountNumber account.Number
	Amount        money.Money
}

type DepositResult struct {
	Number      account.Number
	Amount      money.Money
	Balance     money.Money
	DepositedAt time.Time
}

func (s *LedgerService) Deposit(ctx context.Context, req DepositRequest) (DepositResult, error) {
	if !req.Amount.IsGreaterThanZero() {
		return DepositResult{}, money.ErrInvalidAmount
	}
	var record account.Transaction
	err := s.accounts.WithLease(ctx, func(tx store.AccountTx) error {
		acc, err := tx.LoadForMutation(ctx, req.AccountNumber)
		if err != nil {
			return err
		}
		record, err = acc.Deposit(req.Amount, s.now())
		if err != nil {
			return err
		}
		return tx.Save(ctx, acc)
	})
	if err != nil {
		return DepositResult{}, err
	}
	s.announce(ctx, events.MoneyDeposited, req.AccountNumber, "", record)
	return DepositResult{
		Number:      req.AccountNumber,
		Amount:      record.Amount,
		Balance:     record.Balance,
		DepositedAt: record.TransactionAt,
	}, nil
}

type WithdrawRequest struct {
	AccountNumber account.Number
	Amount        money.Money
}

type WithdrawResult struct {
	Number      account.Number
	Balance     money.Money
	Amount      money.Money
	WithdrawnAt time.Time
}

func (s *LedgerService) Withdraw(ctx context.Context, req WithdrawRequest) (WithdrawResult, error) {
	if !req.Amount.IsGreaterThanZero() {
		return WithdrawResult{}, money.ErrInvalidAmount
	}
	var record account.Transaction
	err := s.accounts.WithLease(ctx, func(tx store.AccountTx) error {
		acc, err := tx.LoadForMutation(ctx, req.AccountNumber)
		if err != nil {
			return err
		}
		record, err = acc.Withdraw(req.Amount, s.now())
		if err != nil {
			return err
		}
		return tx.Save(ctx, acc)
	})
	if err != nil {
		return WithdrawResult{}, err
	}
	s.announce(ctx, events.MoneyWithdrawn, req.AccountNumber, "", record)
	return WithdrawResult{
		Number:      req.AccountNumber,
		Balance:     record.Balance,
		Amount:      record.Amount,
		WithdrawnAt: record.TransactionAt,
	}, nil
}

type TransferRequest struct {
	SenderNumber   account.Number
	ReceiverNumber account.Number
	Amount         money.Money
}

type TransferResult struct {
	SenderNumber   account.Number
	ReceiverNumber account.Number
	Amount         money.Money
	Balance        money.Money
	Fee            money.Money
	TransferredAt  time.Time
}

// Transfer debits amount plus fee from the sender and credits amount to the
// receiver in one unit. Balance in the result is the sender's.
func (s *LedgerService) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if !req.Amount.IsGreaterThanZero() {
		return TransferResult{}, money.ErrInvalidAmount
	}
	var sent, received account.Transaction
	err := s.accounts.WithLease(ctx, func(tx store.AccountTx) error {
		sender, receiver, err := lockTwoAccounts(ctx, tx, req.SenderNumber, req.ReceiverNumber)
		if err != nil {
			return err
		}
		now := s.now()
		sent, err = sender.Transfer(receiver.ID(), req.Amount, now)
		if err != nil {
			return err
		}
		received, err = receiver.Receive(sender.ID(), req.Amount, now)
		if err != nil {
			return err
		}
		if err := tx.Save(ctx, sender); err != nil {
			return err
		}
		return tx.Save(ctx, receiver)
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.announce(ctx, events.MoneyTransferred, req.SenderNumber, req.ReceiverNumber, sent)
	s.hub.BroadcastBalance(req.ReceiverNumber.String(), balanceUpdate(req.ReceiverNumber, received))
	return TransferResult{
		SenderNumber:   req.SenderNumber,
		ReceiverNumber: req.ReceiverNumber,
		Amount:         sent.Amount,
		Balance:        sent.Balance,
		Fee:            sent.Fee,
		TransferredAt:  sent.TransactionAt,
	}, nil
}

type BalanceResult struct {
	Number     account.Number
	HolderName string
	Balance    money.Money
}

// CurrentBalance reads a live account without leasing it. Destroyed accounts
// read as missing.
func (s *LedgerService) CurrentBalance(ctx context.Context, number account.Number) (BalanceResult, error) {
	acc, err := s.accounts.FindByNumber(ctx, number)
	if err != nil {
		return BalanceResult{}, err
	}
	if acc.IsDestroyed() {
		return BalanceResult{}, account.ErrAccountNotFound
	}
	return BalanceResult{Number: acc.Number(), HolderName: acc.HolderName(), Balance: acc.Balance()}, nil
}

// RetrieveHistory pages the TRANSFER and RECEIVE records of a live account,
// newest first. Destroyed accounts read as missing.
func (s *LedgerService) RetrieveHistory(ctx context.Context, number account.Number, page, size int) (store.HistoryPage, error) {
	if err := validator.ValidatePage(page, size); err != nil {
		return store.HistoryPage{}, err
	}
	acc, err := s.accounts.FindByNumber(ctx, number)
	if err != nil {
		return store.HistoryPage{}, err
	}
	if acc.IsDestroyed() {
		return store.HistoryPage{}, account.ErrAccountNotFound
	}
	page, size = store.NormalizePage(page, size)
	return s.accounts.FindTransferAndReceiveHistory(ctx, acc.ID(), page, size)
}

type ReconcileResult struct {
	Number     account.Number
	Balance    money.Money
	LedgerSum  money.Money
	Difference money.Money
}

func (r ReconcileResult) Consistent() bool {
	return r.Difference.Equal(money.Zero)
}

// ReconcileBalance compares the stored balance with the replayed history.
func (s *LedgerService) ReconcileBalance(ctx context.Context, number account.Number) (ReconcileResult, error) {
	acc, err := s.accounts.FindByNumber(ctx, number)
	if err != nil {
		return ReconcileResult{}, err
	}
	sum, err := s.accounts.SumLedger(ctx, acc.ID())
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("sum ledger: %w", err)
	}
	result := ReconcileResult{
		Number:     number,
		Balance:    acc.Balance(),
		LedgerSum:  sum,
		Difference: acc.Balance().Subtract(sum),
	}
	if !result.Consistent() {
		log.Error().Str("account_number", number.String()).Str("difference", result.Difference.String()).Msg("balance does not match ledger")
	}
	return result, nil
}

func (s *LedgerService) announce(ctx context.Context, eventType string, number, counterparty account.Number, record account.Transaction) {
	s.hub.BroadcastBalance(number.String(), balanceUpdate(number, record))
	event := events.Event{
		ID:                 record.ID.String(),
		Type:               eventType,
		AccountNumber:      number.String(),
		CounterpartyNumber: counterparty.String(),
		Amount:             record.Amount.String(),
		Balance:            record.Balance.String(),
		OccurredAt:         record.TransactionAt,
	}
	if record.Kind == account.KindTransfer {
		event.Fee = record.Fee.String()
	}
	s.publish(ctx, event)
}

// publish never fails the caller; the change is already committed.
func (s *LedgerService) publish(ctx context.Context, event events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("event", event.Type).Str("account_number", event.AccountNumber).Msg("failed to publish ledger event")
	}
}

func balanceUpdate(number account.Number, record account.Transaction) websocket.BalanceUpdate {
	return websocket.BalanceUpdate{
		AccountNumber: number.String(),
		Balance:       record.Balance.String(),
		Kind:          string(record.Kind),
		Amount:        record.Amount.String(),
	}
}

// lockTwoAccounts leases both accounts in account-number order whatever
// their roles, so opposite transfers cannot deadlock.
func lockTwoAccounts(ctx context.Context, tx store.AccountTx, first, second account.Number) (*account.Account, *account.Account, error) {
	left, right := orderedNumbers(first, second)
	leftAccount, err := tx.LoadForMutation(ctx, left)
	if err != nil {
		return nil, nil, err
	}
	if left == right {
		return leftAccount, leftAccount, nil
	}
	rightAccount, err := tx.LoadForMutation(ctx, right)
	if err != nil {
		return nil, nil, err
	}
	if first == left {
		return leftAccount, rightAccount, nil
	}
	return rightAccount, leftAccount, nil
}

func orderedNumbers(first, second account.Number) (account.Number, account.Number) {
	if first <= second {
		return first, second
	}
	return second, first
}

type nopHub struct{}

func (nopHub) BroadcastBalance(string, websocket.BalanceUpdate) {}
func (nopHub) CloseAccount(string)                              {}
