package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"ledger/internal/account"
	"ledger/internal/money"
)

// MemoryAccountStore keeps committed accounts in process memory. Each account
// number has a weight-one semaphore acting as its lease; a lease hands out
// private clones and copies them back only when the whole unit succeeds.
// The lease map is never pruned.
type MemoryAccountStore struct {
	mu          sync.RWMutex
	accounts    map[account.Number]*account.Account
	numbersByID map[account.ID]account.Number

	leasesMu    sync.Mutex
	leases      map[account.Number]*semaphore.Weighted
	lockTimeout time.Duration
}

func NewMemoryAccountStore(lockTimeout time.Duration) *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts:    make(map[account.Number]*account.Account),
		numbersByID: make(map[account.ID]account.Number),
		leases:      make(map[account.Number]*semaphore.Weighted),
		lockTimeout: lockTimeout,
	}
}

func (s *MemoryAccountStore) Create(_ context.Context, acc *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[acc.Number()]; exists {
		return account.ErrDuplicateAccountNumber
	}
	acc.MarkPersisted()
	s.accounts[acc.Number()] = acc.Clone()
	s.numbersByID[acc.ID()] = acc.Number()
	return nil
}

func (s *MemoryAccountStore) FindByNumber(_ context.Context, number account.Number) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[number]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (s *MemoryAccountStore) WithLease(ctx context.Context, fn func(tx AccountTx) error) error {
	tx := &memoryAccountTx{
		store:  s,
		loaded: make(map[account.Number]*account.Account),
		saved:  make(map[account.Number]struct{}),
	}
	defer tx.release()
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryAccountStore) FindTransferAndReceiveHistory(_ context.Context, accountID account.ID, page, size int) (HistoryPage, error) {
	page, size = NormalizePage(page, size)
	s.mu.RLock()
	defer s.mu.RUnlock()
	number, ok := s.numbersByID[accountID]
	if !ok {
		return newHistoryPage(nil, 0, page, size), nil
	}
	history := s.accounts[number].Transactions()
	records := make([]HistoryRecord, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		tx := history[i]
		if tx.Kind != account.KindTransfer && tx.Kind != account.KindReceive {
			continue
		}
		records = append(records, historyRecord(tx, number, s.numbersByID[tx.CounterpartyID]))
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].TransactionAt.After(records[j].TransactionAt)
	})
	total := int64(len(records))
	start := page * size
	if start > len(records) {
		start = len(records)
	}
	end := start + size
	if end > len(records) {
		end = len(records)
	}
	return newHistoryPage(records[start:end], total, page, size), nil
}

func (s *MemoryAccountStore) SumLedger(_ context.Context, accountID account.ID) (money.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := money.Zero
	number, ok := s.numbersByID[accountID]
	if !ok {
		return sum, nil
	}
	for _, tx := range s.accounts[number].Transactions() {
		sum = sum.Add(tx.Effect())
	}
	return sum, nil
}

func (s *MemoryAccountStore) lease(number account.Number) *semaphore.Weighted {
	s.leasesMu.Lock()
	defer s.leasesMu.Unlock()
	lease, ok := s.leases[number]
	if !ok {
		lease = semaphore.NewWeighted(1)
		s.leases[number] = lease
	}
	return lease
}

func (s *MemoryAccountStore) acquire(ctx context.Context, lease *semaphore.Weighted) error {
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	if err := lease.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrLockTimeout, err)
		}
		return err
	}
	return nil
}

func (s *MemoryAccountStore) commit(tx *memoryAccountTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for number := range tx.saved {
		acc := tx.loaded[number]
		acc.MarkPersisted()
		s.accounts[number] = acc.Clone()
	}
}

type memoryAccountTx struct {
	store  *MemoryAccountStore
	held   []*semaphore.Weighted
	loaded map[account.Number]*account.Account
	saved  map[account.Number]struct{}
}

func (t *memoryAccountTx) LoadForMutation(ctx context.Context, number account.Number) (*account.Account, error) {
	if acc, ok := t.loaded[number]; ok {
		return acc, nil
	}
	lease := t.store.lease(number)
	if err := t.store.acquire(ctx, lease); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	committed, ok := t.store.accounts[number]
	var acc *account.Account
	if ok {
		acc = committed.Clone()
	}
	t.store.mu.RUnlock()
	if !ok {
		lease.Release(1)
		return nil, account.ErrAccountNotFound
	}
	t.held = append(t.held, lease)
	t.loaded[number] = acc
	return acc, nil
}

func (t *memoryAccountTx) Save(_ context.Context, acc *account.Account) error {
	loaded, ok := t.loaded[acc.Number()]
	if !ok {
		return fmt.Errorf("save %s: account not leased", acc.Number())
	}
	if loaded != acc {
		t.loaded[acc.Number()] = acc
	}
	t.saved[acc.Number()] = struct{}{}
	return nil
}

func (t *memoryAccountTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Release(1)
	}
	t.held = nil
}
