package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ledger/internal/cache"
)

type memoryIdempotencyStore struct {
	mu         sync.Mutex
	entries    map[string]cache.CachedResponse
	reserveErr error
	getErr     error
	latency    time.Duration
	saves      int
	releases   int
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{entries: map[string]cache.CachedResponse{}}
}

func (s *memoryIdempotencyStore) Reserve(_ context.Context, fingerprint, requestHash string, _ time.Duration) (bool, error) {
	time.Sleep(s.latency)
	if s.reserveErr != nil {
		return false, s.reserveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[fingerprint]; ok {
		return false, nil
	}
	s.entries[fingerprint] = cache.CachedResponse{Pending: true, RequestHash: requestHash}
	return true, nil
}

func (s *memoryIdempotencyStore) Get(_ context.Context, fingerprint string) (*cache.CachedResponse, error) {
	time.Sleep(s.latency)
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	return &resp, nil
}

func (s *memoryIdempotencyStore) Save(_ context.Context, fingerprint string, response cache.CachedResponse, _ time.Duration) error {
	time.Sleep(s.latency)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.entries[fingerprint] = response
	return nil
}

func (s *memoryIdempotencyStore) Release(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	delete(s.entries, fingerprint)
	return nil
}

func keyedRequest(path, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(IdempotencyHeader, key)
	return req
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"balance":"10.00"}`))
	})
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	handler := Idempotency(store)(countingHandler(&calls, http.StatusOK))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, keyedRequest("/api/v1/accounts/deposit", "key-1", `{}`))
		if rr.Code != http.StatusOK || rr.Body.String() != `{"balance":"10.00"}` {
			t.Fatalf("attempt %d: unexpected response %d %s", i, rr.Code, rr.Body.String())
		}
		if i == 1 && rr.Header().Get("X-Idempotency-Hit") != "true" {
			t.Fatalf("expected replay header on second attempt")
		}
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
}

func TestIdempotencyWithoutKeyAlwaysRuns(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	handler := Idempotency(store)(countingHandler(&calls, http.StatusOK))
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/accounts/deposit", nil))
	}
	if calls != 2 || store.saves != 0 {
		t.Fatalf("expected 2 calls and no saves, got %d/%d", calls, store.saves)
	}
}

func TestIdempotencyReleasesKeyOnServerErrors(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	handler := Idempotency(store)(countingHandler(&calls, http.StatusServiceUnavailable))
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, keyedRequest("/api/v1/accounts/transfer", "key-2", `{}`))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("attempt %d: expected 503, got %d", i, rr.Code)
		}
	}
	if store.saves != 0 || store.releases != 2 || calls != 2 {
		t.Fatalf("5xx must release the key for a retry: saves=%d releases=%d calls=%d", store.saves, store.releases, calls)
	}
}

func TestIdempotencyReleasesKeyWhenHandlerPanics(t *testing.T) {
	store := newMemoryIdempotencyStore()
	handler := Idempotency(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	func() {
		defer func() { _ = recover() }()
		handler.ServeHTTP(httptest.NewRecorder(), keyedRequest("/api/v1/accounts/deposit", "key-p", `{}`))
	}()
	if len(store.entries) != 0 {
		t.Fatalf("expected the in-flight marker to be dropped, got %#v", store.entries)
	}
}

func TestIdempotencyFailsOpenWhenReservationFails(t *testing.T) {
	store := newMemoryIdempotencyStore()
	store.reserveErr = errors.New("redis down")
	calls := 0
	handler := Idempotency(store)(countingHandler(&calls, http.StatusOK))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, keyedRequest("/api/v1/accounts/withdrawal", "key-3", `{}`))
	if calls != 1 || rr.Code != http.StatusOK || store.saves != 0 {
		t.Fatalf("expected pass-through, got calls=%d code=%d saves=%d", calls, rr.Code, store.saves)
	}
}

func TestIdempotencyDuplicateWithUnreadableStoreIsUnavailable(t *testing.T) {
	store := newMemoryIdempotencyStore()
	calls := 0
	handler := Idempotency(store)(countingHandler(&calls, http.StatusOK))
	handler.ServeHTTP(httptest.NewRecorder(), keyedRequest("/api/v1/accounts/deposit", "key-4", `{}`))
	store.getErr = errors.New("redis timeout")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, keyedRequest("/api/v1/accounts/deposit", "key-4", `{}`))
	if rr.Code != http.StatusServiceUnavailable || calls != 1 {
		t.Fatalf("expected 503 without a second run, got %d after %d calls", rr.Code, calls)
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	store := newMemoryIdempotencyStore()
	var seen []string
	handler := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = append(seen, string(body))
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, keyedRequest("/api/v1/accounts/deposit", "k1", `{"account_number":"1111","amount":"100"}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, keyedRequest("/api/v1/accounts/deposit", "k1", `{"account_number":"2222","amount":"100"}`))

	if first.Code != http.StatusOK || second.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 200 then 422, got %d then %d", first.Code, second.Code)
	}
	if len(seen) != 1 || seen[0] != `{"account_number":"1111","amount":"100"}` {
		t.Fatalf("handler must see the original body exactly once, saw %q", seen)
	}
}

func TestIdempotencyRejectsDuplicateWhileInFlight(t *testing.T) {
	store := newMemoryIdempotencyStore()
	release := make(chan struct{})
	started := make(chan struct{})
	handler := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(httptest.NewRecorder(), keyedRequest("/api/v1/accounts/deposit", "k2", `{}`))
		close(done)
	}()
	<-started
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, keyedRequest("/api/v1/accounts/deposit", "k2", `{}`))
	close(release)
	<-done
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for an in-flight duplicate, got %d", rr.Code)
	}
}

func TestIdempotencyConcurrentSameKeyRunsOnce(t *testing.T) {
	store := newMemoryIdempotencyStore()
	store.latency = 5 * time.Millisecond
	var calls int64
	handler := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"balance":"100.00"}`))
	}))

	const workers = 20
	var wg sync.WaitGroup
	codes := make([]int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, keyedRequest("/api/v1/accounts/deposit", "same", `{"amount":"100"}`))
			codes[i] = rr.Code
		}(i)
	}
	wg.Wait()
	if calls != 1 {
		t.Fatalf("expected the handler to run once, ran %d times", calls)
	}
	for i, code := range codes {
		if code != http.StatusOK && code != http.StatusConflict {
			t.Fatalf("worker %d: unexpected status %d", i, code)
		}
	}
}

func TestRequestLoggerKeepsStatus(t *testing.T) {
	handler := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rr.Code)
	}
}

func TestLevel(t *testing.T) {
	if Level("debug") != zerolog.DebugLevel || Level("") != zerolog.InfoLevel || Level("nope") != zerolog.InfoLevel {
		t.Fatal("unexpected level parsing")
	}
}
