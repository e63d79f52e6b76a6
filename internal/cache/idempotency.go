// Package cache stores replayable HTTP responses for Idempotency-Key requests
// in Redis.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const keyPrefix = "ledger:idempotency:"

// CachedResponse is either a finished response or, while the first request
// is still running, an in-flight marker with Pending set. RequestHash binds
// the key to the body it was first used with.
type CachedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	RequestHash string `json:"request_hash"`
	StatusCode  int    `json:"status_code,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// KV is the subset of redis.Cmdable the repository needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type IdempotencyRepository struct {
	client KV
}

func NewIdempotencyRepository(client KV) *IdempotencyRepository {
	return &IdempotencyRepository{client: client}
}

// Get returns nil, nil on a cache miss.
func (r *IdempotencyRepository) Get(ctx context.Context, fingerprint string) (*CachedResponse, error) {
	val, err := r.client.Get(ctx, keyPrefix+fingerprint).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency key: %w", err)
	}
	var resp CachedResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached response: %w", err)
	}
	return &resp, nil
}

// Reserve writes an in-flight marker unless the key already holds one or a
// finished response. It reports whether this caller owns the key.
func (r *IdempotencyRepository) Reserve(ctx context.Context, fingerprint, requestHash string, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(CachedResponse{Pending: true, RequestHash: requestHash})
	if err != nil {
		return false, fmt.Errorf("failed to marshal marker: %w", err)
	}
	ok, err := r.client.SetNX(ctx, keyPrefix+fingerprint, payload, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return ok, nil
}

// Save overwrites the in-flight marker with the finished response.
func (r *IdempotencyRepository) Save(ctx context.Context, fingerprint string, response CachedResponse, ttl time.Duration) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	return r.client.Set(ctx, keyPrefix+fingerprint, payload, ttl).Err()
}

// Release drops the marker so the client may retry.
func (r *IdempotencyRepository) Release(ctx context.Context, fingerprint string) error {
	return r.client.Del(ctx, keyPrefix+fingerprint).Err()
}

// Fingerprint scopes a client key to the route it was sent to, so the same
// key on a deposit and a withdrawal never collides.
func Fingerprint(method, path, key string) string {
	sum := blake2b.Sum256([]byte(method + "\x00" + path + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

func RequestHash(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}
