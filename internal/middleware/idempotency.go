package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ledger/internal/cache"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	inFlightTTL       = 30 * time.Second
)

type IdempotencyStore interface {
	Reserve(ctx context.Context, fingerprint, requestHash string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, fingerprint string) (*cache.CachedResponse, error)
	Save(ctx context.Context, fingerprint string, response cache.CachedResponse, ttl time.Duration) error
	Release(ctx context.Context, fingerprint string) error
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// The first request reserves the key before running. A repeat that arrives
// while it runs gets 409, and a repeat with a different body gets 422. If the
// store is unreachable at reservation the request runs without protection.
// 5xx responses release the key so the client can retry them.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeIdempotencyError(w, http.StatusBadRequest, "invalid payload")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			fingerprint := cache.Fingerprint(r.Method, r.URL.Path, key)
			requestHash := cache.RequestHash(body)
			logger := log.With().Str("path", r.URL.Path).Str("fingerprint", fingerprint).Logger()

			reserved, err := store.Reserve(ctx, fingerprint, requestHash, inFlightTTL)
			if err != nil {
				logger.Error().Err(err).Msg("idempotency reservation failed")
				next.ServeHTTP(w, r)
				return
			}
			if !reserved {
				replay(ctx, w, store, fingerprint, requestHash, logger)
				return
			}

			recorder := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			finished := false
			defer func() {
				if !finished {
					if err := store.Release(context.WithoutCancel(ctx), fingerprint); err != nil {
						logger.Error().Err(err).Msg("failed to release idempotency key")
					}
				}
			}()
			next.ServeHTTP(recorder, r)

			if recorder.statusCode >= http.StatusInternalServerError {
				return
			}
			finished = true
			err = store.Save(context.WithoutCancel(ctx), fingerprint, cache.CachedResponse{
				RequestHash: requestHash,
				StatusCode:  recorder.statusCode,
				Body:        recorder.body.Bytes(),
			}, idempotencyTTL)
			if err != nil {
				logger.Error().Err(err).Msg("failed to store idempotent response")
			}
		})
	}
}

func replay(ctx context.Context, w http.ResponseWriter, store IdempotencyStore, fingerprint, requestHash string, logger zerolog.Logger) {
	cached, err := store.Get(ctx, fingerprint)
	if err != nil {
		logger.Error().Err(err).Msg("idempotency lookup failed")
		writeIdempotencyError(w, http.StatusServiceUnavailable, "idempotency store unavailable, retry later")
		return
	}
	switch {
	case cached == nil:
		// released between our reservation attempt and the lookup
		writeIdempotencyError(w, http.StatusConflict, "request with this idempotency key is in progress")
	case cached.RequestHash != requestHash:
		writeIdempotencyError(w, http.StatusUnprocessableEntity, "idempotency key reused with a different payload")
	case cached.Pending:
		writeIdempotencyError(w, http.StatusConflict, "request with this idempotency key is in progress")
	default:
		logger.Info().Msg("idempotency cache hit")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Idempotency-Hit", "true")
		w.WriteHeader(cached.StatusCode)
		if _, err := w.Write(cached.Body); err != nil {
			logger.Error().Err(err).Msg("failed to write cached response")
		}
	}
}

func writeIdempotencyError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
