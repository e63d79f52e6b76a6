package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"ledger/internal/account"
	"ledger/internal/db"
	"ledger/internal/money"
	"ledger/internal/services"
	"ledger/internal/store"
	"ledger/internal/validator"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps ledger failures to not-found, bad-request,
// invalid-state or unavailable. Anything unrecognised is a generic 500.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := log.With().Str("request_id", chimiddleware.GetReqID(r.Context())).Str("path", r.URL.Path).Logger()
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		logger.Warn().Err(err).Int("status", status).Msg("request rejected")
	}
	switch status {
	case http.StatusInternalServerError:
		respondError(w, status, "internal error")
	case http.StatusServiceUnavailable:
		respondError(w, status, "account is busy, retry later")
	default:
		respondError(w, status, err.Error())
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, account.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, account.ErrAccountStatusInvalid):
		return http.StatusConflict
	case errors.Is(err, account.ErrInsufficientBalance),
		errors.Is(err, account.ErrInvalidTransfer),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrTooManyDecimals),
		errors.Is(err, money.ErrInvalidFeeRate),
		errors.Is(err, validator.ErrInvalidHolderName),
		errors.Is(err, validator.ErrInvalidAccountNumber),
		errors.Is(err, validator.ErrInvalidPage):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrLockTimeout),
		errors.Is(err, db.ErrRetryLimitExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrNumberSpaceExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reports amount parse failures as themselves so the client sees
// why the amount was refused.
func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, money.ErrInvalidAmount) || errors.Is(err, money.ErrTooManyDecimals) {
			return err
		}
		return errInvalidPayload
	}
	return nil
}

var errInvalidPayload = errors.New("invalid payload")
