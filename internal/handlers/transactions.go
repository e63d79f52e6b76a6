package handlers

import (
	"net/http"
	"time"

	"ledger/internal/account"
	"ledger/internal/money"
	"ledger/internal/services"
	"ledger/internal/validator"
)

type amountRequest struct {
	AccountNumber string      `json:"account_number"`
	Amount        money.Money `json:"amount"`
}

type depositResponse struct {
	AccountNumber string    `json:"account_number"`
	Amount        string    `json:"amount"`
	Balance       string    `json:"balance"`
	DepositedAt   time.Time `json:"deposited_at"`
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validator.ValidateAccountNumber(req.AccountNumber); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.service.Deposit(r.Context(), services.DepositRequest{
		AccountNumber: account.Number(req.AccountNumber),
		Amount:        req.Amount,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, depositResponse{
		AccountNumber: result.Number.String(),
		Amount:        result.Amount.String(),
		Balance:       result.Balance.String(),
		DepositedAt:   result.DepositedAt,
	})
}

type withdrawResponse struct {
	AccountNumber string    `json:"account_number"`
	Balance       string    `json:"balance"`
	Amount        string    `json:"amount"`
	WithdrawnAt   time.Time `json:"withdrawn_at"`
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validator.ValidateAccountNumber(req.AccountNumber); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.service.Withdraw(r.Context(), services.WithdrawRequest{
		AccountNumber: account.Number(req.AccountNumber),
		Amount:        req.Amount,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, withdrawResponse{
		AccountNumber: result.Number.String(),
		Balance:       result.Balance.String(),
		Amount:        result.Amount.String(),
		WithdrawnAt:   result.WithdrawnAt,
	})
}

type transferRequest struct {
	SenderAccountNumber   string      `json:"sender_account_number"`
	ReceiverAccountNumber string      `json:"receiver_account_number"`
	Amount                money.Money `json:"amount"`
}

type transferResponse struct {
	SenderAccountNumber   string    `json:"sender_account_number"`
	ReceiverAccountNumber string    `json:"receiver_account_number"`
	Amount                string    `json:"amount"`
	Balance               string    `json:"balance"`
	Fee                   string    `json:"fee"`
	TransferredAt         time.Time `json:"transferred_at"`
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, number := range []string{req.SenderAccountNumber, req.ReceiverAccountNumber} {
		if err := validator.ValidateAccountNumber(number); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	result, err := h.service.Transfer(r.Context(), services.TransferRequest{
		SenderNumber:   account.Number(req.SenderAccountNumber),
		ReceiverNumber: account.Number(req.ReceiverAccountNumber),
		Amount:         req.Amount,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, transferResponse{
		SenderAccountNumber:   result.SenderNumber.String(),
		ReceiverAccountNumber: result.ReceiverNumber.String(),
		Amount:                result.Amount.String(),
		Balance:               result.Balance.String(),
		Fee:                   result.Fee.String(),
		TransferredAt:         result.TransferredAt,
	})
}
