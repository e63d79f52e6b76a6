package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ledger/internal/account"
	"ledger/internal/validator"
	"ledger/internal/websocket"
)

type createAccountRequest struct {
	AccountHolderName string `json:"account_holder_name"`
}

type accountResponse struct {
	ID                string `json:"id"`
	AccountNumber     string `json:"account_number"`
	AccountHolderName string `json:"account_holder_name"`
	Balance           string `json:"balance"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.service.CreateAccount(r.Context(), req.AccountHolderName)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, accountResponse{
		ID:                created.ID.String(),
		AccountNumber:     created.Number.String(),
		AccountHolderName: created.HolderName,
		Balance:           created.Balance.String(),
	})
}

func (h *Handler) DestroyAccount(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumberParam(w, r)
	if !ok {
		return
	}
	if err := h.service.DestroyAccount(r.Context(), number); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"account_number": number.String(), "status": string(account.StatusDestroyed)})
}

type historyRecordResponse struct {
	TransactionID         string    `json:"transaction_id"`
	Kind                  string    `json:"kind"`
	SenderAccountNumber   string    `json:"sender_account_number"`
	ReceiverAccountNumber string    `json:"receiver_account_number"`
	Amount                string    `json:"amount"`
	Fee                   string    `json:"fee"`
	Balance               string    `json:"balance"`
	TransactionAt         time.Time `json:"transaction_at"`
}

type historyResponse struct {
	Transactions []historyRecordResponse `json:"transactions"`
	TotalCount   int64                   `json:"total_count"`
	PageSize     int                     `json:"page_size"`
	PageNumber   int                     `json:"page_number"`
	TotalPages   int                     `json:"total_pages"`
}

func (h *Handler) RetrieveHistory(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumberParam(w, r)
	if !ok {
		return
	}
	page, err := queryInt(r, "page")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid page")
		return
	}
	size, err := queryInt(r, "size")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid size")
		return
	}
	result, err := h.service.RetrieveHistory(r.Context(), number, page, size)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	records := make([]historyRecordResponse, 0, len(result.Records))
	for _, record := range result.Records {
		records = append(records, historyRecordResponse{
			TransactionID:         record.TransactionID.String(),
			Kind:                  string(record.Kind),
			SenderAccountNumber:   record.SenderNumber.String(),
			ReceiverAccountNumber: record.ReceiverNumber.String(),
			Amount:                record.Amount.String(),
			Fee:                   record.Fee.String(),
			Balance:               record.Balance.String(),
			TransactionAt:         record.TransactionAt,
		})
	}
	respondJSON(w, http.StatusOK, historyResponse{
		Transactions: records,
		TotalCount:   result.TotalCount,
		PageSize:     result.PageSize,
		PageNumber:   result.PageNumber,
		TotalPages:   result.TotalPages,
	})
}

func (h *Handler) SelfCheck(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumberParam(w, r)
	if !ok {
		return
	}
	result, err := h.service.ReconcileBalance(r.Context(), number)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"account_number": result.Number.String(),
		"balance":        result.Balance.String(),
		"ledger_sum":     result.LedgerSum.String(),
		"difference":     result.Difference.String(),
		"consistent":     result.Consistent(),
	})
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumberParam(w, r)
	if !ok {
		return
	}
	current, err := h.service.CurrentBalance(r.Context(), number)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"account_number":      current.Number.String(),
		"account_holder_name": current.HolderName,
		"balance":             current.Balance.String(),
	})
}

// WSBalances refuses unknown and destroyed accounts before upgrading, so a
// stream only ever exists for a live account.
func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumberParam(w, r)
	if !ok {
		return
	}
	current, err := h.service.CurrentBalance(r.Context(), number)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	websocket.ServeWS(w, r, h.hub, websocket.BalanceUpdate{
		AccountNumber: current.Number.String(),
		Balance:       current.Balance.String(),
	})
}

func accountNumberParam(w http.ResponseWriter, r *http.Request) (account.Number, bool) {
	raw := chi.URLParam(r, "accountNumber")
	if err := validator.ValidateAccountNumber(raw); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return account.Number(raw), true
}

// queryInt returns 0 for a missing parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
