package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"ledger/internal/config"
	"ledger/internal/middleware"
	"ledger/internal/websocket"
)

type Handler struct {
	cfg         config.Config
	service     LedgerService
	hub         *websocket.Hub
	idempotency middleware.IdempotencyStore
}

// New wires the HTTP surface. idempotency may be nil, in which case the
// Idempotency-Key header is ignored.
func New(cfg config.Config, service LedgerService, hub *websocket.Hub, idempotency middleware.IdempotencyStore) *Handler {
	return &Handler{
		cfg:         cfg,
		service:     service,
		hub:         hub,
		idempotency: idempotency,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.RequestLogger)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(h.cfg.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", middleware.IdempotencyHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Route("/api/v1/accounts", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if h.idempotency != nil {
				r.Use(middleware.Idempotency(h.idempotency))
			}
			r.Post("/", h.CreateAccount)
			r.Post("/deposit", h.Deposit)
			r.Post("/withdrawal", h.Withdraw)
			r.Post("/transfer", h.Transfer)
		})
		r.Get("/{accountNumber}", h.GetAccount)
		r.Delete("/{accountNumber}", h.DestroyAccount)
		r.Get("/{accountNumber}/transactions", h.RetrieveHistory)
		r.Get("/{accountNumber}/self-check", h.SelfCheck)
		r.Get("/{accountNumber}/ws", h.WSBalances)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
