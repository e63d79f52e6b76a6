package websocket

import (
	"encoding/json"
	"sync"
)

// SnapshotKind marks the first message of a stream: the balance at subscribe
// time rather than a change.
const SnapshotKind = "SNAPSHOT"

// BalanceUpdate is pushed to every subscriber of an account number after a
// committed balance change.
type BalanceUpdate struct {
	AccountNumber string `json:"account_number"`
	Balance       string `json:"balance"`
	Kind          string `json:"kind"`
	Amount        string `json:"amount,omitempty"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(accountNumber string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[accountNumber] == nil {
		h.clients[accountNumber] = make(map[*Client]struct{})
	}
	h.clients[accountNumber][client] = struct{}{}
}

func (h *Hub) Unregister(accountNumber string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[accountNumber] == nil {
		return
	}
	delete(h.clients[accountNumber], client)
	if len(h.clients[accountNumber]) == 0 {
		delete(h.clients, accountNumber)
	}
}

func (h *Hub) Subscribers(accountNumber string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountNumber])
}

// BroadcastBalance drops the update for clients whose send buffer is full.
func (h *Hub) BroadcastBalance(accountNumber string, update BalanceUpdate) {
	payload, _ := json.Marshal(update)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[accountNumber] {
		select {
		case client.send <- payload:
		default:
		}
	}
}

// CloseAccount ends every stream of an account, used once it is destroyed.
// Subscribers receive a close frame.
func (h *Hub) CloseAccount(accountNumber string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[accountNumber] {
		close(client.send)
	}
	delete(h.clients, accountNumber)
}
