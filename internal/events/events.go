//go:generate mockgen -destination=mocks/mock_publisher.go -package=mocks ledger/internal/events Publisher

// Package events publishes committed ledger changes to a RabbitMQ topic
// exchange. Routing keys double as event types.
package events

import (
	"context"
	"time"
)

const (
	AccountCreated   = "account.created"
	AccountDestroyed = "account.destroyed"
	MoneyDeposited   = "money.deposited"
	MoneyWithdrawn   = "money.withdrawn"
	MoneyTransferred = "money.transferred"
)

type Event struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"`
	AccountNumber      string    `json:"account_number"`
	CounterpartyNumber string    `json:"counterparty_number,omitempty"`
	Amount             string    `json:"amount,omitempty"`
	Fee                string    `json:"fee,omitempty"`
	Balance            string    `json:"balance"`
	OccurredAt         time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
