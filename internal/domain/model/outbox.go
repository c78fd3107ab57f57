package model

import (
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	ExchangePayments      = "daraja.payments"
	RoutingTierUpgraded   = "tier.upgraded"
	RoutingPaymentFailed  = "payment.failed"
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
)

// OutboxMessage is an event persisted next to the write that caused it and
// published to the broker afterwards.
type OutboxMessage struct {
	ID         string
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
	CreatedAt  time.Time
}

// TierChangeEvent is the payload consumed by the mailer.
type TierChangeEvent struct {
	EventID          string    `json:"eventId"`
	Type             string    `json:"type"`
	OrganizationID   string    `json:"organizationId"`
	OrganizationName string    `json:"organizationName"`
	Email            string    `json:"email,omitempty"`
	PaymentID        string    `json:"paymentId"`
	Reference        string    `json:"reference"`
	Tier             Tier      `json:"tier"`
	PreviousTier     Tier      `json:"previousTier"`
	Status           string    `json:"status"`
	Amount           float64   `json:"amount"`
	Currency         Currency  `json:"currency"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// NewOutboxMessage wraps an event for the payments exchange.
func NewOutboxMessage(routingKey string, ev TierChangeEvent, now time.Time) (*OutboxMessage, error) {
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	ev.EventID = id
	ev.Type = routingKey
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		ID:         id,
		Exchange:   ExchangePayments,
		RoutingKey: routingKey,
		Payload:    body,
		CreatedAt:  now,
	}, nil
}

// RetryDelay is the backoff before a failed publish is retried.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		return time.Second
	}
	if attempt > 8 {
		attempt = 8
	}
	d := time.Duration(1<<attempt) * time.Second
	if d > 300*time.Second {
		return 300 * time.Second
	}
	return d
}
