package domain

import "time"

// Exchanges and routing keys used on the message broker.
const (
	ExchangeAccountEvents = "account_events"
	ExchangePaymentEvents = "payment_events"
	ExchangePoolEvents    = "pool_events"

	RoutingKeyAccountOnboarded = "account.onboarded"
	RoutingKeyPaymentStatus    = "payment.status"
	RoutingKeyPoolCreated      = "pool.created"
)

// AccountOnboardedEvent is published once an account has a linked funding method.
type AccountOnboardedEvent struct {
	AccountID         string    `json:"account_id"`
	FundingCustomerID string    `json:"funding_customer_id"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// PoolCreatedEvent is published after a pool and its ledger account exist.
type PoolCreatedEvent struct {
	PoolID     string    `json:"pool_id"`
	OwnerID    string    `json:"owner_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PaymentStatusEvent is delivered by the payments provider webhook relay when
// a payment intent settles.
type PaymentStatusEvent struct {
	PaymentIntentID string `json:"payment_intent_id"`
	Status          string `json:"status"`
	FailureMessage  string `json:"failure_message,omitempty"`
}
