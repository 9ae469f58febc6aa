/**
 * @description
 * Core domain models for the pool service. Every entity is persisted as a
 * document in its own collection; the json tags define the document shape.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Collection names in the document store.
const (
	CollectionAccounts           = "accounts"
	CollectionPools              = "pools"
	CollectionCards              = "cards"
	CollectionPayments           = "payments"
	CollectionIdentities         = "identities"
	CollectionOnboardingAttempts = "onboarding_attempts"
)

// OnboardingProgress marks how far an account has advanced through setup.
type OnboardingProgress int

const (
	ProgressNone             OnboardingProgress = 0
	ProgressProfileCollected OnboardingProgress = 1
	ProgressFundingLinked    OnboardingProgress = 2
)

// BankInfo is the snapshot of the linked bank account kept on the account.
type BankInfo struct {
	AccountNumberLast4 string `json:"accountNumberLast4"`
	RoutingNumber      string `json:"routingNumber"`
	IsTestAccount      bool   `json:"isTestAccount"`
}

// Account is the application user record, keyed by the identity uid.
type Account struct {
	ID                 string             `json:"-"`
	Email              string             `json:"email"`
	Name               string             `json:"name"`
	FirstName          string             `json:"firstName,omitempty"`
	LastName           string             `json:"lastName,omitempty"`
	PoolIDs            []string           `json:"poolIds"`
	PaymentMethodID    string             `json:"paymentMethodId,omitempty"`
	CardIDs            []string           `json:"cardIds"`
	FundingCustomerID  string             `json:"fundingCustomerId"`
	WalletID           string             `json:"walletId"`
	DropletBalance     int64              `json:"dropletBalance"`
	Badges             []Badge            `json:"badges,omitempty"`
	Rewards            []RewardEntry      `json:"rewards,omitempty"`
	BankInfo           *BankInfo          `json:"bankInfo,omitempty"`
	OnboardingProgress OnboardingProgress `json:"onboardingProgress"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Badge is an achievement held by an account. An account holds each badge id
// at most once.
type Badge struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	AwardedAt time.Time `json:"awardedAt"`
}

// RewardEntry records one droplet award.
type RewardEntry struct {
	Reference string    `json:"reference"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Pool is a shared fund backed by a provider ledger account.
type Pool struct {
	ID                      string          `json:"-"`
	Name                    string          `json:"name"`
	OwnerID                 string          `json:"ownerId"`
	MemberIDs               []string        `json:"memberIds"`
	Balance                 decimal.Decimal `json:"balance"`
	ExternalLedgerAccountID string          `json:"externalLedgerAccountId"`
	CreatedAt               time.Time       `json:"createdAt"`
	UpdatedAt               time.Time       `json:"updatedAt"`
}

// CardType is the form factor of a pool card.
type CardType string

const (
	CardTypeVirtual  CardType = "virtual"
	CardTypePhysical CardType = "physical"
)

// CardStatus is the local activation state of a card.
type CardStatus string

const (
	CardStatusActive   CardStatus = "active"
	CardStatusInactive CardStatus = "inactive"
)

// Card is a pool card. ID is assigned by the document store; the
// provider's own identifier is kept in ProviderCardID.
type Card struct {
	ID                   string     `json:"-"`
	OwnerID              string     `json:"ownerId"`
	PoolID               string     `json:"poolId"`
	ProviderCardID       string     `json:"providerCardId"`
	ProviderCardholderID string     `json:"providerCardholderId"`
	ConnectAccountID     string     `json:"connectAccountId"`
	CardholderName       string     `json:"cardholderName"`
	Label                string     `json:"label,omitempty"`
	MaskedNumber         string     `json:"maskedNumber"`
	Expiry               string     `json:"expiry"`
	CVV                  string     `json:"cvv"`
	Type                 CardType   `json:"type"`
	Status               CardStatus `json:"status"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// PaymentStatus tracks a transfer as confirmed by the provider.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Payment is an append-only record of a contribution into a pool.
type Payment struct {
	ID                      string          `json:"-"`
	UserID                  string          `json:"userId"`
	PoolID                  string          `json:"poolId"`
	Amount                  decimal.Decimal `json:"amount"`
	Method                  string          `json:"method"`
	Status                  PaymentStatus   `json:"status"`
	ProviderPaymentIntentID string          `json:"providerPaymentIntentId"`
	Credited                bool            `json:"credited"`
	Timestamp               time.Time       `json:"timestamp"`
}

// OnboardingAttempt records external resources created by a failed
// onboarding run that were never linked to an account.
type OnboardingAttempt struct {
	ID              string    `json:"-"`
	UID             string    `json:"uid"`
	Email           string    `json:"email"`
	FailedStep      string    `json:"failedStep"`
	Reason          string    `json:"reason"`
	CustomerID      string    `json:"customerId,omitempty"`
	SetupIntentID   string    `json:"setupIntentId,omitempty"`
	FundingMethodID string    `json:"fundingMethodId,omitempty"`
	Reconciled      bool      `json:"reconciled"`
	CreatedAt       time.Time `json:"createdAt"`
}
