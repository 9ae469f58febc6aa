/**
 * @description
 * This package contains the pool, card and payment business logic. Services
 * coordinate the document-store repositories and the payments provider; HTTP
 * handlers stay thin and only translate requests and errors.
 */
package app

import (
	"context"
	"errors"

	"github.com/Pool-labs/Pool/internal/domain"
)

var (
	// ErrInvalidInput wraps every request-shape rejection made by a service.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotPoolMember is returned when a user acts on a pool they do not belong to.
	ErrNotPoolMember = errors.New("user is not a member of this pool")
	// ErrNotPoolOwner is returned when a member tries an owner-only action.
	ErrNotPoolOwner = errors.New("only the pool owner can do this")
	// ErrOwnerCannotLeave is returned when a pool owner tries to leave their own pool.
	ErrOwnerCannotLeave = errors.New("pool owner cannot leave the pool")
	// ErrNotCardOwner is returned when a user acts on someone else's card.
	ErrNotCardOwner = errors.New("card belongs to another user")
	// ErrFundingNotLinked is returned when a user without a linked funding
	// method tries to move money.
	ErrFundingNotLinked = errors.New("account has no linked funding method")
)

// LedgerProvider opens the provider account that backs a pool.
type LedgerProvider interface {
	CreateConnectAccount(ctx context.Context, name string) (*domain.ProviderConnectAccount, error)
}

// CardIssuer issues and toggles provider cards.
type CardIssuer interface {
	IssueCard(ctx context.Context, in domain.IssueCardInput) (*domain.IssuedCard, error)
	UpdateCardholderStatus(ctx context.Context, connectAccountID, cardholderID string, active bool) error
}

// PaymentProvider moves money from a member into a pool.
type PaymentProvider interface {
	CreatePaymentIntent(ctx context.Context, in domain.PaymentIntentInput) (*domain.ProviderPaymentIntent, error)
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}
