package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/Pool-labs/Pool/pkg/issuing"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// CardService issues pool cards and toggles their status.
type CardService struct {
	cards    store.CardRepository
	pools    store.PoolRepository
	accounts store.AccountRepository
	issuer   CardIssuer
}

func NewCardService(cards store.CardRepository, pools store.PoolRepository, accounts store.AccountRepository, issuer CardIssuer) *CardService {
	return &CardService{
		cards:    cards,
		pools:    pools,
		accounts: accounts,
		issuer:   issuer,
	}
}

// IssueCardInput defines the input for issuing a card on a pool.
type IssueCardInput struct {
	OwnerID          string
	PoolID           string
	Type             domain.CardType
	Label            string
	SpendingControls *issuing.SpendingControls
	Shipping         *issuing.Shipping
}

// IssueCard validates the request locally, issues the card under the pool's
// ledger account and stores it against the owner.
func (s *CardService) IssueCard(ctx context.Context, in IssueCardInput) (*domain.Card, error) {
	if in.Type == "" {
		in.Type = domain.CardTypeVirtual
	}

	account, err := s.accounts.GetAccount(ctx, in.OwnerID)
	if err != nil {
		return nil, err
	}
	pool, err := s.pools.GetPool(ctx, in.PoolID)
	if err != nil {
		return nil, err
	}
	if !lo.Contains(pool.MemberIDs, in.OwnerID) {
		return nil, ErrNotPoolMember
	}

	label := strings.TrimSpace(in.Label)
	if label == "" {
		label = pool.Name
	}

	// The provider cardholder does not exist yet; the owner id stands in so the
	// rest of the request can be checked before anything is created remotely.
	preflight := issuing.NewCardParams(in.OwnerID, issuing.CardType(in.Type), issuing.DefaultCurrency, issuing.CardStatusActive).
		WithSpendingControls(in.SpendingControls).
		WithShipping(in.Shipping).
		WithSecondLine(label)
	if err := preflight.Validate(); err != nil {
		return nil, err
	}

	issued, err := s.issuer.IssueCard(ctx, domain.IssueCardInput{
		ConnectAccountID: pool.ExternalLedgerAccountID,
		CardholderName:   account.Name,
		Label:            label,
		Type:             issuing.CardType(in.Type),
		SpendingControls: in.SpendingControls,
		Shipping:         in.Shipping,
		Metadata:         map[string]string{"pool_id": pool.ID, "owner_id": in.OwnerID},
	})
	if err != nil {
		return nil, err
	}
	if issued == nil || issued.ID == "" {
		return nil, fmt.Errorf("card issuance returned no card id")
	}

	card := &domain.Card{
		OwnerID:              in.OwnerID,
		PoolID:               pool.ID,
		ProviderCardID:       issued.ID,
		ProviderCardholderID: issued.CardholderID,
		ConnectAccountID:     pool.ExternalLedgerAccountID,
		CardholderName:       account.Name,
		Label:                label,
		MaskedNumber:         "**** **** **** " + issued.LastFourDigits,
		Expiry:               issued.Expiry,
		CVV:                  issued.CVV,
		Type:                 in.Type,
		Status:               domain.CardStatusActive,
	}
	if _, err := s.cards.CreateCard(ctx, card); err != nil {
		return nil, err
	}
	if err := s.accounts.AddCardToAccount(ctx, in.OwnerID, card.ID); err != nil {
		return nil, fmt.Errorf("failed to link card to account: %w", err)
	}

	log.Info().Str("card_id", card.ID).Str("provider_card_id", issued.ID).Str("pool_id", pool.ID).Msg("card issued")
	return card, nil
}

// ListCards returns the user's cards.
func (s *CardService) ListCards(ctx context.Context, ownerID string) ([]domain.Card, error) {
	return s.cards.ListCardsByOwner(ctx, ownerID)
}

// ActivateCard re-enables the cardholder at the provider and marks the card active.
func (s *CardService) ActivateCard(ctx context.Context, ownerID, cardID string) (*domain.Card, error) {
	return s.setStatus(ctx, ownerID, cardID, domain.CardStatusActive)
}

// DeactivateCard disables the cardholder at the provider and marks the card inactive.
func (s *CardService) DeactivateCard(ctx context.Context, ownerID, cardID string) (*domain.Card, error) {
	return s.setStatus(ctx, ownerID, cardID, domain.CardStatusInactive)
}

func (s *CardService) setStatus(ctx context.Context, ownerID, cardID string, status domain.CardStatus) (*domain.Card, error) {
	card, err := s.cards.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.OwnerID != ownerID {
		return nil, ErrNotCardOwner
	}
	if card.Status == status {
		return card, nil
	}

	active := status == domain.CardStatusActive
	if err := s.issuer.UpdateCardholderStatus(ctx, card.ConnectAccountID, card.ProviderCardholderID, active); err != nil {
		return nil, fmt.Errorf("failed to update cardholder status: %w", err)
	}
	if err := s.cards.SetCardStatus(ctx, cardID, status); err != nil {
		return nil, err
	}
	card.Status = status
	log.Info().Str("card_id", cardID).Str("status", string(status)).Msg("card status changed")
	return card, nil
}
