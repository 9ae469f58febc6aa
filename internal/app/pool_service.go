package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// PoolService manages pools and their membership and balance.
type PoolService struct {
	pools     store.PoolRepository
	accounts  store.AccountRepository
	ledger    LedgerProvider
	cards     *CardService
	publisher EventPublisher
}

func NewPoolService(pools store.PoolRepository, accounts store.AccountRepository, ledger LedgerProvider, cards *CardService, publisher EventPublisher) *PoolService {
	return &PoolService{
		pools:     pools,
		accounts:  accounts,
		ledger:    ledger,
		cards:     cards,
		publisher: publisher,
	}
}

// CreatePoolInput defines the input for creating a pool.
type CreatePoolInput struct {
	OwnerID        string
	Name           string
	InitialBalance decimal.Decimal
}

// CreatePoolResult is the new pool plus the owner's card, if one could be issued.
type CreatePoolResult struct {
	Pool      *domain.Pool `json:"pool"`
	Card      *domain.Card `json:"card,omitempty"`
	CardError string       `json:"card_error,omitempty"`
}

// CreatePool opens a ledger account, stores the pool with the owner as its
// first member, links it to the owner's account and issues the owner a
// virtual card. A card failure does not fail pool creation.
func (s *PoolService) CreatePool(ctx context.Context, in CreatePoolInput) (*CreatePoolResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: pool name is required", ErrInvalidInput)
	}
	if in.InitialBalance.IsNegative() {
		return nil, fmt.Errorf("%w: initial balance cannot be negative", ErrInvalidInput)
	}
	if !in.InitialBalance.Equal(in.InitialBalance.Truncate(store.MaxAmountScale)) {
		return nil, fmt.Errorf("%w: initial balance has more than two decimal places", ErrInvalidInput)
	}
	if _, err := s.accounts.GetAccount(ctx, in.OwnerID); err != nil {
		return nil, err
	}

	ledger, err := s.ledger.CreateConnectAccount(ctx, name)
	if err != nil {
		return nil, err
	}
	if ledger == nil || ledger.ID == "" {
		return nil, fmt.Errorf("ledger account creation returned no id")
	}

	pool := &domain.Pool{
		Name:                    name,
		OwnerID:                 in.OwnerID,
		MemberIDs:               []string{in.OwnerID},
		Balance:                 in.InitialBalance,
		ExternalLedgerAccountID: ledger.ID,
	}
	if _, err := s.pools.CreatePool(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to store pool: %w", err)
	}
	if err := s.accounts.AddPoolToAccount(ctx, in.OwnerID, pool.ID); err != nil {
		return nil, fmt.Errorf("failed to link pool to owner: %w", err)
	}
	log.Info().Str("pool_id", pool.ID).Str("owner_id", in.OwnerID).Str("ledger_account_id", ledger.ID).Msg("pool created")

	result := &CreatePoolResult{Pool: pool}
	if s.cards != nil {
		card, err := s.cards.IssueCard(ctx, IssueCardInput{OwnerID: in.OwnerID, PoolID: pool.ID, Type: domain.CardTypeVirtual})
		if err != nil {
			log.Warn().Err(err).Str("pool_id", pool.ID).Msg("owner card issuance failed; pool kept")
			result.CardError = err.Error()
		} else {
			result.Card = card
		}
	}

	if s.publisher != nil {
		event := domain.PoolCreatedEvent{PoolID: pool.ID, OwnerID: in.OwnerID, OccurredAt: time.Now().UTC()}
		if err := s.publisher.Publish(ctx, domain.ExchangePoolEvents, domain.RoutingKeyPoolCreated, event); err != nil {
			log.Warn().Err(err).Str("pool_id", pool.ID).Msg("failed to publish pool.created")
		}
	}

	return result, nil
}

// GetPool returns a pool the user belongs to.
func (s *PoolService) GetPool(ctx context.Context, userID, poolID string) (*domain.Pool, error) {
	pool, err := s.pools.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if !lo.Contains(pool.MemberIDs, userID) {
		return nil, ErrNotPoolMember
	}
	return pool, nil
}

// ListPools returns every pool the user is a member of.
func (s *PoolService) ListPools(ctx context.Context, userID string) ([]domain.Pool, error) {
	return s.pools.ListPoolsByMember(ctx, userID)
}

// ListOwnedPools returns the pools the user owns.
func (s *PoolService) ListOwnedPools(ctx context.Context, userID string) ([]domain.Pool, error) {
	return s.pools.ListPoolsByOwner(ctx, userID)
}

// JoinPool adds the user to the pool and the pool to the user's account.
func (s *PoolService) JoinPool(ctx context.Context, userID, poolID string) (*domain.Pool, error) {
	if _, err := s.accounts.GetAccount(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.pools.AddMember(ctx, poolID, userID); err != nil {
		return nil, err
	}
	if err := s.accounts.AddPoolToAccount(ctx, userID, poolID); err != nil {
		return nil, err
	}
	return s.pools.GetPool(ctx, poolID)
}

// LeavePool removes a non-owner member.
func (s *PoolService) LeavePool(ctx context.Context, userID, poolID string) error {
	pool, err := s.GetPool(ctx, userID, poolID)
	if err != nil {
		return err
	}
	if pool.OwnerID == userID {
		return ErrOwnerCannotLeave
	}
	if err := s.pools.RemoveMember(ctx, poolID, userID); err != nil {
		return err
	}
	return s.accounts.RemovePoolFromAccount(ctx, userID, poolID)
}

// AddFunds credits the pool balance directly. Only the owner may do this;
// members add money through Contribute.
func (s *PoolService) AddFunds(ctx context.Context, userID, poolID string, amount decimal.Decimal) (*domain.Pool, error) {
	pool, err := s.GetPool(ctx, userID, poolID)
	if err != nil {
		return nil, err
	}
	if pool.OwnerID != userID {
		return nil, ErrNotPoolOwner
	}
	return s.pools.AddFunds(ctx, poolID, amount)
}

// WithdrawFunds debits the pool balance, failing with
// store.ErrInsufficientFunds rather than going negative. Only the owner may
// withdraw.
func (s *PoolService) WithdrawFunds(ctx context.Context, userID, poolID string, amount decimal.Decimal) (*domain.Pool, error) {
	pool, err := s.GetPool(ctx, userID, poolID)
	if err != nil {
		return nil, err
	}
	if pool.OwnerID != userID {
		return nil, ErrNotPoolOwner
	}
	return s.pools.WithdrawFunds(ctx, poolID, amount)
}
