package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// BadgeFirstContribution is awarded with an account's first credited contribution.
var BadgeFirstContribution = domain.Badge{ID: 1, Name: "First Drop"}

// DropletsPerUnit is the number of droplets earned per whole currency unit
// contributed. Every credited contribution earns at least one droplet.
const DropletsPerUnit = 1

// WalletService keeps the rewards wallet of each account: a custodial wallet
// id, a droplet balance and a set of badges. No key material is generated or
// stored here.
type WalletService struct {
	accounts store.AccountRepository
}

func NewWalletService(accounts store.AccountRepository) *WalletService {
	return &WalletService{accounts: accounts}
}

// CreateWallet assigns a wallet id to the account and returns it. An account
// that already has a wallet keeps it.
func (s *WalletService) CreateWallet(ctx context.Context, userID string) (string, error) {
	walletID, err := s.accounts.AssignWallet(ctx, userID, newWalletID())
	if err != nil {
		return "", fmt.Errorf("failed to create wallet for %s: %w", userID, err)
	}
	log.Info().Str("user_id", userID).Str("wallet_id", walletID).Msg("wallet ready")
	return walletID, nil
}

// WalletID returns the account's wallet id, or "" when none is assigned yet.
func (s *WalletService) WalletID(ctx context.Context, userID string) (string, error) {
	account, err := s.accounts.GetAccount(ctx, userID)
	if err != nil {
		return "", err
	}
	return account.WalletID, nil
}

// AwardDroplets credits amount droplets to the account and returns the
// reference of the recorded award.
func (s *WalletService) AwardDroplets(ctx context.Context, userID string, amount int64, reason string) (string, error) {
	entry := domain.RewardEntry{
		Reference: "rwd_" + compactUUID(),
		Amount:    amount,
		Reason:    reason,
	}
	if _, err := s.accounts.AwardDroplets(ctx, userID, entry); err != nil {
		return "", err
	}
	log.Info().Str("user_id", userID).Int64("amount", amount).Str("reason", reason).Msg("droplets awarded")
	return entry.Reference, nil
}

// AwardBadge gives badge to the account. It reports false when the account
// already held it.
func (s *WalletService) AwardBadge(ctx context.Context, userID string, badge domain.Badge) (bool, error) {
	err := s.accounts.AwardBadge(ctx, userID, badge)
	if errors.Is(err, store.ErrBadgeAlreadyAwarded) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	log.Info().Str("user_id", userID).Int("badge_id", badge.ID).Msg("badge awarded")
	return true, nil
}

// RewardContribution awards droplets and the first-contribution badge for a
// payment that was credited to its pool. Failures are logged; the credit
// itself stands.
func (s *WalletService) RewardContribution(ctx context.Context, payment *domain.Payment) {
	logger := log.With().Str("user_id", payment.UserID).Str("payment_id", payment.ID).Logger()

	droplets := payment.Amount.IntPart() * DropletsPerUnit
	if droplets < 1 {
		droplets = 1
	}
	if _, err := s.AwardDroplets(ctx, payment.UserID, droplets, "contribution to pool "+payment.PoolID); err != nil {
		logger.Error().Err(err).Msg("failed to award contribution droplets")
	}
	if _, err := s.AwardBadge(ctx, payment.UserID, BadgeFirstContribution); err != nil {
		logger.Error().Err(err).Msg("failed to award contribution badge")
	}
}

func newWalletID() string {
	return "wal_" + compactUUID()
}

func compactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
