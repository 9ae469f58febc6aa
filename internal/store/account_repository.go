package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// DocumentAccountRepository implements AccountRepository on a DocumentStore.
type DocumentAccountRepository struct {
	ds DocumentStore
}

func NewAccountRepository(ds DocumentStore) *DocumentAccountRepository {
	return &DocumentAccountRepository{ds: ds}
}

// CreateAccount writes the account under its own id. It returns
// ErrAccountExists when an account with that id is already stored.
func (r *DocumentAccountRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	if account.ID == "" {
		return errors.New("account id is required")
	}
	ts := now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = ts
	}
	account.UpdatedAt = ts
	if account.PoolIDs == nil {
		account.PoolIDs = []string{}
	}
	if account.CardIDs == nil {
		account.CardIDs = []string{}
	}
	if err := r.ds.Insert(ctx, domain.CollectionAccounts, account.ID, account); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return ErrAccountExists
		}
		return fmt.Errorf("failed to create account %s: %w", account.ID, err)
	}
	return nil
}

func (r *DocumentAccountRepository) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	doc, err := r.ds.Get(ctx, domain.CollectionAccounts, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return accountFromDoc(doc)
}

func (r *DocumentAccountRepository) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	docs, err := r.ds.Query(ctx, domain.CollectionAccounts, Where("email", email))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrAccountNotFound
	}
	if len(docs) > 1 {
		log.Warn().Str("email", email).Int("count", len(docs)).Msg("multiple accounts share an email; using the oldest")
	}
	return accountFromDoc(docs[0])
}

func (r *DocumentAccountRepository) UpdateAccount(ctx context.Context, id string, fields map[string]any) error {
	return r.update(ctx, id, fields)
}

// AdvanceOnboarding raises the onboarding progress marker. It never lowers it.
func (r *DocumentAccountRepository) AdvanceOnboarding(ctx context.Context, id string, progress domain.OnboardingProgress) error {
	err := r.ds.RunTransaction(ctx, domain.CollectionAccounts, id, func(current Document) (map[string]any, error) {
		account, err := accountFromDoc(current)
		if err != nil {
			return nil, err
		}
		if account.OnboardingProgress >= progress {
			return nil, nil
		}
		return map[string]any{"onboardingProgress": progress, "updatedAt": now()}, nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrAccountNotFound
	}
	return err
}

func (r *DocumentAccountRepository) AddPoolToAccount(ctx context.Context, accountID, poolID string) error {
	return r.update(ctx, accountID, map[string]any{"poolIds": ArrayUnion(poolID)})
}

func (r *DocumentAccountRepository) RemovePoolFromAccount(ctx context.Context, accountID, poolID string) error {
	return r.update(ctx, accountID, map[string]any{"poolIds": ArrayRemove(poolID)})
}

func (r *DocumentAccountRepository) AddCardToAccount(ctx context.Context, accountID, cardID string) error {
	return r.update(ctx, accountID, map[string]any{"cardIds": ArrayUnion(cardID)})
}

func (r *DocumentAccountRepository) RemoveCardFromAccount(ctx context.Context, accountID, cardID string) error {
	return r.update(ctx, accountID, map[string]any{"cardIds": ArrayRemove(cardID)})
}

// AssignWallet stores walletID on the account unless a wallet is already
// assigned. It returns the wallet id the account ends up with.
func (r *DocumentAccountRepository) AssignWallet(ctx context.Context, id, walletID string) (string, error) {
	assigned := walletID
	err := r.ds.RunTransaction(ctx, domain.CollectionAccounts, id, func(current Document) (map[string]any, error) {
		account, err := accountFromDoc(current)
		if err != nil {
			return nil, err
		}
		if account.WalletID != "" {
			assigned = account.WalletID
			return nil, nil
		}
		assigned = walletID
		return map[string]any{"walletId": walletID, "updatedAt": now()}, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrAccountNotFound
		}
		return "", err
	}
	return assigned, nil
}

// AwardDroplets adds entry.Amount to the droplet balance and appends entry to
// the reward history in one write.
func (r *DocumentAccountRepository) AwardDroplets(ctx context.Context, id string, entry domain.RewardEntry) (*domain.Account, error) {
	if entry.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now()
	}
	var updated *domain.Account
	err := r.ds.RunTransaction(ctx, domain.CollectionAccounts, id, func(current Document) (map[string]any, error) {
		account, err := accountFromDoc(current)
		if err != nil {
			return nil, err
		}
		account.DropletBalance += entry.Amount
		account.Rewards = append(account.Rewards, entry)
		account.UpdatedAt = now()
		updated = account
		return map[string]any{
			"dropletBalance": account.DropletBalance,
			"rewards":        account.Rewards,
			"updatedAt":      account.UpdatedAt,
		}, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return updated, nil
}

// AwardBadge adds badge to the account. It returns ErrBadgeAlreadyAwarded
// when the account already holds a badge with the same id.
func (r *DocumentAccountRepository) AwardBadge(ctx context.Context, id string, badge domain.Badge) error {
	if badge.AwardedAt.IsZero() {
		badge.AwardedAt = now()
	}
	err := r.ds.RunTransaction(ctx, domain.CollectionAccounts, id, func(current Document) (map[string]any, error) {
		account, err := accountFromDoc(current)
		if err != nil {
			return nil, err
		}
		if lo.ContainsBy(account.Badges, func(b domain.Badge) bool { return b.ID == badge.ID }) {
			return nil, ErrBadgeAlreadyAwarded
		}
		return map[string]any{
			"badges":    append(account.Badges, badge),
			"updatedAt": now(),
		}, nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrAccountNotFound
	}
	return err
}

// WatchAccount calls fn with every new state of the account, or nil once it
// is deleted.
func (r *DocumentAccountRepository) WatchAccount(id string, fn func(account *domain.Account)) func() {
	return r.ds.Subscribe(domain.CollectionAccounts, id, func(doc Document, exists bool) {
		if !exists {
			fn(nil)
			return
		}
		account, err := accountFromDoc(doc)
		if err != nil {
			log.Error().Err(err).Str("account_id", id).Msg("failed to decode watched account")
			return
		}
		fn(account)
	})
}

func (r *DocumentAccountRepository) update(ctx context.Context, id string, fields map[string]any) error {
	fields["updatedAt"] = now()
	if err := r.ds.Update(ctx, domain.CollectionAccounts, id, fields); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	return nil
}

func accountFromDoc(doc Document) (*domain.Account, error) {
	var account domain.Account
	if err := doc.DataTo(&account); err != nil {
		return nil, err
	}
	account.ID = doc.ID
	return &account, nil
}
