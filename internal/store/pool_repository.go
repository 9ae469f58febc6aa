package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// MaxAmountScale is the number of decimal places a pool amount may carry.
const MaxAmountScale = 2

// creditedPaymentsField lists the payments already credited to a pool. It is
// kept on the stored document only.
const creditedPaymentsField = "creditedPaymentIds"

// DocumentPoolRepository implements PoolRepository on a DocumentStore.
type DocumentPoolRepository struct {
	ds DocumentStore
}

func NewPoolRepository(ds DocumentStore) *DocumentPoolRepository {
	return &DocumentPoolRepository{ds: ds}
}

func (r *DocumentPoolRepository) CreatePool(ctx context.Context, pool *domain.Pool) (string, error) {
	if pool.Balance.IsNegative() {
		return "", ErrInvalidAmount
	}
	if !pool.Balance.Equal(pool.Balance.Truncate(MaxAmountScale)) {
		return "", ErrAmountPrecision
	}
	ts := now()
	pool.CreatedAt = ts
	pool.UpdatedAt = ts
	if pool.MemberIDs == nil {
		pool.MemberIDs = []string{}
	}
	id, err := r.ds.Create(ctx, domain.CollectionPools, pool)
	if err != nil {
		return "", fmt.Errorf("failed to create pool: %w", err)
	}
	pool.ID = id
	return id, nil
}

func (r *DocumentPoolRepository) GetPool(ctx context.Context, id string) (*domain.Pool, error) {
	doc, err := r.ds.Get(ctx, domain.CollectionPools, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrPoolNotFound
		}
		return nil, err
	}
	return poolFromDoc(doc)
}

func (r *DocumentPoolRepository) UpdatePool(ctx context.Context, id string, fields map[string]any) error {
	if _, ok := fields["balance"]; ok {
		return errors.New("pool balance can only change through AddFunds or WithdrawFunds")
	}
	return r.update(ctx, id, fields)
}

func (r *DocumentPoolRepository) DeletePool(ctx context.Context, id string) error {
	return r.ds.Delete(ctx, domain.CollectionPools, id)
}

func (r *DocumentPoolRepository) AddMember(ctx context.Context, poolID, userID string) error {
	return r.update(ctx, poolID, map[string]any{"memberIds": ArrayUnion(userID)})
}

func (r *DocumentPoolRepository) RemoveMember(ctx context.Context, poolID, userID string) error {
	return r.update(ctx, poolID, map[string]any{"memberIds": ArrayRemove(userID)})
}

// AddFunds credits the pool inside a store transaction.
func (r *DocumentPoolRepository) AddFunds(ctx context.Context, poolID string, amount decimal.Decimal) (*domain.Pool, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	return r.adjustBalance(ctx, poolID, func(balance decimal.Decimal) (decimal.Decimal, error) {
		return balance.Add(amount), nil
	})
}

// WithdrawFunds debits the pool inside a store transaction. It fails with
// ErrInsufficientFunds, leaving the balance untouched, when the pool holds
// less than amount at commit time.
func (r *DocumentPoolRepository) WithdrawFunds(ctx context.Context, poolID string, amount decimal.Decimal) (*domain.Pool, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	return r.adjustBalance(ctx, poolID, func(balance decimal.Decimal) (decimal.Decimal, error) {
		if balance.LessThan(amount) {
			return balance, ErrInsufficientFunds
		}
		return balance.Sub(amount), nil
	})
}

// CreditPayment credits a completed payment to the pool at most once. The
// payment id is recorded on the pool in the same transaction as the balance
// change; a repeated call returns ErrPaymentAlreadyCredited.
func (r *DocumentPoolRepository) CreditPayment(ctx context.Context, poolID, paymentID string, amount decimal.Decimal) (*domain.Pool, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	var updated *domain.Pool
	err := r.ds.RunTransaction(ctx, domain.CollectionPools, poolID, func(current Document) (map[string]any, error) {
		credited, _ := current.Data[creditedPaymentsField].([]any)
		if lo.Contains(credited, any(paymentID)) {
			return nil, ErrPaymentAlreadyCredited
		}
		pool, err := poolFromDoc(current)
		if err != nil {
			return nil, err
		}
		pool.Balance = pool.Balance.Add(amount)
		pool.UpdatedAt = now()
		updated = pool
		return map[string]any{
			"balance":             pool.Balance,
			"updatedAt":           pool.UpdatedAt,
			creditedPaymentsField: ArrayUnion(paymentID),
		}, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrPoolNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (r *DocumentPoolRepository) ListPoolsByOwner(ctx context.Context, ownerID string) ([]domain.Pool, error) {
	docs, err := r.ds.Query(ctx, domain.CollectionPools, Where("ownerId", ownerID))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(p *domain.Pool, id string) { p.ID = id })
}

func (r *DocumentPoolRepository) ListPoolsByMember(ctx context.Context, userID string) ([]domain.Pool, error) {
	docs, err := r.ds.Query(ctx, domain.CollectionPools, ArrayContains("memberIds", userID))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(p *domain.Pool, id string) { p.ID = id })
}

func (r *DocumentPoolRepository) WatchPool(id string, fn func(pool *domain.Pool)) func() {
	return r.ds.Subscribe(domain.CollectionPools, id, func(doc Document, exists bool) {
		if !exists {
			fn(nil)
			return
		}
		pool, err := poolFromDoc(doc)
		if err != nil {
			log.Error().Err(err).Str("pool_id", id).Msg("failed to decode watched pool")
			return
		}
		fn(pool)
	})
}

func (r *DocumentPoolRepository) adjustBalance(ctx context.Context, poolID string, compute func(decimal.Decimal) (decimal.Decimal, error)) (*domain.Pool, error) {
	var updated *domain.Pool
	err := r.ds.RunTransaction(ctx, domain.CollectionPools, poolID, func(current Document) (map[string]any, error) {
		pool, err := poolFromDoc(current)
		if err != nil {
			return nil, err
		}
		next, err := compute(pool.Balance)
		if err != nil {
			return nil, err
		}
		pool.Balance = next
		pool.UpdatedAt = now()
		updated = pool
		return map[string]any{"balance": pool.Balance, "updatedAt": pool.UpdatedAt}, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrPoolNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (r *DocumentPoolRepository) update(ctx context.Context, id string, fields map[string]any) error {
	fields["updatedAt"] = now()
	if err := r.ds.Update(ctx, domain.CollectionPools, id, fields); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrPoolNotFound
		}
		return err
	}
	return nil
}

// checkAmount accepts positive amounts of at most MaxAmountScale decimal
// places.
func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(MaxAmountScale)) {
		return ErrAmountPrecision
	}
	return nil
}

func poolFromDoc(doc Document) (*domain.Pool, error) {
	var pool domain.Pool
	if err := doc.DataTo(&pool); err != nil {
		return nil, err
	}
	pool.ID = doc.ID
	return &pool, nil
}
