package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Pool-labs/Pool/internal/domain"
)

// DocumentCardRepository implements CardRepository on a DocumentStore.
type DocumentCardRepository struct {
	ds DocumentStore
}

func NewCardRepository(ds DocumentStore) *DocumentCardRepository {
	return &DocumentCardRepository{ds: ds}
}

// CreateCard stores the card under a store-assigned id. ProviderCardID is
// kept as an ordinary field.
func (r *DocumentCardRepository) CreateCard(ctx context.Context, card *domain.Card) (string, error) {
	ts := now()
	card.CreatedAt = ts
	card.UpdatedAt = ts
	id, err := r.ds.Create(ctx, domain.CollectionCards, card)
	if err != nil {
		return "", fmt.Errorf("failed to create card: %w", err)
	}
	card.ID = id
	return id, nil
}

func (r *DocumentCardRepository) GetCard(ctx context.Context, id string) (*domain.Card, error) {
	doc, err := r.ds.Get(ctx, domain.CollectionCards, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	var card domain.Card
	if err := doc.DataTo(&card); err != nil {
		return nil, err
	}
	card.ID = doc.ID
	return &card, nil
}

func (r *DocumentCardRepository) SetCardStatus(ctx context.Context, id string, status domain.CardStatus) error {
	err := r.ds.Update(ctx, domain.CollectionCards, id, map[string]any{
		"status":    status,
		"updatedAt": now(),
	})
	if errors.Is(err, ErrNotFound) {
		return ErrCardNotFound
	}
	return err
}

func (r *DocumentCardRepository) ListCardsByOwner(ctx context.Context, ownerID string) ([]domain.Card, error) {
	return r.list(ctx, Where("ownerId", ownerID))
}

func (r *DocumentCardRepository) ListCardsByPool(ctx context.Context, poolID string) ([]domain.Card, error) {
	return r.list(ctx, Where("poolId", poolID))
}

func (r *DocumentCardRepository) ListActiveCardsByOwner(ctx context.Context, ownerID string) ([]domain.Card, error) {
	return r.list(ctx, Where("ownerId", ownerID), Where("status", domain.CardStatusActive))
}

func (r *DocumentCardRepository) list(ctx context.Context, filters ...Filter) ([]domain.Card, error) {
	docs, err := r.ds.Query(ctx, domain.CollectionCards, filters...)
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(c *domain.Card, id string) { c.ID = id })
}
