package store

import (
	"context"

	"github.com/Pool-labs/Pool/internal/domain"
)

// DocumentAttemptRepository implements OnboardingAttemptRepository.
type DocumentAttemptRepository struct {
	ds DocumentStore
}

func NewAttemptRepository(ds DocumentStore) *DocumentAttemptRepository {
	return &DocumentAttemptRepository{ds: ds}
}

func (r *DocumentAttemptRepository) RecordAttempt(ctx context.Context, attempt *domain.OnboardingAttempt) (string, error) {
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = now()
	}
	id, err := r.ds.Create(ctx, domain.CollectionOnboardingAttempts, attempt)
	if err != nil {
		return "", err
	}
	attempt.ID = id
	return id, nil
}

func (r *DocumentAttemptRepository) ListUnreconciled(ctx context.Context) ([]domain.OnboardingAttempt, error) {
	docs, err := r.ds.Query(ctx, domain.CollectionOnboardingAttempts, Where("reconciled", false))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(a *domain.OnboardingAttempt, id string) { a.ID = id })
}
