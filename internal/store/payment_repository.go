package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Pool-labs/Pool/internal/domain"
)

// DocumentPaymentRepository implements PaymentRepository on a DocumentStore.
type DocumentPaymentRepository struct {
	ds DocumentStore
}

func NewPaymentRepository(ds DocumentStore) *DocumentPaymentRepository {
	return &DocumentPaymentRepository{ds: ds}
}

func (r *DocumentPaymentRepository) CreatePayment(ctx context.Context, payment *domain.Payment) (string, error) {
	if payment.Timestamp.IsZero() {
		payment.Timestamp = now()
	}
	if payment.Status == "" {
		payment.Status = domain.PaymentStatusPending
	}
	id, err := r.ds.Create(ctx, domain.CollectionPayments, payment)
	if err != nil {
		return "", fmt.Errorf("failed to create payment: %w", err)
	}
	payment.ID = id
	return id, nil
}

func (r *DocumentPaymentRepository) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	doc, err := r.ds.Get(ctx, domain.CollectionPayments, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return paymentFromDoc(doc)
}

func (r *DocumentPaymentRepository) GetPaymentByIntentID(ctx context.Context, intentID string) (*domain.Payment, error) {
	docs, err := r.ds.Query(ctx, domain.CollectionPayments, Where("providerPaymentIntentId", intentID))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrPaymentNotFound
	}
	return paymentFromDoc(docs[0])
}

// SettlePayment moves a pending payment to its final status. A payment that
// has already left pending is not changed again.
func (r *DocumentPaymentRepository) SettlePayment(ctx context.Context, id string, status domain.PaymentStatus) error {
	err := r.ds.RunTransaction(ctx, domain.CollectionPayments, id, func(current Document) (map[string]any, error) {
		payment, err := paymentFromDoc(current)
		if err != nil {
			return nil, err
		}
		if payment.Status != domain.PaymentStatusPending {
			return nil, ErrPaymentAlreadySettled
		}
		return map[string]any{"status": status}, nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrPaymentNotFound
	}
	return err
}

// MarkCredited records that a completed payment has been added to its pool.
func (r *DocumentPaymentRepository) MarkCredited(ctx context.Context, id string) error {
	err := r.ds.Update(ctx, domain.CollectionPayments, id, map[string]any{"credited": true})
	if errors.Is(err, ErrNotFound) {
		return ErrPaymentNotFound
	}
	return err
}

func (r *DocumentPaymentRepository) ListPaymentsByUser(ctx context.Context, userID string) ([]domain.Payment, error) {
	docs, err := r.ds.Query(ctx, domain.CollectionPayments, Where("userId", userID))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(p *domain.Payment, id string) { p.ID = id })
}

func (r *DocumentPaymentRepository) ListPaymentsByPool(ctx context.Context, poolID string) ([]domain.Payment, error) {
	docs, err := r.ds.Query(ctx, domain.CollectionPayments, Where("poolId", poolID))
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(p *domain.Payment, id string) { p.ID = id })
}

func paymentFromDoc(doc Document) (*domain.Payment, error) {
	var payment domain.Payment
	if err := doc.DataTo(&payment); err != nil {
		return nil, err
	}
	payment.ID = doc.ID
	return &payment, nil
}
