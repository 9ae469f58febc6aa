package store

import (
	"context"
	"errors"
	"time"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrAccountExists          = errors.New("account already exists")
	ErrPoolNotFound           = errors.New("pool not found")
	ErrCardNotFound           = errors.New("card not found")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrInsufficientFunds      = errors.New("insufficient funds in pool")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrAmountPrecision        = errors.New("amount must have at most two decimal places")
	ErrPaymentAlreadySettled  = errors.New("payment is no longer pending")
	ErrPaymentAlreadyCredited = errors.New("payment was already credited to the pool")
	ErrBadgeAlreadyAwarded    = errors.New("account already holds this badge")
)

var (
	_ DocumentStore = (*MemoryStore)(nil)
	_ DocumentStore = (*PostgresStore)(nil)
)

// AccountRepository persists application accounts keyed by identity uid.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *domain.Account) error
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	UpdateAccount(ctx context.Context, id string, fields map[string]any) error
	AdvanceOnboarding(ctx context.Context, id string, progress domain.OnboardingProgress) error
	AddPoolToAccount(ctx context.Context, accountID, poolID string) error
	RemovePoolFromAccount(ctx context.Context, accountID, poolID string) error
	AddCardToAccount(ctx context.Context, accountID, cardID string) error
	RemoveCardFromAccount(ctx context.Context, accountID, cardID string) error
	AssignWallet(ctx context.Context, id, walletID string) (string, error)
	AwardDroplets(ctx context.Context, id string, entry domain.RewardEntry) (*domain.Account, error)
	AwardBadge(ctx context.Context, id string, badge domain.Badge) error
	WatchAccount(id string, fn func(account *domain.Account)) (unsubscribe func())
}

// PoolRepository persists pools. Balance changes go through AddFunds and
// WithdrawFunds only.
type PoolRepository interface {
	CreatePool(ctx context.Context, pool *domain.Pool) (string, error)
	GetPool(ctx context.Context, id string) (*domain.Pool, error)
	UpdatePool(ctx context.Context, id string, fields map[string]any) error
	DeletePool(ctx context.Context, id string) error
	AddMember(ctx context.Context, poolID, userID string) error
	RemoveMember(ctx context.Context, poolID, userID string) error
	AddFunds(ctx context.Context, poolID string, amount decimal.Decimal) (*domain.Pool, error)
	WithdrawFunds(ctx context.Context, poolID string, amount decimal.Decimal) (*domain.Pool, error)
	CreditPayment(ctx context.Context, poolID, paymentID string, amount decimal.Decimal) (*domain.Pool, error)
	ListPoolsByOwner(ctx context.Context, ownerID string) ([]domain.Pool, error)
	ListPoolsByMember(ctx context.Context, userID string) ([]domain.Pool, error)
	WatchPool(id string, fn func(pool *domain.Pool)) (unsubscribe func())
}

// CardRepository persists pool cards.
type CardRepository interface {
	CreateCard(ctx context.Context, card *domain.Card) (string, error)
	GetCard(ctx context.Context, id string) (*domain.Card, error)
	SetCardStatus(ctx context.Context, id string, status domain.CardStatus) error
	ListCardsByOwner(ctx context.Context, ownerID string) ([]domain.Card, error)
	ListCardsByPool(ctx context.Context, poolID string) ([]domain.Card, error)
	ListActiveCardsByOwner(ctx context.Context, ownerID string) ([]domain.Card, error)
}

// PaymentRepository persists the append-only payment log.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *domain.Payment) (string, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	GetPaymentByIntentID(ctx context.Context, intentID string) (*domain.Payment, error)
	SettlePayment(ctx context.Context, id string, status domain.PaymentStatus) error
	MarkCredited(ctx context.Context, id string) error
	ListPaymentsByUser(ctx context.Context, userID string) ([]domain.Payment, error)
	ListPaymentsByPool(ctx context.Context, poolID string) ([]domain.Payment, error)
}

// OnboardingAttemptRepository records external ids left unlinked by failed
// onboarding runs.
type OnboardingAttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *domain.OnboardingAttempt) (string, error)
	ListUnreconciled(ctx context.Context) ([]domain.OnboardingAttempt, error)
}

func now() time.Time {
	return time.Now().UTC()
}

func decodeAll[T any](docs []Document, setID func(*T, string)) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var item T
		if err := doc.DataTo(&item); err != nil {
			return nil, err
		}
		setID(&item, doc.ID)
		out = append(out, item)
	}
	return out, nil
}
