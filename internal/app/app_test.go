package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type providerStub struct {
	mu sync.Mutex

	connectErr  error
	issueErr    error
	statusErr   error
	intentErr   error
	intentID    string
	connects    int
	issued      []domain.IssueCardInput
	statusCalls []bool
	intents     []domain.PaymentIntentInput
}

func (p *providerStub) CreateConnectAccount(ctx context.Context, name string) (*domain.ProviderConnectAccount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	p.connects++
	return &domain.ProviderConnectAccount{ID: "acct_ledger", Name: name}, nil
}

func (p *providerStub) IssueCard(ctx context.Context, in domain.IssueCardInput) (*domain.IssuedCard, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.issueErr != nil {
		return nil, p.issueErr
	}
	p.issued = append(p.issued, in)
	return &domain.IssuedCard{ID: "ic_1", CardholderID: "ich_1", LastFourDigits: "4242", Expiry: "12/29", CVV: "123"}, nil
}

func (p *providerStub) UpdateCardholderStatus(ctx context.Context, connectAccountID, cardholderID string, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.statusErr != nil {
		return p.statusErr
	}
	p.statusCalls = append(p.statusCalls, active)
	return nil
}

func (p *providerStub) CreatePaymentIntent(ctx context.Context, in domain.PaymentIntentInput) (*domain.ProviderPaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.intentErr != nil {
		return nil, p.intentErr
	}
	p.intents = append(p.intents, in)
	id := p.intentID
	if id == "" {
		id = "pi_1"
	}
	return &domain.ProviderPaymentIntent{ID: id, Status: "processing"}, nil
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type publisherStub struct {
	err    error
	events []publishedEvent
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.events = append(p.events, publishedEvent{exchange, routingKey, body})
	return p.err
}

type appFixture struct {
	ds        *store.MemoryStore
	accounts  *store.DocumentAccountRepository
	pools     *store.DocumentPoolRepository
	cardsRepo *store.DocumentCardRepository
	payRepo   *store.DocumentPaymentRepository
	provider  *providerStub
	publisher *publisherStub

	poolSvc    *PoolService
	cardSvc    *CardService
	paymentSvc *PaymentService
	walletSvc  *WalletService
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()
	ds := store.NewMemoryStore()
	f := &appFixture{
		ds:        ds,
		accounts:  store.NewAccountRepository(ds),
		pools:     store.NewPoolRepository(ds),
		cardsRepo: store.NewCardRepository(ds),
		payRepo:   store.NewPaymentRepository(ds),
		provider:  &providerStub{},
		publisher: &publisherStub{},
	}
	f.cardSvc = NewCardService(f.cardsRepo, f.pools, f.accounts, f.provider)
	f.poolSvc = NewPoolService(f.pools, f.accounts, f.provider, f.cardSvc, f.publisher)
	f.paymentSvc = NewPaymentService(f.payRepo, f.pools, f.accounts, f.provider)
	f.walletSvc = NewWalletService(f.accounts)
	f.paymentSvc.OnContributionCredited(f.walletSvc.RewardContribution)
	return f
}

func (f *appFixture) addAccount(t *testing.T, id string, linked bool) {
	t.Helper()
	account := &domain.Account{
		ID:                 id,
		Email:              id + "@example.com",
		Name:               "Ada Lovelace",
		OnboardingProgress: domain.ProgressFundingLinked,
	}
	if linked {
		account.FundingCustomerID = "cus_" + id
		account.PaymentMethodID = "pm_" + id
	}
	require.NoError(t, f.accounts.CreateAccount(context.Background(), account))
}

func (f *appFixture) createPool(t *testing.T, ownerID string) *domain.Pool {
	t.Helper()
	res, err := f.poolSvc.CreatePool(context.Background(), CreatePoolInput{OwnerID: ownerID, Name: "Trip"})
	require.NoError(t, err)
	return res.Pool
}

var errProvider = errors.New("provider unavailable")

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
