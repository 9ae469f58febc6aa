package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContribute(t *testing.T) {
	f := newAppFixture(t)
	ctx := context.Background()
	f.addAccount(t, "owner", true)
	pool := f.createPool(t, "owner")

	payment, err := f.paymentSvc.Contribute(ctx, "owner", pool.ID, dec("40"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, payment.Status)
	assert.Equal(t, PaymentMethodBankAccount, payment.Method)
	assert.Equal(t, "pi_1", payment.ProviderPaymentIntentID)

	require.Len(t, f.provider.intents, 1)
	intent := f.provider.intents[0]
	assert.Equal(t, "cus_owner", intent.CustomerID)
	assert.Equal(t, "pm_owner", intent.FundingMethodID)
	assert.Equal(t, "acct_ledger", intent.DestinationAccountID)

	stored, err := f.pools.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.True(t, stored.Balance.IsZero(), "balance waits for settlement")

	payments, err := f.paymentSvc.ListPayments(ctx, "owner")
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestContributeRejections(t *testing.T) {
	f := newAppFixture(t)
	ctx := context.Background()
	f.addAccount(t, "owner", true)
	f.addAccount(t, "unlinked", false)
	f.addAccount(t, "outsider", true)
	pool := f.createPool(t, "owner")

	_, err := f.paymentSvc.Contribute(ctx, "owner", pool.ID, dec("0"))
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.paymentSvc.Contribute(ctx, "owner", pool.ID, dec("5.001"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.paymentSvc.Contribute(ctx, "unlinked", pool.ID, dec("5"))
	assert.ErrorIs(t, err, ErrFundingNotLinked)

	_, err = f.paymentSvc.Contribute(ctx, "outsider", pool.ID, dec("5"))
	assert.ErrorIs(t, err, ErrNotPoolMember)

	f.provider.intentErr = errProvider
	_, err = f.paymentSvc.Contribute(ctx, "owner", pool.ID, dec("5"))
	assert.ErrorIs(t, err, errProvider)

	payments, err := f.paymentSvc.ListPayments(ctx, "owner")
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestMapIntentStatus(t *testing.T) {
	tests := []struct {
		in    string
		want  domain.PaymentStatus
		final bool
	}{
		{"succeeded", domain.PaymentStatusCompleted, true},
		{"failed", domain.PaymentStatusFailed, true},
		{"payment_failed", domain.PaymentStatusFailed, true},
		{"canceled", domain.PaymentStatusFailed, true},
		{"processing", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, final := MapIntentStatus(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.final, final, tt.in)
	}
}

func TestApplyStatusCreditsPoolOnce(t *testing.T) {
	f := newAppFixture(t)
	ctx := context.Background()
	f.addAccount(t, "owner", true)
	pool := f.createPool(t, "owner")
	payment, err := f.paymentSvc.Contribute(ctx, "owner", pool.ID, dec("40"))
	require.NoError(t, err)

	event := domain.PaymentStatusEvent{PaymentIntentID: payment.ProviderPaymentIntentID, Status: "processing"}
	require.NoError(t, f.paymentSvc.ApplyStatus(ctx, event))

	event.Status = "succeeded"
	require.NoError(t, f.paymentSvc.ApplyStatus(ctx, event))
	require.NoError(t, f.paymentSvc.ApplyStatus(ctx, event), "redelivery is a no-op")

	stored, err := f.pools.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.True(t, dec("40").Equal(stored.Balance))

	settled, err := f.payRepo.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, settled.Status)
}

func TestApplyStatusFailedLeavesBalance(t *testing.T) {
	f := newAppFixture(t)
	ctx := context.Background()
	f.addAccount(t, "owner", true)
	pool := f.createPool(t, "owner")
	payment, err := f.paymentSvc.Contribute(ctx, "owner", pool.ID, dec("40"))
	require.NoError(t, err)

	require.NoError(t, f.paymentSvc.ApplyStatus(ctx, domain.PaymentStatusEvent{
		PaymentIntentID: payment.ProviderPaymentIntentID,
		Status:          "payment_failed",
		FailureMessage:  "insufficient funds",
	}))

	stored, err := f.pools.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.True(t, stored.Balance.IsZero())

	settled, err := f.payRepo.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, settled.Status)

	err = f.paymentSvc.ApplyStatus(ctx, domain.PaymentStatusEvent{PaymentIntentID: "pi_unknown", Status: "succeeded"})
	assert.ErrorIs(t, err, store.ErrPaymentNotFound)
}

func TestPaymentStatusHandler(t *testing.T) {
	f := newAppFixture(t)
	ctx := context.Background()
	f.addAccount(t, "owner", true)
	pool := f.createPool(t, "owner")
	payment, err := f.paymentSvc.Contribute(ctx, "owner", pool.ID, dec("12.34"))
	require.NoError(t, err)

	handler := NewPaymentStatusHandler(f.paymentSvc)

	assert.True(t, handler.Handle([]byte("{not json")), "malformed is acked")
	assert.True(t, handler.Handle([]byte(`{"status":"succeeded"}`)), "missing intent id is acked")
	assert.True(t, handler.Handle([]byte(`{"payment_intent_id":"pi_unknown","status":"succeeded"}`)), "unknown payment is acked")

	body, err := json.Marshal(domain.PaymentStatusEvent{PaymentIntentID: payment.ProviderPaymentIntentID, Status: "succeeded"})
	require.NoError(t, err)
	assert.True(t, handler.Handle(body))

	stored, err := f.pools.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.True(t, dec("12.34").Equal(stored.Balance))
}

// flakyPools fails the first pool credit and behaves normally afterwards.
type flakyPools struct {
	*store.DocumentPoolRepository
	failures int
}

func (p *flakyPools) CreditPayment(ctx context.Context, poolID, paymentID string, amount decimal.Decimal) (*domain.Pool, error) {
	if p.failures > 0 {
		p.failures--
		return nil, errProvider
	}
	return p.DocumentPoolRepository.CreditPayment(ctx, poolID, paymentID, amount)
}

func TestApplyStatusRetriesCreditAfterFailure(t *testing.T) {
	f := newAppFixture(t)
	ctx := context.Background()
	f.addAccount(t, "owner", true)
	pool := f.createPool(t, "owner")
	payment, err := f.paymentSvc.Contribute(ctx, "owner", pool.ID, dec("40"))
	require.NoError(t, err)

	pools := &flakyPools{DocumentPoolRepository: f.pools, failures: 1}
	svc := NewPaymentService(f.payRepo, pools, f.accounts, f.provider)
	svc.OnContributionCredited(f.walletSvc.RewardContribution)
	handler := NewPaymentStatusHandler(svc)

	body, err := json.Marshal(domain.PaymentStatusEvent{PaymentIntentID: payment.ProviderPaymentIntentID, Status: "succeeded"})
	require.NoError(t, err)

	assert.False(t, handler.Handle(body), "failed credit is requeued")
	settled, err := f.payRepo.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, settled.Status)
	assert.False(t, settled.Credited)

	assert.True(t, handler.Handle(body), "redelivery finishes the credit")
	assert.True(t, handler.Handle(body), "later redelivery is a no-op")

	stored, err := f.pools.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.True(t, dec("40").Equal(stored.Balance))

	settled, err = f.payRepo.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.True(t, settled.Credited)

	account, err := f.accounts.GetAccount(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, int64(40), account.DropletBalance, "rewarded once")
	assert.Len(t, account.Rewards, 1)
}

func TestApplyStatusRewardsContributor(t *testing.T) {
	f := newAppFixture(t)
	ctx := context.Background()
	f.addAccount(t, "owner", true)
	pool := f.createPool(t, "owner")

	for intentID, amount := range map[string]string{"pi_a": "12.75", "pi_b": "0.50"} {
		f.provider.intentID = intentID
		payment, err := f.paymentSvc.Contribute(ctx, "owner", pool.ID, dec(amount))
		require.NoError(t, err)
		require.NoError(t, f.paymentSvc.ApplyStatus(ctx, domain.PaymentStatusEvent{PaymentIntentID: payment.ProviderPaymentIntentID, Status: "succeeded"}))
	}

	account, err := f.accounts.GetAccount(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, int64(13), account.DropletBalance)
	require.Len(t, account.Badges, 1)
	assert.Equal(t, BadgeFirstContribution.ID, account.Badges[0].ID)
	assert.Equal(t, BadgeFirstContribution.Name, account.Badges[0].Name)
}

type failingApplier struct{}

func (failingApplier) ApplyStatus(ctx context.Context, event domain.PaymentStatusEvent) error {
	return errProvider
}

func TestPaymentStatusHandlerRequeuesRetryableErrors(t *testing.T) {
	handler := NewPaymentStatusHandler(failingApplier{})
	assert.False(t, handler.Handle([]byte(`{"payment_intent_id":"pi_1","status":"succeeded"}`)))
}
