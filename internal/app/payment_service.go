package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// PaymentMethodBankAccount is the method recorded for bank-funded contributions.
const PaymentMethodBankAccount = "us_bank_account"

// PaymentService records member contributions and settles them when the
// provider reports a final status.
type PaymentService struct {
	payments store.PaymentRepository
	pools    store.PoolRepository
	accounts store.AccountRepository
	provider PaymentProvider

	onCredited func(context.Context, *domain.Payment)
}

func NewPaymentService(payments store.PaymentRepository, pools store.PoolRepository, accounts store.AccountRepository, provider PaymentProvider) *PaymentService {
	return &PaymentService{
		payments: payments,
		pools:    pools,
		accounts: accounts,
		provider: provider,
	}
}

// OnContributionCredited registers fn to run once for each payment credited
// to its pool.
func (s *PaymentService) OnContributionCredited(fn func(context.Context, *domain.Payment)) {
	s.onCredited = fn
}

// Contribute charges the user's linked funding method into the pool's ledger
// account and records a pending payment. The pool balance only changes once
// the provider reports the payment as succeeded.
func (s *PaymentService) Contribute(ctx context.Context, userID, poolID string, amount decimal.Decimal) (*domain.Payment, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if !amount.Equal(amount.Truncate(store.MaxAmountScale)) {
		return nil, fmt.Errorf("%w: amount must have at most two decimal places", ErrInvalidInput)
	}

	account, err := s.accounts.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account.FundingCustomerID == "" || account.PaymentMethodID == "" {
		return nil, ErrFundingNotLinked
	}
	pool, err := s.pools.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if !lo.Contains(pool.MemberIDs, userID) {
		return nil, ErrNotPoolMember
	}

	intent, err := s.provider.CreatePaymentIntent(ctx, domain.PaymentIntentInput{
		CustomerID:           account.FundingCustomerID,
		Amount:               amount,
		DestinationAccountID: pool.ExternalLedgerAccountID,
		FundingMethodID:      account.PaymentMethodID,
	})
	if err != nil {
		return nil, err
	}
	if intent == nil || intent.ID == "" {
		return nil, fmt.Errorf("payment intent creation returned no id")
	}

	payment := &domain.Payment{
		UserID:                  userID,
		PoolID:                  poolID,
		Amount:                  amount,
		Method:                  PaymentMethodBankAccount,
		Status:                  domain.PaymentStatusPending,
		ProviderPaymentIntentID: intent.ID,
	}
	if _, err := s.payments.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	log.Info().Str("payment_id", payment.ID).Str("payment_intent_id", intent.ID).Str("pool_id", poolID).Str("amount", amount.StringFixed(2)).Msg("contribution recorded")
	return payment, nil
}

// ListPayments returns the user's payment log.
func (s *PaymentService) ListPayments(ctx context.Context, userID string) ([]domain.Payment, error) {
	return s.payments.ListPaymentsByUser(ctx, userID)
}

// MapIntentStatus translates a provider intent status into a final payment
// status. ok is false for statuses that are not final.
func MapIntentStatus(status string) (domain.PaymentStatus, bool) {
	switch status {
	case "succeeded":
		return domain.PaymentStatusCompleted, true
	case "failed", "payment_failed", "canceled":
		return domain.PaymentStatusFailed, true
	default:
		return "", false
	}
}

// ApplyStatus settles the payment behind event. A completed payment credits
// the pool exactly once: the pool records each credited payment id, so an
// event redelivered after a failed credit finishes the credit and any later
// redelivery changes nothing.
func (s *PaymentService) ApplyStatus(ctx context.Context, event domain.PaymentStatusEvent) error {
	status, final := MapIntentStatus(event.Status)
	if !final {
		log.Debug().Str("payment_intent_id", event.PaymentIntentID).Str("status", event.Status).Msg("non-final payment status ignored")
		return nil
	}

	payment, err := s.payments.GetPaymentByIntentID(ctx, event.PaymentIntentID)
	if err != nil {
		return err
	}

	if err := s.payments.SettlePayment(ctx, payment.ID, status); err != nil {
		if !errors.Is(err, store.ErrPaymentAlreadySettled) {
			return err
		}
		if payment.Status != domain.PaymentStatusCompleted || payment.Credited {
			log.Info().Str("payment_id", payment.ID).Msg("payment already settled; event ignored")
			return nil
		}
		log.Warn().Str("payment_id", payment.ID).Msg("completed payment not yet credited; retrying credit")
	} else {
		payment.Status = status
		log.Info().Str("payment_id", payment.ID).Str("status", string(status)).Msg("payment settled")
	}

	if payment.Status != domain.PaymentStatusCompleted {
		log.Warn().Str("payment_id", payment.ID).Str("reason", event.FailureMessage).Msg("payment failed")
		return nil
	}
	return s.credit(ctx, payment)
}

func (s *PaymentService) credit(ctx context.Context, payment *domain.Payment) error {
	fresh := true
	if _, err := s.pools.CreditPayment(ctx, payment.PoolID, payment.ID, payment.Amount); err != nil {
		if !errors.Is(err, store.ErrPaymentAlreadyCredited) {
			return fmt.Errorf("payment %s settled but pool credit failed: %w", payment.ID, err)
		}
		fresh = false
	}
	if err := s.payments.MarkCredited(ctx, payment.ID); err != nil {
		return fmt.Errorf("payment %s credited but not marked: %w", payment.ID, err)
	}
	payment.Credited = true
	if fresh && s.onCredited != nil {
		s.onCredited(ctx, payment)
	}
	log.Info().Str("payment_id", payment.ID).Str("pool_id", payment.PoolID).Msg("pool credited")
	return nil
}
