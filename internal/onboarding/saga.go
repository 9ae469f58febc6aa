/**
 * @description
 * Package onboarding links a funding source to a new user. The saga creates a
 * payments-provider customer, sets up and confirms a bank-account funding
 * method, and only then writes the account record.
 *
 * @notes
 * - Steps run strictly in order and each needs the previous step's output.
 * - A failed run is not rolled back. The provider objects it created are
 *   reported in SagaError.Partial and recorded in onboarding_attempts.
 * - A second run after a failure creates a new provider customer.
 */
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/rs/zerolog/log"
)

// Test bank account accepted by the provider sandbox.
const (
	TestAccountNumber = "000123456789"
	TestRoutingNumber = "110000000"
)

// FundingProvider is the part of the payments provider the saga calls.
type FundingProvider interface {
	CreateCustomer(ctx context.Context, email, name string) (*domain.ProviderCustomer, error)
	CreateFundingSetupIntent(ctx context.Context, customerID, accountHolderName, accountNumber, routingNumber string) (*domain.FundingSetupIntent, error)
	ConfirmFundingSetupIntent(ctx context.Context, setupIntentID, fundingMethodID string) (string, error)
}

// AccountWriter persists the account once funding is linked.
type AccountWriter interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
	UpdateAccount(ctx context.Context, id string, fields map[string]any) error
}

// AttemptRecorder keeps partial results of failed runs.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt *domain.OnboardingAttempt) (string, error)
}

// WalletProvisioner assigns a wallet to a newly onboarded account.
type WalletProvisioner interface {
	CreateWallet(ctx context.Context, userID string) (string, error)
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Input is what the funding step collects, plus the caller's identity.
type Input struct {
	UID           string `json:"-"`
	Email         string `json:"-"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	AccountNumber string `json:"account_number"`
	RoutingNumber string `json:"routing_number"`
}

// Validate reports every empty required field at once.
func (in Input) Validate() error {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"uid", in.UID},
		{"first_name", in.FirstName},
		{"last_name", in.LastName},
		{"account_number", in.AccountNumber},
		{"routing_number", in.RoutingNumber},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// Result describes a successful run.
type Result struct {
	Account         *domain.Account `json:"account"`
	CustomerID      string          `json:"customer_id"`
	FundingMethodID string          `json:"funding_method_id"`
}

// Saga runs the funding-link flow.
type Saga struct {
	payments  FundingProvider
	accounts  AccountWriter
	attempts  AttemptRecorder
	guard     Guard
	publisher EventPublisher
	wallets   WalletProvisioner

	onLinked func(*domain.Account)
}

func NewSaga(payments FundingProvider, accounts AccountWriter, attempts AttemptRecorder, guard Guard, publisher EventPublisher) *Saga {
	if guard == nil {
		guard = NewMemoryGuard()
	}
	return &Saga{
		payments:  payments,
		accounts:  accounts,
		attempts:  attempts,
		guard:     guard,
		publisher: publisher,
	}
}

// OnAccountLinked registers fn to receive the account after a successful run.
func (s *Saga) OnAccountLinked(fn func(*domain.Account)) {
	s.onLinked = fn
}

// ProvisionWallets makes every successful run assign a wallet to the account.
// A wallet failure is logged and leaves walletId empty; the run still succeeds.
func (s *Saga) ProvisionWallets(w WalletProvisioner) {
	s.wallets = w
}

// Run executes the saga for one user. Validation errors,
// ErrOnboardingInProgress, ErrAlreadyOnboarded and account load errors are
// returned before any provider call; every other failure is a *SagaError.
func (s *Saga) Run(ctx context.Context, in Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	in.FirstName = normalizeName(in.FirstName)
	in.LastName = normalizeName(in.LastName)

	release, err := s.guard.Acquire(ctx, in.UID)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.accounts.GetAccount(ctx, in.UID)
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load account %s: %w", in.UID, err)
	case existing.OnboardingProgress >= domain.ProgressFundingLinked:
		return nil, ErrAlreadyOnboarded
	}

	logger := log.With().Str("component", "onboarding").Str("uid", in.UID).Logger()
	name := in.FirstName + " " + in.LastName
	var partial PartialCompletion

	fail := func(step Step, cause error) (*Result, error) {
		sagaErr := &SagaError{Step: step, Cause: cause, Partial: partial}
		logger.Error().Err(cause).Str("step", string(step)).
			Str("customer_id", partial.CustomerID).
			Str("setup_intent_id", partial.SetupIntentID).
			Str("funding_method_id", partial.FundingMethodID).
			Msg("onboarding saga failed")
		s.recordPartial(ctx, in, sagaErr)
		return nil, sagaErr
	}

	logger.Info().Str("step", string(StepCreateCustomer)).Msg("creating funding customer")
	customer, err := s.payments.CreateCustomer(ctx, in.Email, name)
	if err != nil {
		return fail(StepCreateCustomer, err)
	}
	if customer == nil || customer.ID == "" {
		return fail(StepCreateCustomer, fmt.Errorf("customer id: %w", ErrMissingOutput))
	}
	partial.CustomerID = customer.ID

	logger.Info().Str("step", string(StepCreateFundingSetupIntent)).Msg("setting up bank account")
	setup, err := s.payments.CreateFundingSetupIntent(ctx, customer.ID, name, in.AccountNumber, in.RoutingNumber)
	if err != nil {
		return fail(StepCreateFundingSetupIntent, err)
	}
	if setup == nil || setup.ID == "" {
		return fail(StepCreateFundingSetupIntent, fmt.Errorf("setup intent id: %w", ErrMissingOutput))
	}
	partial.SetupIntentID = setup.ID
	if setup.PendingFundingMethodID == "" {
		return fail(StepCreateFundingSetupIntent, fmt.Errorf("pending funding method id: %w", ErrMissingOutput))
	}
	partial.FundingMethodID = setup.PendingFundingMethodID

	logger.Info().Str("step", string(StepConfirmFundingSetup)).Msg("confirming bank account")
	fundingMethodID, err := s.payments.ConfirmFundingSetupIntent(ctx, setup.ID, setup.PendingFundingMethodID)
	if err != nil {
		return fail(StepConfirmFundingSetup, err)
	}
	if fundingMethodID == "" {
		return fail(StepConfirmFundingSetup, fmt.Errorf("confirmed funding method id: %w", ErrMissingOutput))
	}
	partial.FundingMethodID = fundingMethodID

	account := &domain.Account{
		ID:                in.UID,
		Email:             in.Email,
		Name:              name,
		PoolIDs:           []string{},
		CardIDs:           []string{},
		FundingCustomerID: customer.ID,
		PaymentMethodID:   fundingMethodID,
	}
	logger.Info().Str("step", string(StepPersistAccount)).Msg("storing account")
	if err := s.persistAccount(ctx, account, existing); err != nil {
		return fail(StepPersistAccount, err)
	}

	bankInfo := &domain.BankInfo{
		AccountNumberLast4: last4(in.AccountNumber),
		RoutingNumber:      in.RoutingNumber,
		IsTestAccount:      in.AccountNumber == TestAccountNumber && in.RoutingNumber == TestRoutingNumber,
	}
	logger.Info().Str("step", string(StepPersistProfileFields)).Msg("storing profile fields")
	if err := s.accounts.UpdateAccount(ctx, in.UID, map[string]any{
		"firstName":          in.FirstName,
		"lastName":           in.LastName,
		"bankInfo":           bankInfo,
		"onboardingProgress": domain.ProgressFundingLinked,
	}); err != nil {
		return fail(StepPersistProfileFields, err)
	}
	account.FirstName = in.FirstName
	account.LastName = in.LastName
	account.BankInfo = bankInfo
	account.OnboardingProgress = domain.ProgressFundingLinked

	if s.wallets != nil && account.WalletID == "" {
		walletID, err := s.wallets.CreateWallet(ctx, in.UID)
		if err != nil {
			logger.Warn().Err(err).Msg("wallet not created; account stays without one")
		} else {
			account.WalletID = walletID
		}
	}

	logger.Info().Str("step", string(StepDone)).Str("customer_id", customer.ID).Msg("onboarding complete")
	s.publishOnboarded(ctx, account)
	if s.onLinked != nil {
		s.onLinked(account)
	}

	return &Result{Account: account, CustomerID: customer.ID, FundingMethodID: fundingMethodID}, nil
}

// persistAccount creates the account, or links the funding fields onto an
// account stored earlier. Pool and card links are never overwritten.
func (s *Saga) persistAccount(ctx context.Context, account, existing *domain.Account) error {
	if existing == nil {
		err := s.accounts.CreateAccount(ctx, account)
		if !errors.Is(err, store.ErrAccountExists) {
			return err
		}
		if existing, err = s.accounts.GetAccount(ctx, account.ID); err != nil {
			return err
		}
		if existing.OnboardingProgress >= domain.ProgressFundingLinked {
			return ErrAlreadyOnboarded
		}
	}

	if err := s.accounts.UpdateAccount(ctx, account.ID, map[string]any{
		"email":             account.Email,
		"name":              account.Name,
		"fundingCustomerId": account.FundingCustomerID,
		"paymentMethodId":   account.PaymentMethodID,
	}); err != nil {
		return err
	}
	account.PoolIDs = existing.PoolIDs
	account.CardIDs = existing.CardIDs
	account.WalletID = existing.WalletID
	account.CreatedAt = existing.CreatedAt
	return nil
}

func (s *Saga) recordPartial(ctx context.Context, in Input, sagaErr *SagaError) {
	if s.attempts == nil || sagaErr.Partial.IsEmpty() {
		return
	}
	// The request context may already be cancelled; the record must still land.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := s.attempts.RecordAttempt(recordCtx, &domain.OnboardingAttempt{
		UID:             in.UID,
		Email:           in.Email,
		FailedStep:      string(sagaErr.Step),
		Reason:          sagaErr.Cause.Error(),
		CustomerID:      sagaErr.Partial.CustomerID,
		SetupIntentID:   sagaErr.Partial.SetupIntentID,
		FundingMethodID: sagaErr.Partial.FundingMethodID,
	})
	if err != nil {
		log.Error().Err(err).Str("uid", in.UID).Msg("failed to record partial onboarding attempt")
	}
}

func (s *Saga) publishOnboarded(ctx context.Context, account *domain.Account) {
	if s.publisher == nil {
		return
	}
	event := domain.AccountOnboardedEvent{
		AccountID:         account.ID,
		FundingCustomerID: account.FundingCustomerID,
		OccurredAt:        time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, domain.ExchangeAccountEvents, domain.RoutingKeyAccountOnboarded, event); err != nil {
		log.Warn().Err(err).Str("uid", account.ID).Msg("failed to publish account.onboarded")
	}
}

func last4(accountNumber string) string {
	trimmed := strings.TrimSpace(accountNumber)
	if len(trimmed) <= 4 {
		return trimmed
	}
	return trimmed[len(trimmed)-4:]
}

// IsPartialFailure reports whether err is a saga failure that left provider
// objects behind.
func IsPartialFailure(err error) bool {
	var sagaErr *SagaError
	return errors.As(err, &sagaErr) && !sagaErr.Partial.IsEmpty()
}
