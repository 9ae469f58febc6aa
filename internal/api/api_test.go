package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Pool-labs/Pool/internal/app"
	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/identity"
	"github.com/Pool-labs/Pool/internal/onboarding"
	"github.com/Pool-labs/Pool/internal/session"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fundingStub struct {
	confirmErr error
}

func (f *fundingStub) CreateCustomer(ctx context.Context, email, name string) (*domain.ProviderCustomer, error) {
	return &domain.ProviderCustomer{ID: "cus_1", Email: email, Name: name}, nil
}

func (f *fundingStub) CreateFundingSetupIntent(ctx context.Context, customerID, accountHolderName, accountNumber, routingNumber string) (*domain.FundingSetupIntent, error) {
	return &domain.FundingSetupIntent{ID: "seti_1", PendingFundingMethodID: "pm_pending"}, nil
}

func (f *fundingStub) ConfirmFundingSetupIntent(ctx context.Context, setupIntentID, fundingMethodID string) (string, error) {
	if f.confirmErr != nil {
		return "", f.confirmErr
	}
	return "pm_1", nil
}

type poolProviderStub struct{}

func (poolProviderStub) CreateConnectAccount(ctx context.Context, name string) (*domain.ProviderConnectAccount, error) {
	return &domain.ProviderConnectAccount{ID: "acct_1"}, nil
}

func (poolProviderStub) IssueCard(ctx context.Context, in domain.IssueCardInput) (*domain.IssuedCard, error) {
	return &domain.IssuedCard{ID: "ic_1", CardholderID: "ich_1", LastFourDigits: "4242", Expiry: "01/30", CVV: "999"}, nil
}

func (poolProviderStub) UpdateCardholderStatus(ctx context.Context, connectAccountID, cardholderID string, active bool) error {
	return nil
}

func (poolProviderStub) CreatePaymentIntent(ctx context.Context, in domain.PaymentIntentInput) (*domain.ProviderPaymentIntent, error) {
	return &domain.ProviderPaymentIntent{ID: "pi_1", Status: "processing"}, nil
}

type apiFixture struct {
	server   *httptest.Server
	funding  *fundingStub
	accounts *store.DocumentAccountRepository
	attempts *store.DocumentAttemptRepository
}

func newAPIFixture(t *testing.T, limiter *RateLimiter) *apiFixture {
	t.Helper()
	ds := store.NewMemoryStore()
	provider := identity.NewLocalProvider(ds, identity.NewTokenManager("test-secret", "pool-test", time.Hour), nil)
	accounts := store.NewAccountRepository(ds)
	pools := store.NewPoolRepository(ds)
	cards := store.NewCardRepository(ds)
	payments := store.NewPaymentRepository(ds)
	attempts := store.NewAttemptRepository(ds)

	sessions := session.NewManager(provider, accounts)
	sessions.Start()
	t.Cleanup(sessions.Stop)

	funding := &fundingStub{}
	wallets := app.NewWalletService(accounts)
	saga := onboarding.NewSaga(funding, accounts, attempts, onboarding.NewMemoryGuard(), nil)
	saga.ProvisionWallets(wallets)

	providerStub := poolProviderStub{}
	cardSvc := app.NewCardService(cards, pools, accounts, providerStub)
	poolSvc := app.NewPoolService(pools, accounts, providerStub, cardSvc, nil)
	paymentSvc := app.NewPaymentService(payments, pools, accounts, providerStub)
	paymentSvc.OnContributionCredited(wallets.RewardContribution)

	h := NewHandlers(provider, sessions, saga, poolSvc, cardSvc, paymentSvc)
	router := NewRouter(h, provider, sessions, RouterOptions{AllowedOrigins: []string{"*"}, RateLimiter: limiter})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &apiFixture{server: server, funding: funding, accounts: accounts, attempts: attempts}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	out, ok := decoded.(map[string]interface{})
	if !ok {
		out = map[string]interface{}{"_list": decoded}
	}
	return resp, out
}

func (f *apiFixture) signUp(t *testing.T, email string) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/auth/sign-up", "", CredentialsRequest{Email: email, Password: "secret123"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, nil)
	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOnboardingToPoolFlow(t *testing.T) {
	f := newAPIFixture(t, nil)
	token := f.signUp(t, "ada@example.com")

	resp, body := f.do(t, http.MethodGet, "/session/route?current=unauthenticated", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decision := body["decision"].(map[string]interface{})
	assert.Equal(t, true, decision["redirect"])
	assert.Equal(t, string(session.GroupOnboardingStep1), decision["target"])

	resp, body = f.do(t, http.MethodPost, "/onboarding/profile", token, map[string]string{"first_name": "Ada", "last_name": "Lovelace"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(session.GroupOnboardingStep2), body["target"])

	resp, body = f.do(t, http.MethodPost, "/onboarding/funding", token, map[string]string{
		"account_number": onboarding.TestAccountNumber,
		"routing_number": onboarding.TestRoutingNumber,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "pm_1", body["funding_method_id"])
	account := body["account"].(map[string]interface{})
	assert.Equal(t, "Ada Lovelace", account["name"])
	assert.NotEmpty(t, account["walletId"])

	resp, body = f.do(t, http.MethodGet, "/session/route?current=onboarding-step-2", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decision = body["decision"].(map[string]interface{})
	assert.Equal(t, string(session.GroupMain), decision["target"])

	resp, body = f.do(t, http.MethodPost, "/pools", token, map[string]string{"name": "Trip"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	pool := body["pool"].(map[string]interface{})
	poolID, _ := pool["id"].(string)
	require.NotEmpty(t, poolID)
	card := body["card"].(map[string]interface{})
	assert.Equal(t, "**** **** **** 4242", card["maskedNumber"])

	resp, _ = f.do(t, http.MethodPost, "/onboarding/funding", token, map[string]string{
		"account_number": onboarding.TestAccountNumber,
		"routing_number": onboarding.TestRoutingNumber,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, body = f.do(t, http.MethodGet, "/pools", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["_list"], 1)

	resp, body = f.do(t, http.MethodPost, "/pools/"+poolID+"/contributions", token, map[string]string{"amount": "25.00"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	assert.Equal(t, "pending", body["status"])

	resp, body = f.do(t, http.MethodGet, "/payments", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["_list"], 1)

	resp, body = f.do(t, http.MethodPost, "/pools/"+poolID+"/withdrawals", token, map[string]string{"amount": "5"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, body)

	resp, _ = f.do(t, http.MethodPost, "/auth/sign-out", token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/pools", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, identity.CodeSessionRevoked, body["code"])
}

func TestAuthErrors(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.signUp(t, "ada@example.com")

	resp, body := f.do(t, http.MethodPost, "/auth/sign-up", "", CredentialsRequest{Email: "ada@example.com", Password: "secret123"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, identity.CodeEmailAlreadyInUse, body["code"])

	resp, _ = f.do(t, http.MethodPost, "/auth/sign-up", "", CredentialsRequest{Email: "new@example.com", Password: "123"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/auth/sign-in", "", CredentialsRequest{Email: "ada@example.com", Password: "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, identity.CodeWrongPassword, body["code"])

	resp, _ = f.do(t, http.MethodGet, "/pools", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/pools", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouteRejectsUnknownGroup(t *testing.T) {
	f := newAPIFixture(t, nil)
	token := f.signUp(t, "ada@example.com")

	resp, _ := f.do(t, http.MethodGet, "/session/route?current=settings", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOnboardingValidationAndSagaFailure(t *testing.T) {
	f := newAPIFixture(t, nil)
	token := f.signUp(t, "ada@example.com")

	resp, body := f.do(t, http.MethodPost, "/onboarding/profile", token, map[string]string{"first_name": "Ada"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	details := body["details"].(map[string]interface{})
	assert.Equal(t, []interface{}{"last_name"}, details["fields"])

	resp, _ = f.do(t, http.MethodPost, "/onboarding/funding", token, map[string]string{"first_name": "Ada", "last_name": "L"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.funding.confirmErr = errors.New("bank declined")
	resp, body = f.do(t, http.MethodPost, "/onboarding/funding", token, map[string]string{
		"first_name":     "Ada",
		"last_name":      "Lovelace",
		"account_number": "000111222",
		"routing_number": "110000000",
	})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, string(onboarding.StepConfirmFundingSetup), body["code"])
	partial := body["details"].(map[string]interface{})["partial"].(map[string]interface{})
	assert.Equal(t, "cus_1", partial["customer_id"])

	attempts, err := f.attempts.ListUnreconciled(context.Background())
	require.NoError(t, err)
	require.Len(t, attempts, 1)

	resp, body = f.do(t, http.MethodGet, "/session/route?current=main", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decision := body["decision"].(map[string]interface{})
	assert.Equal(t, string(session.GroupOnboardingStep1), decision["target"], "no account was stored")
}

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(2)
	t.Cleanup(limiter.Stop)
	f := newAPIFixture(t, limiter)

	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}
