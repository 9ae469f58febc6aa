package paymentsclient

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/pkg/issuing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCustomer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/customers", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var req domain.ProviderCreateCustomerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a@b.co", req.Email)
		assert.Equal(t, "A B", req.Name)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cus_123"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "sk_test")
	customer, err := client.CreateCustomer(context.Background(), "a@b.co", "A B")
	require.NoError(t, err)
	assert.Equal(t, "cus_123", customer.ID)
}

func TestProviderErrorMessageIsSurfacedUnchanged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"account_invalid","message":"No such customer: 'cus_x'"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test")
	_, err := client.CreateFundingSetupIntent(context.Background(), "cus_x", "A B", "000123456789", "110000000")
	require.Error(t, err)
	assert.Equal(t, "No such customer: 'cus_x'", err.Error())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	assert.Equal(t, "account_invalid", apiErr.Code)
}

func TestNonJSONErrorBodyIsKept(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test")
	_, err := client.GetCustomer(context.Background(), "cus_1")
	require.Error(t, err)
	assert.Equal(t, "upstream unavailable", err.Error())
	assert.False(t, IsNotFound(err))
}

func TestFundingSetupFlow(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Path {
		case "/v1/setup_intents":
			var req domain.ProviderCreateSetupIntentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "cus_1", req.Customer)
			assert.Equal(t, "us_bank_account", req.PaymentMethodType)
			assert.Equal(t, "110000000", req.BankAccount.RoutingNumber)
			assert.Equal(t, "offline", req.Mandate.CustomerAcceptanceType)
			_, _ = w.Write([]byte(`{"id":"seti_1","payment_method":"pm_pending"}`))
		case "/v1/setup_intents/seti_1/confirm":
			var req domain.ProviderConfirmSetupIntentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "pm_pending", req.PaymentMethod)
			assert.Equal(t, "SM11AA", req.Verification.DescriptorCode)
			_, _ = w.Write([]byte(`{"id":"seti_1","status":"succeeded","payment_method":"pm_confirmed"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test")
	intent, err := client.CreateFundingSetupIntent(context.Background(), "cus_1", "A B", "000123456789", "110000000")
	require.NoError(t, err)
	assert.Equal(t, "seti_1", intent.ID)
	assert.Equal(t, "pm_pending", intent.PendingFundingMethodID)

	confirmed, err := client.ConfirmFundingSetupIntent(context.Background(), intent.ID, intent.PendingFundingMethodID)
	require.NoError(t, err)
	assert.Equal(t, "pm_confirmed", confirmed)
	assert.Equal(t, 2, calls)
}

func TestCreatePaymentIntentUsesMinorUnits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.ProviderCreatePaymentIntentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(1250), req.Amount)
		assert.Equal(t, "usd", req.Currency)
		assert.Equal(t, "acct_pool", req.DestinationAccount)
		assert.True(t, req.Confirm)
		_, _ = w.Write([]byte(`{"id":"pi_1","status":"processing","amount":1250}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test")
	intent, err := client.CreatePaymentIntent(context.Background(), domain.PaymentIntentInput{
		CustomerID:           "cus_1",
		Amount:               decimal.RequireFromString("12.50"),
		DestinationAccountID: "acct_pool",
		FundingMethodID:      "pm_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ID)
	assert.Equal(t, "processing", intent.Status)
}

func TestCreatePaymentIntentRejectsBadAmounts(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", "sk_test")

	_, err := client.CreatePaymentIntent(context.Background(), domain.PaymentIntentInput{Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = client.CreatePaymentIntent(context.Background(), domain.PaymentIntentInput{Amount: decimal.RequireFromString("1.005")})
	assert.ErrorIs(t, err, ErrSubCentAmount)

	_, err = client.CreatePaymentIntent(context.Background(), domain.PaymentIntentInput{Amount: decimal.RequireFromString("1e30")})
	assert.ErrorIs(t, err, ErrAmountTooLarge)
}

func TestToMinorUnitsBounds(t *testing.T) {
	largest, err := ToMinorUnits(decimal.RequireFromString("92233720368547758.07"))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), largest.Amount())

	_, err = ToMinorUnits(decimal.RequireFromString("92233720368547758.08"))
	assert.ErrorIs(t, err, ErrAmountTooLarge)

	cents, err := ToMinorUnits(decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), cents.Amount())
}

func TestIssueCardCreatesCardholderThenCard(t *testing.T) {
	var order []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, r.URL.Path)
		assert.Equal(t, "acct_pool", r.Header.Get("X-Connect-Account"))
		switch r.URL.Path {
		case "/v1/issuing/cardholders":
			var req domain.ProviderCreateCardholderRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "Ada", req.FirstName)
			assert.Equal(t, "Lovelace King", req.LastName)
			_, _ = w.Write([]byte(`{"id":"ich_1","status":"active"}`))
		case "/v1/issuing/cards":
			var req issuing.CardRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "ich_1", req.Cardholder)
			assert.Equal(t, issuing.CardTypeVirtual, req.Type)
			assert.Equal(t, "Trip Fund", req.SecondLine)
			_, _ = w.Write([]byte(`{"id":"ic_1","last4":"4242","exp_month":3,"exp_year":2029,"cvc":"123"}`))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test")
	card, err := client.IssueCard(context.Background(), domain.IssueCardInput{
		ConnectAccountID: "acct_pool",
		CardholderName:   "Ada Lovelace King",
		Label:            "Trip Fund",
		Type:             issuing.CardTypeVirtual,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/v1/issuing/cardholders", "/v1/issuing/cards"}, order)
	assert.Equal(t, "ic_1", card.ID)
	assert.Equal(t, "ich_1", card.CardholderID)
	assert.Equal(t, "4242", card.LastFourDigits)
	assert.Equal(t, "03/29", card.Expiry)
	assert.Equal(t, "123", card.CVV)
}

func TestIssueCardValidatesBeforeCreatingCard(t *testing.T) {
	var order []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"ich_1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test")
	_, err := client.IssueCard(context.Background(), domain.IssueCardInput{
		ConnectAccountID: "acct_pool",
		CardholderName:   "Ada",
		Type:             issuing.CardTypePhysical,
	})

	var vErr *issuing.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, []string{"/v1/issuing/cardholders"}, order)
}

func TestUpdateCardholderStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/issuing/cardholders/ich_1", r.URL.Path)
		var req domain.ProviderUpdateCardholderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "inactive", req.Status)
		_, _ = w.Write([]byte(`{"id":"ich_1","status":"inactive"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test")
	require.NoError(t, client.UpdateCardholderStatus(context.Background(), "acct_pool", "ich_1", false))
}
