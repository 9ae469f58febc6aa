/**
 * @description
 * This package provides a client for the payments and card-issuing provider.
 * It wraps each provider operation in a single authenticated HTTP round trip
 * and normalizes responses into domain types.
 *
 * @dependencies
 * - github.com/Pool-labs/Pool/internal/domain: provider request/response structs.
 * - github.com/Pool-labs/Pool/pkg/issuing: card request builder and validation.
 * - github.com/rs/zerolog: request logging.
 *
 * @notes
 * - Calls are never retried. A non-2xx response becomes an *APIError carrying
 *   the provider's own message.
 */
package paymentsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/pkg/issuing"
	"github.com/rs/zerolog/log"
)

const (
	connectAccountHeader = "X-Connect-Account"
	// Descriptor code used to verify test-mode microdeposits.
	testDescriptorCode = "SM11AA"
)

// Client is a client for interacting with the payments provider API.
type Client struct {
	BaseURL    string
	APIKey     string
	httpClient *http.Client
}

// NewClient creates a new payments provider client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateCustomer registers a funding customer for the given email and name.
func (c *Client) CreateCustomer(ctx context.Context, email, name string) (*domain.ProviderCustomer, error) {
	req := domain.ProviderCreateCustomerRequest{Email: email, Name: name}
	var resp domain.ProviderCustomer
	if err := c.do(ctx, http.MethodPost, "/v1/customers", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCustomer fetches a funding customer by id.
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*domain.ProviderCustomer, error) {
	var resp domain.ProviderCustomer
	if err := c.do(ctx, http.MethodGet, "/v1/customers/"+customerID, "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateConnectAccount opens a custom US merchant account that backs a pool's ledger.
func (c *Client) CreateConnectAccount(ctx context.Context, name string) (*domain.ProviderConnectAccount, error) {
	req := domain.ProviderCreateConnectAccountRequest{
		Name:    name,
		Type:    "custom",
		Country: "US",
		Capabilities: map[string]domain.ProviderCapability{
			"card_issuing":                 {Requested: true},
			"card_payments":                {Requested: true},
			"transfers":                    {Requested: true},
			"us_bank_account_ach_payments": {Requested: true},
		},
	}
	var resp domain.ProviderConnectAccount
	if err := c.do(ctx, http.MethodPost, "/v1/connect_accounts", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetConnectAccount fetches a connect account by id.
func (c *Client) GetConnectAccount(ctx context.Context, accountID string) (*domain.ProviderConnectAccount, error) {
	var resp domain.ProviderConnectAccount
	if err := c.do(ctx, http.MethodGet, "/v1/connect_accounts/"+accountID, "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateFundingSetupIntent starts linking a US bank account to the customer.
// The returned pending funding method id must be confirmed before use.
func (c *Client) CreateFundingSetupIntent(ctx context.Context, customerID, accountHolderName, accountNumber, routingNumber string) (*domain.FundingSetupIntent, error) {
	req := domain.ProviderCreateSetupIntentRequest{
		Customer:          customerID,
		PaymentMethodType: "us_bank_account",
		BankAccount: domain.ProviderBankAccount{
			AccountHolderName: accountHolderName,
			AccountHolderType: "individual",
			AccountNumber:     accountNumber,
			RoutingNumber:     routingNumber,
		},
		Confirm: true,
		Mandate: domain.ProviderMandate{CustomerAcceptanceType: "offline"},
	}
	var resp domain.ProviderSetupIntent
	if err := c.do(ctx, http.MethodPost, "/v1/setup_intents", "", req, &resp); err != nil {
		return nil, err
	}
	return &domain.FundingSetupIntent{ID: resp.ID, PendingFundingMethodID: resp.PaymentMethod}, nil
}

// ConfirmFundingSetupIntent confirms the setup intent and verifies its
// microdeposits, returning the confirmed funding method id. An empty id means
// the provider did not confirm the method.
func (c *Client) ConfirmFundingSetupIntent(ctx context.Context, setupIntentID, fundingMethodID string) (string, error) {
	req := domain.ProviderConfirmSetupIntentRequest{
		PaymentMethod: fundingMethodID,
		Verification:  domain.ProviderMicrodepositVerification{DescriptorCode: testDescriptorCode},
	}
	var resp domain.ProviderSetupIntent
	if err := c.do(ctx, http.MethodPost, "/v1/setup_intents/"+setupIntentID+"/confirm", "", req, &resp); err != nil {
		return "", err
	}
	return resp.PaymentMethod, nil
}

// CreatePaymentIntent moves funds from a customer's funding method into a
// connect account.
func (c *Client) CreatePaymentIntent(ctx context.Context, in domain.PaymentIntentInput) (*domain.ProviderPaymentIntent, error) {
	amount, err := ToMinorUnits(in.Amount)
	if err != nil {
		return nil, err
	}
	req := domain.ProviderCreatePaymentIntentRequest{
		Amount:             amount.Amount(),
		Currency:           strings.ToLower(amount.Currency().Code),
		Customer:           in.CustomerID,
		PaymentMethod:      in.FundingMethodID,
		DestinationAccount: in.DestinationAccountID,
		Confirm:            true,
	}
	var resp domain.ProviderPaymentIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", "", req, &resp); err != nil {
		return nil, err
	}
	log.Info().Str("payment_intent_id", resp.ID).Str("amount", amount.Display()).Msg("payment intent created")
	return &resp, nil
}

// CreateCardholder registers a cardholder under a connect account.
func (c *Client) CreateCardholder(ctx context.Context, connectAccountID, name string) (*domain.ProviderCardholder, error) {
	first, last, _ := strings.Cut(strings.TrimSpace(name), " ")
	req := domain.ProviderCreateCardholderRequest{
		Name:      name,
		FirstName: first,
		LastName:  strings.TrimSpace(last),
		Type:      "individual",
	}
	var resp domain.ProviderCardholder
	if err := c.do(ctx, http.MethodPost, "/v1/issuing/cardholders", connectAccountID, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateCardholderStatus activates or deactivates a cardholder.
func (c *Client) UpdateCardholderStatus(ctx context.Context, connectAccountID, cardholderID string, active bool) error {
	status := "inactive"
	if active {
		status = "active"
	}
	req := domain.ProviderUpdateCardholderRequest{Status: status}
	return c.do(ctx, http.MethodPost, "/v1/issuing/cardholders/"+cardholderID, connectAccountID, req, nil)
}

// CreateCard submits a validated card request under a connect account.
func (c *Client) CreateCard(ctx context.Context, connectAccountID string, params *issuing.CardParams) (*domain.ProviderCard, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	var resp domain.ProviderCard
	if err := c.do(ctx, http.MethodPost, "/v1/issuing/cards", connectAccountID, params.Request(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IssueCard creates a cardholder and a card for it. The label is printed as
// the card's second line.
func (c *Client) IssueCard(ctx context.Context, in domain.IssueCardInput) (*domain.IssuedCard, error) {
	cardholder, err := c.CreateCardholder(ctx, in.ConnectAccountID, in.CardholderName)
	if err != nil {
		return nil, fmt.Errorf("failed to create cardholder: %w", err)
	}

	params := issuing.NewCardParams(cardholder.ID, in.Type, issuing.DefaultCurrency, issuing.CardStatusActive).
		WithSpendingControls(in.SpendingControls).
		WithSecondLine(in.Label).
		WithShipping(in.Shipping).
		WithMetadata(in.Metadata)

	card, err := c.CreateCard(ctx, in.ConnectAccountID, params)
	if err != nil {
		return nil, err
	}

	return &domain.IssuedCard{
		ID:             card.ID,
		CardholderID:   cardholder.ID,
		LastFourDigits: card.Last4,
		Expiry:         fmt.Sprintf("%02d/%02d", card.ExpMonth, card.ExpYear%100),
		CVV:            card.CVC,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path, connectAccountID string, body, target interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	c.setHeaders(req, connectAccountID)

	log.Debug().Str("method", method).Str("path", path).Msg("payments API request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to payments provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode successful response: %w", err)
		}
	}
	return nil
}

// setHeaders adds the authentication, content-type and account-scoping headers.
func (c *Client) setHeaders(req *http.Request, connectAccountID string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if connectAccountID != "" {
		req.Header.Set(connectAccountHeader, connectAccountID)
	}
}

// handleErrorResponse reads the body of a failed call and returns an *APIError.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var parsed domain.ProviderErrorBody
	if json.Unmarshal(bodyBytes, &parsed) == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
		apiErr.Code = parsed.Error.Code
		apiErr.Type = parsed.Error.Type
	} else {
		apiErr.Message = strings.TrimSpace(string(bodyBytes))
	}
	log.Warn().Int("status", resp.StatusCode).Str("message", apiErr.Message).Msg("payments API returned an error")
	return apiErr
}
