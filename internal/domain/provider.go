package domain

import (
	"github.com/Pool-labs/Pool/pkg/issuing"
	"github.com/shopspring/decimal"
)

// Payments provider request and response shapes.

type ProviderCreateCustomerRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type ProviderCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type ProviderCapability struct {
	Requested bool `json:"requested"`
}

type ProviderCreateConnectAccountRequest struct {
	Name         string                        `json:"name"`
	Type         string                        `json:"type"`
	Country      string                        `json:"country"`
	Capabilities map[string]ProviderCapability `json:"capabilities"`
}

type ProviderConnectAccount struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
}

type ProviderBankAccount struct {
	AccountHolderName string `json:"account_holder_name"`
	AccountHolderType string `json:"account_holder_type"`
	AccountNumber     string `json:"account_number"`
	RoutingNumber     string `json:"routing_number"`
}

type ProviderMandate struct {
	CustomerAcceptanceType string `json:"customer_acceptance_type"`
}

type ProviderCreateSetupIntentRequest struct {
	Customer          string              `json:"customer"`
	PaymentMethodType string              `json:"payment_method_type"`
	BankAccount       ProviderBankAccount `json:"us_bank_account"`
	Confirm           bool                `json:"confirm"`
	Mandate           ProviderMandate     `json:"mandate_data"`
}

type ProviderSetupIntent struct {
	ID            string `json:"id"`
	Status        string `json:"status,omitempty"`
	PaymentMethod string `json:"payment_method"`
}

type ProviderMicrodepositVerification struct {
	DescriptorCode string `json:"descriptor_code"`
}

type ProviderConfirmSetupIntentRequest struct {
	PaymentMethod string                           `json:"payment_method"`
	Verification  ProviderMicrodepositVerification `json:"verification"`
}

type ProviderCreatePaymentIntentRequest struct {
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	Customer           string `json:"customer"`
	PaymentMethod      string `json:"payment_method"`
	DestinationAccount string `json:"destination_account"`
	Confirm            bool   `json:"confirm"`
}

type ProviderPaymentIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

type ProviderCreateCardholderRequest struct {
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Type      string `json:"type"`
}

type ProviderCardholder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type ProviderUpdateCardholderRequest struct {
	Status string `json:"status"`
}

type ProviderCard struct {
	ID       string `json:"id"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	CVC      string `json:"cvc"`
	Status   string `json:"status"`
}

type ProviderErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Adapter-level inputs and outputs used by the onboarding saga and services.

// FundingSetupIntent is a pending bank-account link awaiting confirmation.
type FundingSetupIntent struct {
	ID                     string
	PendingFundingMethodID string
}

// PaymentIntentInput describes a contribution from a member into a pool.
type PaymentIntentInput struct {
	CustomerID           string
	Amount               decimal.Decimal
	DestinationAccountID string
	FundingMethodID      string
}

// IssueCardInput describes a card issued against a pool's ledger account.
type IssueCardInput struct {
	ConnectAccountID string
	CardholderName   string
	Label            string
	Type             issuing.CardType
	SpendingControls *issuing.SpendingControls
	Shipping         *issuing.Shipping
	Metadata         map[string]string
}

// IssuedCard is the provider's answer to a card issuance.
type IssuedCard struct {
	ID             string
	CardholderID   string
	LastFourDigits string
	Expiry         string
	CVV            string
}
