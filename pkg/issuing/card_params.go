/**
 * @description
 * Package issuing assembles card-issuance requests for the payments provider.
 * Builders are chainable and ignore absent input; Validate must be called
 * after every With* call and before the request leaves the process.
 */
package issuing

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

// CardType is the form factor of an issued card.
type CardType string

const (
	CardTypeVirtual  CardType = "virtual"
	CardTypePhysical CardType = "physical"
)

// CardStatus is the status requested at issuance.
type CardStatus string

const (
	CardStatusActive   CardStatus = "active"
	CardStatusInactive CardStatus = "inactive"
	CardStatusCanceled CardStatus = "canceled"
)

// ReplacementReason explains why a card replaces an existing one.
type ReplacementReason string

const (
	ReplacementDamaged ReplacementReason = "damaged"
	ReplacementExpired ReplacementReason = "expired"
	ReplacementLost    ReplacementReason = "lost"
	ReplacementStolen  ReplacementReason = "stolen"
)

const (
	DefaultCurrency     = "usd"
	maxSecondLineLength = 25
)

var currencyPattern = regexp.MustCompile(`^[a-z]{3}$`)

// PinVerification holds the one-time code used to set a PIN.
type PinVerification struct {
	OneTimeCode string `json:"one_time_code"`
}

// Pin carries an encrypted PIN for a new card.
type Pin struct {
	EncryptedNumber string           `json:"encrypted_number,omitempty"`
	Verification    *PinVerification `json:"verification,omitempty"`
}

// CardRequest is the wire form of a card-issuance request.
type CardRequest struct {
	Cardholder            string            `json:"cardholder"`
	Type                  CardType          `json:"type"`
	Currency              string            `json:"currency"`
	Status                CardStatus        `json:"status,omitempty"`
	SpendingControls      *SpendingControls `json:"spending_controls,omitempty"`
	SecondLine            string            `json:"second_line,omitempty"`
	Shipping              *Shipping         `json:"shipping,omitempty"`
	ReplacementFor        string            `json:"replacement_for,omitempty"`
	ReplacementReason     ReplacementReason `json:"replacement_reason,omitempty"`
	Pin                   *Pin              `json:"pin,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	PersonalizationDesign string            `json:"personalization_design,omitempty"`
}

// CardParams accumulates a card-issuance request.
type CardParams struct {
	req CardRequest
}

// NewCardParams starts a request for the given cardholder. An empty currency
// falls back to usd.
func NewCardParams(cardholder string, cardType CardType, currency string, status CardStatus) *CardParams {
	if currency == "" {
		currency = DefaultCurrency
	}
	return &CardParams{req: CardRequest{
		Cardholder: cardholder,
		Type:       cardType,
		Currency:   currency,
		Status:     status,
	}}
}

// NewVirtualCard starts an active usd virtual card request.
func NewVirtualCard(cardholder string) *CardParams {
	return NewCardParams(cardholder, CardTypeVirtual, DefaultCurrency, CardStatusActive)
}

// NewPhysicalCard starts an active usd physical card request. Shipping must
// be added before it validates.
func NewPhysicalCard(cardholder string) *CardParams {
	return NewCardParams(cardholder, CardTypePhysical, DefaultCurrency, CardStatusActive)
}

func (p *CardParams) WithSpendingControls(controls *SpendingControls) *CardParams {
	if !controls.IsEmpty() {
		p.req.SpendingControls = controls
	}
	return p
}

func (p *CardParams) WithSecondLine(text string) *CardParams {
	if text != "" {
		p.req.SecondLine = text
	}
	return p
}

func (p *CardParams) WithShipping(shipping *Shipping) *CardParams {
	if !shipping.IsEmpty() {
		p.req.Shipping = shipping
	}
	return p
}

func (p *CardParams) WithMetadata(metadata map[string]string) *CardParams {
	if len(metadata) > 0 {
		p.req.Metadata = lo.Assign(p.req.Metadata, metadata)
	}
	return p
}

func (p *CardParams) WithPersonalizationDesign(designID string) *CardParams {
	if designID != "" {
		p.req.PersonalizationDesign = designID
	}
	return p
}

func (p *CardParams) WithPin(pin *Pin) *CardParams {
	if pin != nil {
		p.req.Pin = pin
	}
	return p
}

// AsReplacement marks the request as replacing cardID. It is a no-op when
// cardID is empty.
func (p *CardParams) AsReplacement(cardID string, reason ReplacementReason) *CardParams {
	if cardID != "" {
		p.req.ReplacementFor = cardID
		p.req.ReplacementReason = reason
	}
	return p
}

// Validate reports the first rule the accumulated request breaks.
func (p *CardParams) Validate() error {
	r := p.req
	if strings.TrimSpace(r.Cardholder) == "" {
		return invalid("cardholder", "cardholder ID is required")
	}
	if r.Type != CardTypeVirtual && r.Type != CardTypePhysical {
		return invalid("type", "card type must be 'virtual' or 'physical'")
	}
	if !currencyPattern.MatchString(r.Currency) {
		return invalid("currency", "currency must be a valid three-letter ISO currency code")
	}
	if r.Status != "" && r.Status != CardStatusActive && r.Status != CardStatusInactive && r.Status != CardStatusCanceled {
		return invalid("status", "status must be 'active', 'inactive', or 'canceled'")
	}
	if r.Type == CardTypePhysical && r.Shipping == nil {
		return invalid("shipping", "shipping information is required for physical cards")
	}
	if utf8.RuneCountInString(r.SecondLine) > maxSecondLineLength {
		return invalid("second_line", fmt.Sprintf("second line text cannot exceed %d characters", maxSecondLineLength))
	}
	if r.ReplacementFor != "" && r.ReplacementReason == "" {
		return invalid("replacement_reason", "replacement reason is required when replacing a card")
	}
	if r.Shipping != nil {
		if err := r.Shipping.Validate(); err != nil {
			return err
		}
	}
	if r.SpendingControls != nil {
		if err := r.SpendingControls.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Request returns a copy of the accumulated request.
func (p *CardParams) Request() CardRequest {
	out := p.req
	if p.req.Metadata != nil {
		out.Metadata = lo.Assign(p.req.Metadata)
	}
	return out
}

// ToRequestPayload encodes the request. The encoding depends only on the
// accumulated state, so equal builders yield identical bytes.
func (p *CardParams) ToRequestPayload() ([]byte, error) {
	return json.Marshal(p.req)
}
