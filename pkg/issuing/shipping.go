package issuing

import (
	"regexp"
	"strings"
)

var (
	countryCodePattern = regexp.MustCompile(`^[A-Z]{2}$`)
	phonePattern       = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
)

// Address is a postal address for a physical card.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Customs carries optional customs declarations for international shipments.
type Customs struct {
	EAD          string `json:"ead,omitempty"`
	TariffNumber string `json:"tariff_number,omitempty"`
}

// Shipping describes where and how a physical card is delivered.
type Shipping struct {
	Name        string   `json:"name"`
	Address     Address  `json:"address"`
	Service     string   `json:"service,omitempty"`
	Type        string   `json:"type,omitempty"`
	Carrier     string   `json:"carrier,omitempty"`
	PhoneNumber string   `json:"phone_number,omitempty"`
	Customs     *Customs `json:"customs,omitempty"`
}

// NewShipping returns shipping details with the standard service level and a
// business delivery type.
func NewShipping(name string, address Address) *Shipping {
	return &Shipping{
		Name:    name,
		Address: address,
		Service: "standard",
		Type:    "business",
	}
}

// IsEmpty reports whether no shipping detail has been provided at all.
func (s *Shipping) IsEmpty() bool {
	return s == nil || (*s == Shipping{})
}

// Validate checks the recipient and address fields.
func (s *Shipping) Validate() error {
	switch {
	case strings.TrimSpace(s.Name) == "":
		return invalid("shipping.name", "recipient name is required")
	case strings.TrimSpace(s.Address.Line1) == "":
		return invalid("shipping.address.line1", "address line1 is required")
	case strings.TrimSpace(s.Address.City) == "":
		return invalid("shipping.address.city", "city is required")
	case strings.TrimSpace(s.Address.State) == "":
		return invalid("shipping.address.state", "state is required")
	case strings.TrimSpace(s.Address.PostalCode) == "":
		return invalid("shipping.address.postal_code", "postal code is required")
	case !countryCodePattern.MatchString(s.Address.Country):
		return invalid("shipping.address.country", "country must be a valid ISO 3166-1 alpha-2 code")
	case s.PhoneNumber != "" && !phonePattern.MatchString(s.PhoneNumber):
		return invalid("shipping.phone_number", "invalid phone number format")
	}
	return nil
}
