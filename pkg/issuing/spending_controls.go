package issuing

import (
	"fmt"

	"github.com/samber/lo"
)

// Spending limit intervals accepted by the provider.
const (
	IntervalPerAuthorization = "per_authorization"
	IntervalDaily            = "daily"
	IntervalWeekly           = "weekly"
	IntervalMonthly          = "monthly"
	IntervalYearly           = "yearly"
	IntervalAllTime          = "all_time"
)

var validIntervals = []string{
	IntervalPerAuthorization,
	IntervalDaily,
	IntervalWeekly,
	IntervalMonthly,
	IntervalYearly,
	IntervalAllTime,
}

// Merchant category codes the pool cards may be restricted to.
var validCategories = []string{
	"grocery_stores",
	"restaurants",
	"hotels_motels_and_resorts",
	"gambling",
	"cryptocurrency_services",
	"office_supply_stores",
}

// SpendingLimit caps spend over an interval. Amount is in minor units.
type SpendingLimit struct {
	Amount     int64    `json:"amount"`
	Interval   string   `json:"interval"`
	Categories []string `json:"categories,omitempty"`
}

// AuthorizationControls restricts where a card may be used.
type AuthorizationControls struct {
	AllowedCountries []string `json:"allowed_countries,omitempty"`
}

// SpendingControls bounds what a pool card can be used for.
type SpendingControls struct {
	SpendingLimits               []SpendingLimit        `json:"spending_limits,omitempty"`
	AllowedCategories            []string               `json:"allowed_categories,omitempty"`
	BlockedCategories            []string               `json:"blocked_categories,omitempty"`
	AllowedAuthorizationControls *AuthorizationControls `json:"allowed_authorization_controls,omitempty"`
	MaxApprovalAmount            *int64                 `json:"max_approval_amount,omitempty"`
}

// NewSpendingControls builds spending controls, leaving authorization
// controls unset when no countries are given.
func NewSpendingControls(limits []SpendingLimit, allowed, blocked, countries []string, maxApproval *int64) *SpendingControls {
	sc := &SpendingControls{
		SpendingLimits:    limits,
		AllowedCategories: allowed,
		BlockedCategories: blocked,
		MaxApprovalAmount: maxApproval,
	}
	if len(countries) > 0 {
		sc.AllowedAuthorizationControls = &AuthorizationControls{AllowedCountries: countries}
	}
	return sc
}

// IsEmpty reports whether the controls would add nothing to a request.
func (sc *SpendingControls) IsEmpty() bool {
	if sc == nil {
		return true
	}
	return len(sc.SpendingLimits) == 0 &&
		len(sc.AllowedCategories) == 0 &&
		len(sc.BlockedCategories) == 0 &&
		sc.AllowedAuthorizationControls == nil &&
		sc.MaxApprovalAmount == nil
}

// Validate checks limits, category codes and country codes.
func (sc *SpendingControls) Validate() error {
	for _, limit := range sc.SpendingLimits {
		if limit.Amount <= 0 {
			return invalid("spending_controls.spending_limits.amount", "spending limit amount must be positive")
		}
		if limit.Interval == "" {
			return invalid("spending_controls.spending_limits.interval", "spending limit interval is required")
		}
		if !lo.Contains(validIntervals, limit.Interval) {
			return invalid("spending_controls.spending_limits.interval", fmt.Sprintf("invalid spending limit interval: %s", limit.Interval))
		}
		if bad, ok := firstInvalidCategory(limit.Categories); ok {
			return invalid("spending_controls.spending_limits.categories", fmt.Sprintf("invalid merchant category code: %s", bad))
		}
	}
	if bad, ok := firstInvalidCategory(sc.AllowedCategories); ok {
		return invalid("spending_controls.allowed_categories", fmt.Sprintf("invalid allowed category code: %s", bad))
	}
	if bad, ok := firstInvalidCategory(sc.BlockedCategories); ok {
		return invalid("spending_controls.blocked_categories", fmt.Sprintf("invalid blocked category code: %s", bad))
	}
	if sc.AllowedAuthorizationControls != nil {
		for _, country := range sc.AllowedAuthorizationControls.AllowedCountries {
			if !countryCodePattern.MatchString(country) {
				return invalid("spending_controls.allowed_countries", "allowed countries must be valid ISO 3166-1 alpha-2 codes")
			}
		}
	}
	if sc.MaxApprovalAmount != nil && *sc.MaxApprovalAmount <= 0 {
		return invalid("spending_controls.max_approval_amount", "max approval amount must be positive")
	}
	return nil
}

func firstInvalidCategory(categories []string) (string, bool) {
	return lo.Find(categories, func(c string) bool {
		return !lo.Contains(validCategories, c)
	})
}
