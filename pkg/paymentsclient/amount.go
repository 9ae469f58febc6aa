package paymentsclient

import (
	"errors"
	"math"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var (
	ErrNonPositiveAmount = errors.New("amount must be positive")
	ErrSubCentAmount     = errors.New("amount cannot have more than two decimal places")
	ErrAmountTooLarge    = errors.New("amount exceeds the largest representable value")
)

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// ToMinorUnits converts a dollar amount to cents.
func ToMinorUnits(amount decimal.Decimal) (*money.Money, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return nil, ErrSubCentAmount
	}
	cents := amount.Shift(2)
	if cents.GreaterThan(maxMinorUnits) {
		return nil, ErrAmountTooLarge
	}
	return money.New(cents.IntPart(), money.USD), nil
}

// FromMinorUnits converts cents back to a dollar amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
