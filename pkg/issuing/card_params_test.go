package issuing

import (
	"errors"
	"strings"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validShipping() *Shipping {
	return NewShipping("Pool Owner", Address{
		Line1:      "123 Main Street",
		City:       "Los Angeles",
		State:      "CA",
		PostalCode: "90001",
		Country:    "US",
	})
}

func TestCardParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  *CardParams
		wantErr string
	}{
		{
			name:   "valid virtual card",
			params: NewVirtualCard("ich_123"),
		},
		{
			name:   "valid physical card with shipping",
			params: NewPhysicalCard("ich_123").WithShipping(validShipping()),
		},
		{
			name:    "missing cardholder",
			params:  NewVirtualCard(""),
			wantErr: "cardholder ID is required",
		},
		{
			name:    "unknown card type",
			params:  NewCardParams("ich_123", CardType("plastic"), "usd", CardStatusActive),
			wantErr: "card type must be 'virtual' or 'physical'",
		},
		{
			name:    "uppercase currency",
			params:  NewCardParams("ich_123", CardTypeVirtual, "USD", CardStatusActive),
			wantErr: "currency must be a valid three-letter ISO currency code",
		},
		{
			name:    "four letter currency",
			params:  NewCardParams("ich_123", CardTypeVirtual, "usdc", CardStatusActive),
			wantErr: "currency must be a valid three-letter ISO currency code",
		},
		{
			name:    "unknown status",
			params:  NewCardParams("ich_123", CardTypeVirtual, "usd", CardStatus("frozen")),
			wantErr: "status must be 'active', 'inactive', or 'canceled'",
		},
		{
			name:   "empty status is allowed",
			params: NewCardParams("ich_123", CardTypeVirtual, "usd", ""),
		},
		{
			name:    "physical card without shipping",
			params:  NewPhysicalCard("ich_123"),
			wantErr: "shipping information is required for physical cards",
		},
		{
			name:    "physical card with empty shipping",
			params:  NewPhysicalCard("ich_123").WithShipping(&Shipping{}),
			wantErr: "shipping information is required for physical cards",
		},
		{
			name:   "second line at the limit",
			params: NewVirtualCard("ich_123").WithSecondLine(strings.Repeat("a", 25)),
		},
		{
			name:    "second line over the limit",
			params:  NewVirtualCard("ich_123").WithSecondLine(strings.Repeat("a", 26)),
			wantErr: "second line text cannot exceed 25 characters",
		},
		{
			name:    "replacement without reason",
			params:  NewVirtualCard("ich_123").AsReplacement("ic_old", ""),
			wantErr: "replacement reason is required when replacing a card",
		},
		{
			name:   "replacement with reason",
			params: NewVirtualCard("ich_123").AsReplacement("ic_old", ReplacementLost),
		},
		{
			name:   "replacement ignored without card id",
			params: NewVirtualCard("ich_123").AsReplacement("", ""),
		},
		{
			name:    "invalid nested shipping",
			params:  NewPhysicalCard("ich_123").WithShipping(NewShipping("Pool Owner", Address{Line1: "1 Road", City: "LA", State: "CA", PostalCode: "90001", Country: "usa"})),
			wantErr: "country must be a valid ISO 3166-1 alpha-2 code",
		},
		{
			name: "invalid nested spending controls",
			params: NewVirtualCard("ich_123").WithSpendingControls(
				NewSpendingControls([]SpendingLimit{{Amount: 0, Interval: IntervalDaily}}, nil, nil, nil, nil),
			),
			wantErr: "spending limit amount must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())

			var vErr *ValidationError
			assert.True(t, errors.As(err, &vErr))
		})
	}
}

func TestCardParamsValidationOrder(t *testing.T) {
	// Missing cardholder wins over every later rule.
	p := NewCardParams("", CardType("plastic"), "US", CardStatus("x")).
		WithSecondLine(strings.Repeat("b", 40)).
		AsReplacement("ic_old", "")

	err := p.Validate()
	require.Error(t, err)
	assert.Equal(t, "cardholder ID is required", err.Error())
}

func TestCardParamsBuildersIgnoreEmptyInput(t *testing.T) {
	base := NewVirtualCard("ich_123")
	want, err := base.ToRequestPayload()
	require.NoError(t, err)

	got, err := NewVirtualCard("ich_123").
		WithSecondLine("").
		WithShipping(nil).
		WithShipping(&Shipping{}).
		WithSpendingControls(nil).
		WithSpendingControls(&SpendingControls{}).
		WithMetadata(nil).
		WithPersonalizationDesign("").
		WithPin(nil).
		AsReplacement("", ReplacementLost).
		ToRequestPayload()
	require.NoError(t, err)

	assert.Equal(t, string(want), string(got))
}

func TestCardParamsPayloadIsDeterministic(t *testing.T) {
	build := func() *CardParams {
		return NewPhysicalCard("ich_123").
			WithShipping(validShipping()).
			WithSecondLine("Trip Fund").
			WithMetadata(map[string]string{"pool_id": "p1", "owner_id": "u1", "env": "test"}).
			WithSpendingControls(NewSpendingControls(
				[]SpendingLimit{{Amount: 5000, Interval: IntervalMonthly}},
				[]string{"restaurants"},
				nil,
				[]string{"US"},
				lo.ToPtr(int64(10000)),
			))
	}

	first, err := build().ToRequestPayload()
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		next, err := build().ToRequestPayload()
		require.NoError(t, err)
		require.Equal(t, string(first), string(next))
	}

	assert.JSONEq(t, `{
		"cardholder": "ich_123",
		"type": "physical",
		"currency": "usd",
		"status": "active",
		"second_line": "Trip Fund",
		"metadata": {"env": "test", "owner_id": "u1", "pool_id": "p1"},
		"shipping": {
			"name": "Pool Owner",
			"address": {"line1": "123 Main Street", "city": "Los Angeles", "state": "CA", "postal_code": "90001", "country": "US"},
			"service": "standard",
			"type": "business"
		},
		"spending_controls": {
			"spending_limits": [{"amount": 5000, "interval": "monthly"}],
			"allowed_categories": ["restaurants"],
			"allowed_authorization_controls": {"allowed_countries": ["US"]},
			"max_approval_amount": 10000
		}
	}`, string(first))
}

func TestCardParamsRequestIsACopy(t *testing.T) {
	p := NewVirtualCard("ich_123").WithMetadata(map[string]string{"pool_id": "p1"})
	req := p.Request()
	req.Metadata["pool_id"] = "changed"

	assert.Equal(t, "p1", p.Request().Metadata["pool_id"])
}
