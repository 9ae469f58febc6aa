package issuing

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpendingControlsValidate(t *testing.T) {
	tests := []struct {
		name     string
		controls *SpendingControls
		wantErr  string
	}{
		{
			name: "valid limits and categories",
			controls: NewSpendingControls(
				[]SpendingLimit{{Amount: 100, Interval: IntervalDaily, Categories: []string{"grocery_stores"}}},
				[]string{"restaurants"},
				[]string{"gambling"},
				[]string{"US", "CA"},
				lo.ToPtr(int64(500)),
			),
		},
		{
			name:     "missing interval",
			controls: NewSpendingControls([]SpendingLimit{{Amount: 100}}, nil, nil, nil, nil),
			wantErr:  "spending limit interval is required",
		},
		{
			name:     "unknown interval",
			controls: NewSpendingControls([]SpendingLimit{{Amount: 100, Interval: "hourly"}}, nil, nil, nil, nil),
			wantErr:  "invalid spending limit interval: hourly",
		},
		{
			name:     "unknown limit category",
			controls: NewSpendingControls([]SpendingLimit{{Amount: 100, Interval: IntervalWeekly, Categories: []string{"casinos"}}}, nil, nil, nil, nil),
			wantErr:  "invalid merchant category code: casinos",
		},
		{
			name:     "unknown allowed category",
			controls: NewSpendingControls(nil, []string{"airlines"}, nil, nil, nil),
			wantErr:  "invalid allowed category code: airlines",
		},
		{
			name:     "unknown blocked category",
			controls: NewSpendingControls(nil, nil, []string{"bars"}, nil, nil),
			wantErr:  "invalid blocked category code: bars",
		},
		{
			name:     "lowercase country",
			controls: NewSpendingControls(nil, nil, nil, []string{"us"}, nil),
			wantErr:  "allowed countries must be valid ISO 3166-1 alpha-2 codes",
		},
		{
			name:     "non positive max approval",
			controls: NewSpendingControls(nil, nil, nil, nil, lo.ToPtr(int64(-1))),
			wantErr:  "max approval amount must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.controls.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestNewSpendingControlsLeavesCountriesUnset(t *testing.T) {
	sc := NewSpendingControls(nil, nil, nil, nil, nil)
	assert.Nil(t, sc.AllowedAuthorizationControls)
	assert.True(t, sc.IsEmpty())
}

func TestShippingValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Shipping)
		wantErr string
	}{
		{name: "valid", mutate: func(s *Shipping) {}},
		{name: "blank name", mutate: func(s *Shipping) { s.Name = "  " }, wantErr: "recipient name is required"},
		{name: "missing line1", mutate: func(s *Shipping) { s.Address.Line1 = "" }, wantErr: "address line1 is required"},
		{name: "missing city", mutate: func(s *Shipping) { s.Address.City = "" }, wantErr: "city is required"},
		{name: "missing state", mutate: func(s *Shipping) { s.Address.State = "" }, wantErr: "state is required"},
		{name: "missing postal code", mutate: func(s *Shipping) { s.Address.PostalCode = "" }, wantErr: "postal code is required"},
		{name: "bad phone", mutate: func(s *Shipping) { s.PhoneNumber = "0123" }, wantErr: "invalid phone number format"},
		{name: "good phone", mutate: func(s *Shipping) { s.PhoneNumber = "+14155550100" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validShipping()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}
