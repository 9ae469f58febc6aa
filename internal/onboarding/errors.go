package onboarding

import (
	"errors"
	"fmt"
	"strings"
)

// Step names a stage of the funding-link saga.
type Step string

const (
	StepCreateCustomer           Step = "CREATE_CUSTOMER"
	StepCreateFundingSetupIntent Step = "CREATE_FUNDING_SETUP_INTENT"
	StepConfirmFundingSetup      Step = "CONFIRM_FUNDING_SETUP"
	StepPersistAccount           Step = "PERSIST_ACCOUNT"
	StepPersistProfileFields     Step = "PERSIST_PROFILE_FIELDS"
	StepDone                     Step = "DONE"
)

// ErrOnboardingInProgress is returned when a run for the same uid is already in flight.
var ErrOnboardingInProgress = errors.New("onboarding already in progress for this user")

// ErrAlreadyOnboarded is returned when the user's account already has a linked
// funding source.
var ErrAlreadyOnboarded = errors.New("account already has a linked funding source")

// ErrMissingOutput is the cause recorded when a provider call succeeded but
// left out a field the next step needs.
var ErrMissingOutput = errors.New("provider response is missing a required field")

// ValidationError rejects saga input before any external call is made.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required onboarding fields: %s", strings.Join(e.Fields, ", "))
}

// PartialCompletion lists provider-side objects created by a failed run that
// no account references.
type PartialCompletion struct {
	CustomerID      string `json:"customer_id,omitempty"`
	SetupIntentID   string `json:"setup_intent_id,omitempty"`
	FundingMethodID string `json:"funding_method_id,omitempty"`
}

// IsEmpty reports whether the failed run created nothing externally.
func (p PartialCompletion) IsEmpty() bool {
	return p.CustomerID == "" && p.SetupIntentID == "" && p.FundingMethodID == ""
}

// SagaError is the single failure a saga run reports. Nothing created
// before Step is rolled back.
type SagaError struct {
	Step    Step
	Cause   error
	Partial PartialCompletion
}

func (e *SagaError) Error() string {
	return fmt.Sprintf("onboarding failed at %s: %v", e.Step, e.Cause)
}

func (e *SagaError) Unwrap() error {
	return e.Cause
}
