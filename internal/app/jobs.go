package app

import (
	"context"
	"time"

	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// AttemptLister lists onboarding attempts whose external ids were never linked.
type AttemptLister interface {
	ListUnreconciled(ctx context.Context) ([]domain.OnboardingAttempt, error)
}

// OrphanReport summarises unreconciled onboarding attempts.
type OrphanReport struct {
	Total          int            `json:"total"`
	ByFailedStep   map[string]int `json:"by_failed_step"`
	CustomerIDs    []string       `json:"customer_ids"`
	FundingMethods []string       `json:"funding_method_ids"`
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	attempts AttemptLister
	timeout  time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(attempts AttemptLister) *Jobs {
	return &Jobs{attempts: attempts, timeout: 30 * time.Second}
}

// BuildOrphanReport reads the unreconciled attempts and groups them. It only
// reports; nothing at the provider is touched.
func (j *Jobs) BuildOrphanReport(ctx context.Context) (*OrphanReport, error) {
	attempts, err := j.attempts.ListUnreconciled(ctx)
	if err != nil {
		return nil, err
	}

	report := &OrphanReport{
		Total:        len(attempts),
		ByFailedStep: lo.CountValuesBy(attempts, func(a domain.OnboardingAttempt) string { return a.FailedStep }),
		CustomerIDs: lo.Uniq(lo.FilterMap(attempts, func(a domain.OnboardingAttempt, _ int) (string, bool) {
			return a.CustomerID, a.CustomerID != ""
		})),
		FundingMethods: lo.Uniq(lo.FilterMap(attempts, func(a domain.OnboardingAttempt, _ int) (string, bool) {
			return a.FundingMethodID, a.FundingMethodID != ""
		})),
	}
	return report, nil
}

// ReportOrphanedOnboarding logs external ids left behind by failed onboarding runs.
func (j *Jobs) ReportOrphanedOnboarding() {
	log.Info().Str("component", "jobs").Msg("starting orphaned onboarding report job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	report, err := j.BuildOrphanReport(ctx)
	if err != nil {
		log.Error().Err(err).Str("component", "jobs").Msg("failed to list unreconciled onboarding attempts")
		return
	}

	if report.Total == 0 {
		log.Info().Str("component", "jobs").Msg("no orphaned onboarding attempts")
		return
	}

	log.Warn().Str("component", "jobs").
		Int("total", report.Total).
		Interface("by_failed_step", report.ByFailedStep).
		Strs("customer_ids", report.CustomerIDs).
		Strs("funding_method_ids", report.FundingMethods).
		Msg("orphaned onboarding attempts need reconciliation")

	log.Info().Str("component", "jobs").Msg("orphaned onboarding report job finished")
}
