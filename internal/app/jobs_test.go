package app

import (
	"context"
	"testing"

	"github.com/Pool-labs/Pool/internal/config"
	"github.com/Pool-labs/Pool/internal/domain"
	"github.com/Pool-labs/Pool/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type attemptListerStub struct {
	attempts []domain.OnboardingAttempt
	err      error
	calls    int
}

func (s *attemptListerStub) ListUnreconciled(ctx context.Context) ([]domain.OnboardingAttempt, error) {
	s.calls++
	return s.attempts, s.err
}

func TestBuildOrphanReport(t *testing.T) {
	ds := store.NewMemoryStore()
	repo := store.NewAttemptRepository(ds)
	ctx := context.Background()

	for _, a := range []domain.OnboardingAttempt{
		{UID: "u1", FailedStep: "CONFIRM_FUNDING_SETUP", CustomerID: "cus_1", SetupIntentID: "seti_1"},
		{UID: "u2", FailedStep: "PERSIST_ACCOUNT", CustomerID: "cus_2", FundingMethodID: "pm_2"},
		{UID: "u3", FailedStep: "PERSIST_ACCOUNT", CustomerID: "cus_3", FundingMethodID: "pm_3"},
		{UID: "u4", FailedStep: "PERSIST_ACCOUNT", CustomerID: "cus_4", Reconciled: true},
	} {
		_, err := repo.RecordAttempt(ctx, &a)
		require.NoError(t, err)
	}

	report, err := NewJobs(repo).BuildOrphanReport(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, map[string]int{"CONFIRM_FUNDING_SETUP": 1, "PERSIST_ACCOUNT": 2}, report.ByFailedStep)
	assert.ElementsMatch(t, []string{"cus_1", "cus_2", "cus_3"}, report.CustomerIDs)
	assert.ElementsMatch(t, []string{"pm_2", "pm_3"}, report.FundingMethods)
}

func TestReportOrphanedOnboardingSurvivesErrors(t *testing.T) {
	stub := &attemptListerStub{err: errProvider}
	jobs := NewJobs(stub)

	assert.NotPanics(t, jobs.ReportOrphanedOnboarding)
	assert.Equal(t, 1, stub.calls)

	stub.err = nil
	assert.NotPanics(t, jobs.ReportOrphanedOnboarding)
	assert.Equal(t, 2, stub.calls)
}

func TestSchedulerStartAndStop(t *testing.T) {
	s := NewScheduler(NewJobs(&attemptListerStub{}), config.Config{OrphanReportSchedule: "@every 1h"})
	s.Start()
	<-s.Stop().Done()

	bad := NewScheduler(NewJobs(&attemptListerStub{}), config.Config{OrphanReportSchedule: "not a schedule"})
	assert.NotPanics(t, bad.Start)
	<-bad.Stop().Done()
}
