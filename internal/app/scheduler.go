/**
 * @description
 * Cron scheduler setup for the background reports.
 */
package app

import (
	"context"

	"github.com/Pool-labs/Pool/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(&log.Logger)
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.OrphanReportSchedule, s.jobs.ReportOrphanedOnboarding); err != nil {
		log.Error().Err(err).Str("component", "scheduler").Msg("failed to schedule orphaned onboarding report")
	} else {
		log.Info().Str("component", "scheduler").Str("schedule", s.config.OrphanReportSchedule).Msg("scheduled orphaned onboarding report")
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
