/**
 * @description
 * Cron scheduler setup for the in-process scheduled jobs.
 */

package app

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron                 *cron.Cron
	jobs                 *Jobs
	fineSchedule         string
	requestSweepSchedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, fineSchedule, requestSweepSchedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:                 c,
		jobs:                 jobs,
		fineSchedule:         fineSchedule,
		requestSweepSchedule: requestSweepSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.fineSchedule, s.jobs.ApplySavingsFines); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule fine sweep\" schedule=%q err=%v", s.fineSchedule, err)
	} else {
		log.Printf("level=info component=scheduler msg=\"scheduled fine sweep\" schedule=%q", s.fineSchedule)
	}

	if _, err := s.cron.AddFunc(s.requestSweepSchedule, s.jobs.ExpireStalePushRequests); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule request sweep\" schedule=%q err=%v", s.requestSweepSchedule, err)
	} else {
		log.Printf("level=info component=scheduler msg=\"scheduled request sweep\" schedule=%q", s.requestSweepSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
