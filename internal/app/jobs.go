/**
 * @description
 * Scheduled jobs for the wallet service and the cron scheduler that runs them.
 */
package app

import (
	"context"
	"time"

	"github.com/Paygig/paygig-data-wallet/internal/domain"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	reports    *ReportService
	dispatcher *Dispatcher
	logger     logrus.FieldLogger
	minAge     time.Duration
	now        func() time.Time
}

// NewJobs creates a job runner. Pending deposits younger than minAge are left out of
// the digest so the admin is only reminded about requests they have had time to act on.
func NewJobs(reports *ReportService, dispatcher *Dispatcher, logger logrus.FieldLogger, minAge time.Duration) *Jobs {
	return &Jobs{
		reports:    reports,
		dispatcher: dispatcher,
		logger:     logger.WithField("component", "jobs"),
		minAge:     minAge,
		now:        time.Now,
	}
}

// SendPendingDigest reminds the admin channel about deposits still awaiting a decision.
func (j *Jobs) SendPendingDigest() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pending, err := j.reports.StalePendingDeposits(ctx, j.now().Add(-j.minAge))
	if err != nil {
		j.logger.WithError(err).Error("failed to load pending deposits for digest")
		return
	}
	if len(pending) == 0 {
		j.logger.Debug("no stale pending deposits")
		return
	}

	j.dispatcher.Dispatch(domain.Notification{
		Kind:       domain.NotifyPendingDigest,
		Pending:    pending,
		OccurredAt: j.now().UTC(),
	})
	j.logger.WithField("count", len(pending)).Info("pending deposit digest dispatched")
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron           *cron.Cron
	jobs           *Jobs
	logger         logrus.FieldLogger
	digestSchedule string
}

// NewScheduler creates a scheduler. An empty digestSchedule disables the digest.
func NewScheduler(jobs *Jobs, logger logrus.FieldLogger, digestSchedule string) *Scheduler {
	logger = logger.WithField("component", "scheduler")
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger))))
	return &Scheduler{
		cron:           c,
		jobs:           jobs,
		logger:         logger,
		digestSchedule: digestSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if s.digestSchedule != "" {
		if _, err := s.cron.AddFunc(s.digestSchedule, s.jobs.SendPendingDigest); err != nil {
			return err
		}
		s.logger.WithField("schedule", s.digestSchedule).Info("scheduled pending deposit digest")
	}
	s.cron.Start()
	return nil
}

// Stop stops the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
