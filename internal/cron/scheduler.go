package cron

import (
	"context"
	"time"

	"github.com/deskflow/billing/internal/config"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/logger"
	"github.com/deskflow/billing/internal/service"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
)

const (
	JobSubscriptionExpiry = "subscription_expiry"
	JobOverdueInvoices    = "overdue_invoices"
	JobCycleInvoices      = "cycle_invoices"

	// jobTimeout bounds one sweep run
	jobTimeout = 10 * time.Minute
)

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
}

// Scheduler runs the periodic sweeps in process. A job whose schedule is
// empty is not registered.
type Scheduler struct {
	cron   *cron.Cron
	jobs   map[string]job
	logger *logger.Logger
}

func NewScheduler(
	cfg *config.Configuration,
	logger *logger.Logger,
	subscriptions service.SubscriptionService,
	invoices service.InvoiceService,
) (*Scheduler, error) {
	cl := newCronLogger(logger)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:   make(map[string]job),
		logger: logger,
	}

	all := []job{
		{
			name:     JobSubscriptionExpiry,
			schedule: cfg.Subscription.ExpirySchedule,
			run: func(ctx context.Context) error {
				resp, err := subscriptions.ExpireDue(ctx)
				if err != nil {
					return err
				}
				logger.Infow("subscription expiry sweep finished", "expired", len(resp.Expired), "failed", len(resp.Failed))
				return nil
			},
		},
		{
			name:     JobOverdueInvoices,
			schedule: cfg.Invoice.OverdueSchedule,
			run: func(ctx context.Context) error {
				resp, err := invoices.NotifyOverdue(ctx)
				if err != nil {
					return err
				}
				logger.Infow("overdue invoice sweep finished", "notified", len(resp.Notified), "failed", len(resp.Failed))
				return nil
			},
		},
		{
			name:     JobCycleInvoices,
			schedule: cfg.Invoice.CycleSchedule,
			run: func(ctx context.Context) error {
				resp, err := invoices.GenerateCycleInvoices(ctx)
				if err != nil {
					return err
				}
				logger.Infow("cycle invoice run finished",
					"created", len(resp.Created),
					"skipped", len(resp.Skipped),
					"failed", len(resp.Failed))
				return nil
			},
		},
	}

	for _, j := range all {
		j := j
		if j.schedule == "" {
			logger.Infow("scheduled job disabled", "job", j.name)
			continue
		}
		if _, err := s.cron.AddFunc(j.schedule, func() { _ = s.Run(context.Background(), j.name) }); err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Invalid schedule %q for job %s", j.schedule, j.name).
				Mark(ierr.ErrValidation)
		}
		s.jobs[j.name] = j
	}

	return s, nil
}

// Jobs returns the names of the registered jobs
func (s *Scheduler) Jobs() []string {
	return lo.Keys(s.jobs)
}

// Run executes one registered job synchronously
func (s *Scheduler) Run(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return ierr.NewErrorf("unknown job %s", name).
			WithHint("The requested job is not scheduled").
			Mark(ierr.ErrNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	if err := j.run(ctx); err != nil {
		s.logger.Errorw("scheduled job failed", "job", name, "error", err, "duration", time.Since(start))
		return err
	}
	s.logger.Debugw("scheduled job completed", "job", name, "duration", time.Since(start))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Infow("scheduler started", "jobs", s.Jobs())
}

// Stop prevents new runs and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
