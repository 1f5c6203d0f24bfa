package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tirtabiz/tirta/internal/clock"
	invoicedomain "github.com/tirtabiz/tirta/internal/invoice/domain"
	obsmetrics "github.com/tirtabiz/tirta/internal/observability/metrics"
	subscriptiondomain "github.com/tirtabiz/tirta/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log             *zap.Logger
	Clock           clock.Clock
	InvoiceSvc      invoicedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Config          Config `optional:"true"`
}

// Scheduler drives the recurring billing work: invoice generation for
// the closed month, overdue sweeps, window settlement and pipe checks.
// Every job is idempotent, so overlapping runs across instances are
// safe, just wasteful.
type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	invoiceSvc      invoicedomain.Service
	subscriptionSvc subscriptiondomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.InvoiceSvc == nil || p.SubscriptionSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		clock:           p.Clock,
		invoiceSvc:      p.InvoiceSvc,
		subscriptionSvc: p.SubscriptionSvc,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// Soft timeout: the next tick picks the work back up.
		schedMetrics.IncJobTimeout(name)
		schedMetrics.IncJobError(name, err)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	schedMetrics.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"generate_invoices", s.GenerateInvoicesJob},
		{"sweep_overdue", s.SweepOverdueJob},
		{"settle_windows", s.SettleWindowsJob},
		{"pipe_check", s.PipeCheckJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		name := job.Name
		run := job.Run
		err = errors.Join(err, s.runJob(parent, name, run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// GenerateInvoicesJob bills the most recently closed calendar month.
// Uniqueness on (meter, period) makes reruns free.
func (s *Scheduler) GenerateInvoicesJob(ctx context.Context) error {
	period, err := invoicedomain.PreviousPeriod(invoicedomain.PeriodOf(s.clock.Now()))
	if err != nil {
		return err
	}

	result, err := s.invoiceSvc.GenerateForAllMeters(ctx, period)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		s.log.Warn("invoice generation had failures",
			zap.String("period", period),
			zap.Int("failed", result.Failed),
			zap.Strings("errors", result.Errors),
		)
	}
	return nil
}

func (s *Scheduler) SweepOverdueJob(ctx context.Context) error {
	_, err := s.invoiceSvc.SweepOverdue(ctx)
	return err
}

// SettleWindowsJob settles due windows for subscriptions whose meters
// went quiet: a zero-delta increment triggers the cadence check without
// recording usage.
func (s *Scheduler) SettleWindowsJob(ctx context.Context) error {
	subs, err := s.subscriptionSvc.ListActive(ctx)
	if err != nil {
		return err
	}

	var errs error
	for _, sub := range subs {
		if _, err := s.subscriptionSvc.IncrementUsage(ctx, sub.ID, 0); err != nil {
			errs = errors.Join(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
		}
	}
	return errs
}

func (s *Scheduler) PipeCheckJob(ctx context.Context) error {
	subs, err := s.subscriptionSvc.ListActive(ctx)
	if err != nil {
		return err
	}

	var errs error
	for _, sub := range subs {
		if _, err := s.subscriptionSvc.IsBalanceZero(ctx, sub.ID); err != nil {
			errs = errors.Join(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
		}
	}
	return errs
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, name := range s.cfg.EnabledJobs {
		if name == jobName {
			return true
		}
	}
	return false
}
