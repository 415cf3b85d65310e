// Package scheduler drives the periodic billing sweeps: charging
// renewals that have come due and retiring cancelled subscriptions whose
// paid window has run out.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LifecycleProcessor is the slice of the subscription engine the
// scheduler drives.
type LifecycleProcessor interface {
	ProcessDueRenewals(ctx context.Context) error
	ProcessExpirations(ctx context.Context) error
}

// Scheduler runs the renewal and expiry sweeps on independent tickers.
// Both loops run an immediate sweep on Start so a restart never waits a
// full interval to catch up.
type Scheduler struct {
	logger          *slog.Logger
	processor       LifecycleProcessor
	renewalInterval time.Duration
	expiryInterval  time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func New(processor LifecycleProcessor, renewalInterval, expiryInterval time.Duration, logger *slog.Logger) *Scheduler {
	if renewalInterval <= 0 {
		renewalInterval = 10 * time.Minute
	}
	if expiryInterval <= 0 {
		expiryInterval = 5 * time.Minute
	}
	return &Scheduler{
		logger:          logger,
		processor:       processor,
		renewalInterval: renewalInterval,
		expiryInterval:  expiryInterval,
		stopCh:          make(chan struct{}),
	}
}

// Start launches both sweep loops. Safe to call once; later calls are
// no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.logger.InfoContext(ctx, "Starting billing scheduler",
			slog.Duration("renewal_interval", s.renewalInterval),
			slog.Duration("expiry_interval", s.expiryInterval))

		s.wg.Add(2)
		go s.loop(ctx, "renewals", s.renewalInterval, s.RunRenewalsOnce)
		go s.loop(ctx, "expiries", s.expiryInterval, s.RunExpiriesOnce)
	})
}

// Stop halts both loops and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Billing scheduler stopped")
}

// RunRenewalsOnce performs a single renewal sweep.
func (s *Scheduler) RunRenewalsOnce(ctx context.Context) {
	if err := s.processor.ProcessDueRenewals(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Renewal sweep failed", slog.Any("error", err))
	}
}

// RunExpiriesOnce performs a single expiry sweep.
func (s *Scheduler) RunExpiriesOnce(ctx context.Context) {
	if err := s.processor.ProcessExpirations(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Expiry sweep failed", slog.Any("error", err))
	}
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, sweep func(context.Context)) {
	defer s.wg.Done()

	sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.logger.Debug("Sweep loop stopping", slog.String("loop", name))
			return
		case <-ctx.Done():
			s.logger.Debug("Sweep loop context cancelled", slog.String("loop", name))
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}
