// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MadsRC/tenantmeter"
	"github.com/MadsRC/tenantmeter/internal/monitoring"
	"github.com/coder/quartz"
)

// AlertDispatcher sends threshold alerts for one tenant and usage type
type AlertDispatcher interface {
	Dispatch(ctx context.Context, tenantID string, usageType tenantmeter.UsageType) (*tenantmeter.ThresholdBreach, error)
}

// Scheduler periodically sweeps every organization for threshold breaches,
// so usage written by other processes still raises alerts.
type Scheduler struct {
	logger     *slog.Logger
	clock      quartz.Clock
	metrics    *monitoring.UsageMetrics
	interval   time.Duration
	orgs       tenantmeter.OrganizationRepository
	dispatcher AlertDispatcher
	usageTypes []tenantmeter.UsageType

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// SchedulerOption configures Scheduler behavior
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger for the scheduler
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSchedulerClock sets the clock driving the sweep ticker
func WithSchedulerClock(clock quartz.Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

func WithSchedulerMetrics(metrics *monitoring.UsageMetrics) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

// WithSweepInterval sets how often the alert sweep runs. Defaults to five minutes.
func WithSweepInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

// NewScheduler creates a new Scheduler that checks usageTypes for every
// organization in orgs.
func NewScheduler(
	orgs tenantmeter.OrganizationRepository,
	dispatcher AlertDispatcher,
	usageTypes []tenantmeter.UsageType,
	options ...SchedulerOption,
) *Scheduler {
	s := &Scheduler{
		logger:     slog.Default(),
		clock:      quartz.NewReal(),
		interval:   5 * time.Minute,
		orgs:       orgs,
		dispatcher: dispatcher,
		usageTypes: usageTypes,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Start begins the scheduler's background operations
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler")

	go s.run(ctx)
}

// Stop gracefully shuts down the scheduler. It must only be called after Start.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background scheduler")
	s.stopOnce.Do(func() { close(s.stopChan) })
	<-s.doneChan
	s.logger.Info("Background scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneChan)

	ticker := s.clock.NewTicker(s.interval, "scheduler", "alertSweep")
	defer ticker.Stop()

	s.logger.Info("Scheduler started", "alertSweepInterval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled")
			return

		case <-s.stopChan:
			s.logger.Info("Scheduler stop signal received")
			return

		case <-ticker.C:
			s.runAlertSweep(ctx)
		}
	}
}

func (s *Scheduler) runAlertSweep(ctx context.Context) {
	s.logger.Debug("Running scheduled alert sweep")
	start := s.clock.Now()

	sent, err := s.SweepAlerts(ctx)
	duration := s.clock.Since(start)
	s.metrics.RecordAlertSweepDuration(ctx, duration)
	if err != nil {
		s.logger.Error("Alert sweep failed", "error", err, "duration", duration, "alertsSent", sent)
		return
	}

	s.logger.Info("Alert sweep completed", "duration", duration, "alertsSent", sent)
}

// SweepAlerts runs the dispatcher for every organization and usage type and
// returns how many alerts were sent. A failure for one tenant does not stop
// the sweep; all failures are returned joined.
func (s *Scheduler) SweepAlerts(ctx context.Context) (int, error) {
	orgs, err := s.orgs.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list organizations: %w", err)
	}

	var (
		sent int
		errs []error
	)
	for _, org := range orgs {
		for _, usageType := range s.usageTypes {
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			breach, err := s.dispatcher.Dispatch(ctx, org.ID, usageType)
			if err != nil {
				errs = append(errs, fmt.Errorf("tenant %s %s: %w", org.ID, usageType, err))
				continue
			}
			if breach != nil {
				sent++
			}
		}
	}
	return sent, errors.Join(errs...)
}
