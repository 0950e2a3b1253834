// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package metering

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MadsRC/tenantmeter"
	"github.com/MadsRC/tenantmeter/internal/monitoring"
)

type alertKey struct {
	tenantID  string
	usageType tenantmeter.UsageType
}

// AlertDispatcher evaluates a tenant's governed usage against the alert
// thresholds and hands new breaches to a Notifier. Each threshold is sent at
// most once per tenant, usage type and month; a lower threshold is never sent
// after a higher one.
type AlertDispatcher struct {
	evaluator *QuotaEvaluator
	monitor   *AlertThresholdMonitor
	notifier  tenantmeter.Notifier
	logger    *slog.Logger
	metrics   *monitoring.UsageMetrics

	mu    sync.Mutex
	month time.Time
	sent  map[alertKey]float64
}

// DispatcherOption configures AlertDispatcher behavior
type DispatcherOption func(*AlertDispatcher)

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *AlertDispatcher) {
		d.logger = logger
	}
}

func WithDispatcherMetrics(metrics *monitoring.UsageMetrics) DispatcherOption {
	return func(d *AlertDispatcher) {
		d.metrics = metrics
	}
}

// NewAlertDispatcher creates a new AlertDispatcher
func NewAlertDispatcher(
	evaluator *QuotaEvaluator,
	monitor *AlertThresholdMonitor,
	notifier tenantmeter.Notifier,
	options ...DispatcherOption,
) *AlertDispatcher {
	d := &AlertDispatcher{
		evaluator: evaluator,
		monitor:   monitor,
		notifier:  notifier,
		logger:    slog.Default(),
		sent:      make(map[alertKey]float64),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// Current returns the highest threshold the tenant has reached for usageType
// this month without notifying anyone. A nil breach means none was reached
// or the usage type is not limited.
func (d *AlertDispatcher) Current(ctx context.Context, tenantID string, usageType tenantmeter.UsageType) (*tenantmeter.ThresholdBreach, error) {
	breach, _, err := d.evaluate(ctx, tenantID, usageType)
	return breach, err
}

// Dispatch notifies the tenant's highest reached threshold if it has not been
// notified this month, and returns the breach it notified.
func (d *AlertDispatcher) Dispatch(ctx context.Context, tenantID string, usageType tenantmeter.UsageType) (*tenantmeter.ThresholdBreach, error) {
	breach, month, err := d.evaluate(ctx, tenantID, usageType)
	if err != nil || breach == nil {
		return nil, err
	}

	key := alertKey{tenantID: tenantID, usageType: usageType}
	previous, claimed := d.claim(key, month, breach.Threshold)
	if !claimed {
		return nil, nil
	}

	if err := d.notifier.Notify(ctx, tenantID, usageType, breach.Threshold); err != nil {
		d.release(key, month, breach.Threshold, previous)
		d.logger.Error("Failed to send threshold alert",
			"tenantID", tenantID,
			"usageType", usageType,
			"threshold", breach.Threshold,
			"error", err)
		return nil, fmt.Errorf("failed to notify threshold breach: %w", err)
	}

	d.metrics.RecordThresholdBreach(ctx, usageType.String(), breach.Threshold)
	d.logger.Info("Threshold alert sent",
		"tenantID", tenantID,
		"usageType", usageType,
		"threshold", breach.Threshold,
		"current", breach.Current,
		"limit", breach.Limit)
	return breach, nil
}

func (d *AlertDispatcher) evaluate(ctx context.Context, tenantID string, usageType tenantmeter.UsageType) (*tenantmeter.ThresholdBreach, time.Time, error) {
	res, err := d.evaluator.evaluate(ctx, tenantID, usageType)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !res.Governed || res.Usage == nil {
		return nil, time.Time{}, nil
	}

	breaches := d.monitor.Evaluate(res.Current, res.Limit)
	if len(breaches) == 0 {
		return nil, res.Usage.Start, nil
	}
	return &breaches[0], res.Usage.Start, nil
}

// claim marks threshold as sent unless it or a higher one already was
func (d *AlertDispatcher) claim(key alertKey, month time.Time, threshold float64) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if month.After(d.month) {
		d.month = month
		d.sent = make(map[alertKey]float64)
	} else if month.Before(d.month) {
		return 0, false
	}

	previous := d.sent[key]
	if previous >= threshold {
		return previous, false
	}
	d.sent[key] = threshold
	return previous, true
}

func (d *AlertDispatcher) release(key alertKey, month time.Time, threshold, previous float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !month.Equal(d.month) || d.sent[key] != threshold {
		return
	}
	if previous == 0 {
		delete(d.sent, key)
		return
	}
	d.sent[key] = previous
}
