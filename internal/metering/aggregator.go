// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package metering

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/MadsRC/tenantmeter"
	"github.com/MadsRC/tenantmeter/internal/monitoring"
	"github.com/coder/quartz"
)

// WindowBounds returns the date range a window covers at now. Week is a
// rolling seven days; the other windows start on the calendar boundary.
func WindowBounds(window tenantmeter.Window, now time.Time) (tenantmeter.DateRange, error) {
	today := tenantmeter.Day(now)

	var start time.Time
	switch window {
	case tenantmeter.WindowDay:
		start = today
	case tenantmeter.WindowWeek:
		start = today.AddDate(0, 0, -7)
	case tenantmeter.WindowMonth:
		start = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	case tenantmeter.WindowYear:
		start = time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return tenantmeter.DateRange{}, fmt.Errorf("%w: unknown window %q", tenantmeter.ErrInvalidArgument, window)
	}

	return tenantmeter.DateRange{Start: start, End: today}, nil
}

// PeriodAggregator sums usage buckets over a window. Results are computed on
// every call and never cached.
type PeriodAggregator struct {
	store   tenantmeter.UsageBucketStore
	clock   quartz.Clock
	logger  *slog.Logger
	metrics *monitoring.UsageMetrics
}

// AggregatorOption configures PeriodAggregator behavior
type AggregatorOption func(*PeriodAggregator)

func WithAggregatorClock(clock quartz.Clock) AggregatorOption {
	return func(a *PeriodAggregator) {
		a.clock = clock
	}
}

func WithAggregatorLogger(logger *slog.Logger) AggregatorOption {
	return func(a *PeriodAggregator) {
		a.logger = logger
	}
}

func WithAggregatorMetrics(metrics *monitoring.UsageMetrics) AggregatorOption {
	return func(a *PeriodAggregator) {
		a.metrics = metrics
	}
}

// NewPeriodAggregator creates a new PeriodAggregator reading from store
func NewPeriodAggregator(store tenantmeter.UsageBucketStore, options ...AggregatorOption) *PeriodAggregator {
	a := &PeriodAggregator{
		store:  store,
		clock:  quartz.NewReal(),
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(a)
	}

	return a
}

// Aggregate sums the tenant's buckets over window. A tenant without any
// buckets yields an empty aggregate, not an error.
func (a *PeriodAggregator) Aggregate(ctx context.Context, tenantID string, window tenantmeter.Window) (*tenantmeter.PeriodAggregate, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", tenantmeter.ErrInvalidArgument)
	}
	agg, err := a.aggregate(ctx, window, func(r tenantmeter.DateRange) ([]*tenantmeter.UsageBucket, error) {
		return a.store.FindByTenant(ctx, tenantID, r)
	})
	if err != nil {
		a.logger.Error("Failed to aggregate tenant usage", "tenantID", tenantID, "window", window, "error", err)
		return nil, err
	}
	agg.TenantID = tenantID
	return agg, nil
}

// AggregateUser sums the user level buckets over window
func (a *PeriodAggregator) AggregateUser(ctx context.Context, userID string, window tenantmeter.Window) (*tenantmeter.PeriodAggregate, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", tenantmeter.ErrInvalidArgument)
	}
	agg, err := a.aggregate(ctx, window, func(r tenantmeter.DateRange) ([]*tenantmeter.UsageBucket, error) {
		return a.store.FindByUser(ctx, userID, r)
	})
	if err != nil {
		a.logger.Error("Failed to aggregate user usage", "userID", userID, "window", window, "error", err)
		return nil, err
	}
	agg.UserID = userID
	return agg, nil
}

func (a *PeriodAggregator) aggregate(
	ctx context.Context,
	window tenantmeter.Window,
	find func(tenantmeter.DateRange) ([]*tenantmeter.UsageBucket, error),
) (*tenantmeter.PeriodAggregate, error) {
	start := a.clock.Now()
	r, err := WindowBounds(window, start)
	if err != nil {
		return nil, err
	}

	buckets, err := find(r)
	if err != nil {
		return nil, tenantmeter.NewStorageError("find buckets", err)
	}

	agg := Summarize(buckets, window, r)
	a.metrics.RecordAggregateDuration(ctx, window.String(), a.clock.Since(start))
	return agg, nil
}

// Summarize folds buckets into an aggregate over r. Buckets dated outside r
// are ignored. The daily breakdown only has rows for dates with buckets.
func Summarize(buckets []*tenantmeter.UsageBucket, window tenantmeter.Window, r tenantmeter.DateRange) *tenantmeter.PeriodAggregate {
	agg := &tenantmeter.PeriodAggregate{
		Window: window,
		Start:  tenantmeter.Day(r.Start),
		End:    tenantmeter.Day(r.End),
		ByType: make(map[tenantmeter.UsageType]tenantmeter.UsageTotals),
		Daily:  []tenantmeter.DailyAggregate{},
	}

	daily := make(map[time.Time]*tenantmeter.DailyAggregate)
	for _, b := range buckets {
		if b == nil || !r.Contains(b.Date) {
			continue
		}

		totals := agg.ByType[b.UsageType]
		totals.AddBucket(b)
		agg.ByType[b.UsageType] = totals

		agg.TotalCount += b.Count
		agg.TotalTokens += b.TokenUsage
		agg.TotalDataSize += b.DataSize
		agg.TotalCost = agg.TotalCost.Add(b.Cost)

		date := tenantmeter.Day(b.Date)
		day, ok := daily[date]
		if !ok {
			day = &tenantmeter.DailyAggregate{
				Date:   date,
				ByType: make(map[tenantmeter.UsageType]tenantmeter.UsageTotals),
			}
			daily[date] = day
		}
		dayTotals := day.ByType[b.UsageType]
		dayTotals.AddBucket(b)
		day.ByType[b.UsageType] = dayTotals
		day.TotalCount += b.Count
		day.TotalTokens += b.TokenUsage
		day.TotalDataSize += b.DataSize
		day.TotalCost = day.TotalCost.Add(b.Cost)
	}

	for _, day := range daily {
		agg.Daily = append(agg.Daily, *day)
	}
	sort.Slice(agg.Daily, func(i, j int) bool {
		return agg.Daily[i].Date.Before(agg.Daily[j].Date)
	})

	return agg
}
