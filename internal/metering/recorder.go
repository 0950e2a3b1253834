// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package metering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MadsRC/tenantmeter"
	"github.com/MadsRC/tenantmeter/internal/monitoring"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"
)

// RecordOptions carries the identities and metrics of one usage event. At
// least one of TenantID and UserID must be set.
type RecordOptions struct {
	TenantID   string
	UserID     string
	TokenUsage int64
	DataSize   int64
	Cost       decimal.Decimal
	Metadata   map[string]any
}

// CostEstimator prices an event that arrives without a cost
type CostEstimator interface {
	EstimateCost(usageType tenantmeter.UsageType, tokenUsage int64) (decimal.Decimal, bool)
}

// UsageRecorder turns usage events into bucket increments
type UsageRecorder struct {
	store     tenantmeter.UsageBucketStore
	clock     quartz.Clock
	logger    *slog.Logger
	metrics   *monitoring.UsageMetrics
	estimator CostEstimator
}

// RecorderOption configures UsageRecorder behavior
type RecorderOption func(*UsageRecorder)

func WithRecorderClock(clock quartz.Clock) RecorderOption {
	return func(r *UsageRecorder) {
		r.clock = clock
	}
}

func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *UsageRecorder) {
		r.logger = logger
	}
}

func WithRecorderMetrics(metrics *monitoring.UsageMetrics) RecorderOption {
	return func(r *UsageRecorder) {
		r.metrics = metrics
	}
}

// WithCostEstimator prices events that are recorded with a zero cost
func WithCostEstimator(estimator CostEstimator) RecorderOption {
	return func(r *UsageRecorder) {
		r.estimator = estimator
	}
}

// NewUsageRecorder creates a new UsageRecorder writing to store
func NewUsageRecorder(store tenantmeter.UsageBucketStore, options ...RecorderOption) *UsageRecorder {
	r := &UsageRecorder{
		store:  store,
		clock:  quartz.NewReal(),
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Record adds one event to today's tenant bucket and/or user bucket. When
// both identities are set both buckets are written; a failure of one does
// not prevent the other and all failures are returned joined.
func (r *UsageRecorder) Record(ctx context.Context, usageType tenantmeter.UsageType, opts RecordOptions) error {
	if !usageType.IsValid() {
		return fmt.Errorf("%w: unknown usage type %q", tenantmeter.ErrInvalidArgument, usageType)
	}
	if opts.TenantID == "" && opts.UserID == "" {
		return fmt.Errorf("%w: usage event needs a tenant or a user", tenantmeter.ErrInvalidArgument)
	}

	deltas := tenantmeter.BucketDeltas{
		TokenUsage: opts.TokenUsage,
		DataSize:   opts.DataSize,
		Cost:       opts.Cost,
		Metadata:   opts.Metadata,
	}
	if err := deltas.Validate(); err != nil {
		return err
	}
	if deltas.Cost.IsZero() && r.estimator != nil {
		if cost, ok := r.estimator.EstimateCost(usageType, deltas.TokenUsage); ok {
			deltas.Cost = cost
		}
	}

	start := r.clock.Now()
	today := tenantmeter.Day(start)

	var keys []tenantmeter.BucketKey
	if opts.TenantID != "" {
		keys = append(keys, tenantmeter.TenantBucketKey(opts.TenantID, usageType, today))
	}
	if opts.UserID != "" {
		keys = append(keys, tenantmeter.UserBucketKey(opts.UserID, usageType, today))
	}

	var errs []error
	for _, key := range keys {
		if _, err := r.store.UpsertIncrement(ctx, key, deltas); err != nil {
			r.logger.Error("Failed to record usage", "bucket", key.String(), "error", err)
			r.metrics.RecordRecordError(ctx, usageType.String())
			errs = append(errs, tenantmeter.NewStorageError("upsert "+key.Scope()+" bucket", err))
			continue
		}
		r.metrics.RecordEventRecorded(ctx, usageType.String(), key.Scope())
	}

	r.metrics.RecordRecordLatency(ctx, r.clock.Since(start))

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.logger.Debug("Recorded usage",
		"usageType", usageType,
		"tenantID", opts.TenantID,
		"userID", opts.UserID,
		"date", today.Format("2006-01-02"))
	return nil
}
