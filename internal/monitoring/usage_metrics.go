// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package monitoring

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// UsageMetrics holds the instruments of the metering pipeline. All methods
// are safe to call on a nil receiver, which disables metrics.
type UsageMetrics struct {
	eventsRecordedTotal metric.Int64Counter
	recordErrorsTotal   metric.Int64Counter
	eventsDroppedTotal  metric.Int64Counter
	recordLatency       metric.Float64Histogram
	aggregateDuration   metric.Float64Histogram
	quotaChecksTotal    metric.Int64Counter
	thresholdBreaches   metric.Int64Counter
	queueSize           metric.Int64Gauge
	alertSweepDuration  metric.Float64Histogram
	storageErrorsTotal  metric.Int64Counter
}

func NewUsageMetrics(meter metric.Meter) (*UsageMetrics, error) {
	eventsRecordedTotal, err := meter.Int64Counter(
		"usage_events_recorded_total",
		metric.WithDescription("Usage events written to a bucket"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage_events_recorded_total counter: %w", err)
	}

	recordErrorsTotal, err := meter.Int64Counter(
		"usage_record_errors_total",
		metric.WithDescription("Usage events that could not be recorded"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage_record_errors_total counter: %w", err)
	}

	eventsDroppedTotal, err := meter.Int64Counter(
		"usage_events_dropped_total",
		metric.WithDescription("Events dropped due to channel full"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage_events_dropped_total counter: %w", err)
	}

	recordLatency, err := meter.Float64Histogram(
		"usage_record_latency_seconds",
		metric.WithDescription("Time spent writing one usage event"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage_record_latency_seconds histogram: %w", err)
	}

	aggregateDuration, err := meter.Float64Histogram(
		"usage_aggregate_duration_seconds",
		metric.WithDescription("Time spent computing a period aggregate"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage_aggregate_duration_seconds histogram: %w", err)
	}

	quotaChecksTotal, err := meter.Int64Counter(
		"quota_checks_total",
		metric.WithDescription("Quota checks by usage type and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota_checks_total counter: %w", err)
	}

	thresholdBreaches, err := meter.Int64Counter(
		"threshold_breaches_total",
		metric.WithDescription("Threshold alerts handed to the notifier"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create threshold_breaches_total counter: %w", err)
	}

	queueSize, err := meter.Int64Gauge(
		"usage_queue_size",
		metric.WithDescription("Current buffered events awaiting recording"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage_queue_size gauge: %w", err)
	}

	alertSweepDuration, err := meter.Float64Histogram(
		"alert_sweep_duration_seconds",
		metric.WithDescription("Time spent on one periodic alert sweep"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert_sweep_duration_seconds histogram: %w", err)
	}

	storageErrorsTotal, err := meter.Int64Counter(
		"usage_storage_errors_total",
		metric.WithDescription("Failed storage operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage_storage_errors_total counter: %w", err)
	}

	return &UsageMetrics{
		eventsRecordedTotal: eventsRecordedTotal,
		recordErrorsTotal:   recordErrorsTotal,
		eventsDroppedTotal:  eventsDroppedTotal,
		recordLatency:       recordLatency,
		aggregateDuration:   aggregateDuration,
		quotaChecksTotal:    quotaChecksTotal,
		thresholdBreaches:   thresholdBreaches,
		queueSize:           queueSize,
		alertSweepDuration:  alertSweepDuration,
		storageErrorsTotal:  storageErrorsTotal,
	}, nil
}

func (um *UsageMetrics) RecordEventRecorded(ctx context.Context, usageType string, scope string) {
	if um == nil {
		return
	}
	um.eventsRecordedTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("usage_type", usageType),
			attribute.String("scope", scope),
		),
	)
}

func (um *UsageMetrics) RecordRecordError(ctx context.Context, usageType string) {
	if um == nil {
		return
	}
	um.recordErrorsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("usage_type", usageType)),
	)
}

func (um *UsageMetrics) RecordEventDropped(ctx context.Context, usageType string) {
	if um == nil {
		return
	}
	um.eventsDroppedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("usage_type", usageType)),
	)
}

func (um *UsageMetrics) RecordRecordLatency(ctx context.Context, duration time.Duration) {
	if um == nil {
		return
	}
	um.recordLatency.Record(ctx, duration.Seconds())
}

func (um *UsageMetrics) RecordAggregateDuration(ctx context.Context, window string, duration time.Duration) {
	if um == nil {
		return
	}
	um.aggregateDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("window", window)),
	)
}

func (um *UsageMetrics) RecordQuotaCheck(ctx context.Context, usageType string, allowed bool) {
	if um == nil {
		return
	}
	um.quotaChecksTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("usage_type", usageType),
			attribute.Bool("allowed", allowed),
		),
	)
}

func (um *UsageMetrics) RecordThresholdBreach(ctx context.Context, usageType string, threshold float64) {
	if um == nil {
		return
	}
	um.thresholdBreaches.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("usage_type", usageType),
			attribute.String("threshold", strconv.FormatFloat(threshold, 'f', -1, 64)),
		),
	)
}

func (um *UsageMetrics) UpdateQueueSize(ctx context.Context, size int64) {
	if um == nil {
		return
	}
	um.queueSize.Record(ctx, size)
}

func (um *UsageMetrics) RecordAlertSweepDuration(ctx context.Context, duration time.Duration) {
	if um == nil {
		return
	}
	um.alertSweepDuration.Record(ctx, duration.Seconds())
}

func (um *UsageMetrics) RecordStorageError(ctx context.Context, operation string, backend string) {
	if um == nil {
		return
	}
	um.storageErrorsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("backend", backend),
		),
	)
}
