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
)

const (
	ReasonTenantNotFound = "tenant not found"
	ReasonUnavailable    = "quota check unavailable"
)

// LimitCheckResult is the outcome of a quota check. A denial always carries a
// reason; Usage and Limits are only absent when the tenant could not be
// resolved or the check itself failed.
type LimitCheckResult struct {
	Allowed   bool                         `json:"allowed"`
	Reason    string                       `json:"reason,omitempty"`
	UsageType tenantmeter.UsageType        `json:"usageType"`
	Tier      tenantmeter.SubscriptionTier `json:"tier,omitempty"`
	Governed  bool                         `json:"governed"`
	Current   int64                        `json:"current"`
	Limit     tenantmeter.Limit            `json:"limit"`
	Usage     *tenantmeter.PeriodAggregate `json:"usage,omitempty"`
	Limits    *tenantmeter.TierLimits      `json:"limits,omitempty"`
}

// QuotaEvaluator decides whether a tenant may perform one more operation of a
// usage type this month.
type QuotaEvaluator struct {
	directory  tenantmeter.TierDirectory
	table      *TierLimitTable
	aggregator *PeriodAggregator
	logger     *slog.Logger
	metrics    *monitoring.UsageMetrics
}

// EvaluatorOption configures QuotaEvaluator behavior
type EvaluatorOption func(*QuotaEvaluator)

func WithEvaluatorLogger(logger *slog.Logger) EvaluatorOption {
	return func(q *QuotaEvaluator) {
		q.logger = logger
	}
}

func WithEvaluatorMetrics(metrics *monitoring.UsageMetrics) EvaluatorOption {
	return func(q *QuotaEvaluator) {
		q.metrics = metrics
	}
}

// NewQuotaEvaluator creates a new QuotaEvaluator
func NewQuotaEvaluator(
	directory tenantmeter.TierDirectory,
	table *TierLimitTable,
	aggregator *PeriodAggregator,
	options ...EvaluatorOption,
) *QuotaEvaluator {
	q := &QuotaEvaluator{
		directory:  directory,
		table:      table,
		aggregator: aggregator,
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(q)
	}

	return q
}

// CheckLimit compares the tenant's month-to-date usage with its tier limit.
// It always returns a result; when the check cannot be completed the result
// denies and the cause is returned as well. An unknown tenant is a denial,
// not an error.
func (q *QuotaEvaluator) CheckLimit(ctx context.Context, tenantID string, usageType tenantmeter.UsageType) (*LimitCheckResult, error) {
	res, err := q.evaluate(ctx, tenantID, usageType)
	q.metrics.RecordQuotaCheck(ctx, usageType.String(), res.Allowed)

	switch {
	case err != nil:
		q.logger.Error("Quota check failed", "tenantID", tenantID, "usageType", usageType, "error", err)
	case !res.Allowed:
		q.logger.Info("Quota check denied", "tenantID", tenantID, "usageType", usageType, "reason", res.Reason)
	}

	return res, err
}

func (q *QuotaEvaluator) evaluate(ctx context.Context, tenantID string, usageType tenantmeter.UsageType) (*LimitCheckResult, error) {
	res := &LimitCheckResult{UsageType: usageType}

	tier, err := q.directory.GetTier(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenantmeter.ErrNotFound) {
			res.Reason = ReasonTenantNotFound
			return res, nil
		}
		res.Reason = ReasonUnavailable
		return res, fmt.Errorf("failed to resolve tier: %w", err)
	}

	limits := q.table.LimitsFor(tier)
	usage, err := q.aggregator.Aggregate(ctx, tenantID, tenantmeter.WindowMonth)
	if err != nil {
		res.Reason = ReasonUnavailable
		return res, fmt.Errorf("failed to aggregate usage: %w", err)
	}

	res.Tier = tier
	res.Usage = usage
	res.Limits = &limits

	var limit tenantmeter.Limit
	if usageType.IsValid() {
		rule, governed := q.table.GoverningLimit(usageType)
		if !governed {
			res.Allowed = true
			res.Current = usage.Totals(usageType).Count
			res.Limit = tenantmeter.Unlimited()
			return res, nil
		}
		res.Current = rule.Current(usage.Totals(usageType))
		limit = limits.Field(rule.Field)
	} else {
		// Unknown usage types are held to the tightest free tier rule,
		// counted over everything the tenant did this month.
		q.logger.Warn("No limit configured for usage type, applying most restrictive limit",
			"tenantID", tenantID, "usageType", usageType)
		_, limit = q.table.MostRestrictive()
		res.Current = usage.TotalCount
	}

	res.Governed = true
	res.Limit = limit
	res.Allowed = limit.Admits(res.Current)
	if !res.Allowed {
		res.Reason = fmt.Sprintf("%s limit exceeded (%d/%s)", usageType.DisplayName(), res.Current, limit)
	}
	return res, nil
}
