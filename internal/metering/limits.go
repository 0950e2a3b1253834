// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package metering

import (
	"fmt"
	"strings"

	"github.com/MadsRC/tenantmeter"
)

const (
	mebibyte = int64(1) << 20
	gibibyte = int64(1) << 30
)

// Counter selects which accumulated metric of a usage type a limit is compared against
type Counter string

const (
	CounterCount    Counter = "count"
	CounterTokens   Counter = "token_usage"
	CounterDataSize Counter = "data_size"
)

// LimitRule binds a usage type to the tier limit that governs it
type LimitRule struct {
	Field   tenantmeter.LimitField `json:"field"`
	Counter Counter                `json:"counter"`
}

// Current extracts the governed counter from totals
func (r LimitRule) Current(t tenantmeter.UsageTotals) int64 {
	switch r.Counter {
	case CounterTokens:
		return t.TokenUsage
	case CounterDataSize:
		return t.DataSize
	default:
		return t.Count
	}
}

// DefaultTierLimits returns the built-in limits of every tier
func DefaultTierLimits() map[tenantmeter.SubscriptionTier]tenantmeter.TierLimits {
	return map[tenantmeter.SubscriptionTier]tenantmeter.TierLimits{
		tenantmeter.TierFree: {
			MaxDocuments:       tenantmeter.LimitOf(10),
			MaxQueriesPerMonth: tenantmeter.LimitOf(100),
			MaxStorageBytes:    tenantmeter.LimitOf(100 * mebibyte),
			MaxUsersPerOrg:     tenantmeter.LimitOf(3),
		},
		tenantmeter.TierBasic: {
			MaxDocuments:       tenantmeter.LimitOf(100),
			MaxQueriesPerMonth: tenantmeter.LimitOf(1000),
			MaxStorageBytes:    tenantmeter.LimitOf(gibibyte),
			MaxUsersPerOrg:     tenantmeter.LimitOf(10),
		},
		tenantmeter.TierProfessional: {
			MaxDocuments:       tenantmeter.LimitOf(1000),
			MaxQueriesPerMonth: tenantmeter.LimitOf(10000),
			MaxStorageBytes:    tenantmeter.LimitOf(10 * gibibyte),
			MaxUsersPerOrg:     tenantmeter.LimitOf(50),
		},
		tenantmeter.TierEnterprise: {
			MaxDocuments:       tenantmeter.Unlimited(),
			MaxQueriesPerMonth: tenantmeter.Unlimited(),
			MaxStorageBytes:    tenantmeter.Unlimited(),
			MaxUsersPerOrg:     tenantmeter.Unlimited(),
		},
	}
}

// DefaultGovernance returns which usage types are limited and by what.
// Usage types absent from the map are not limited.
func DefaultGovernance() map[tenantmeter.UsageType]LimitRule {
	return map[tenantmeter.UsageType]LimitRule{
		tenantmeter.UsageTypeDocumentUpload: {Field: tenantmeter.LimitMaxDocuments, Counter: CounterCount},
		tenantmeter.UsageTypeDocumentSearch: {Field: tenantmeter.LimitMaxQueriesPerMonth, Counter: CounterCount},
	}
}

// TierLimitTable maps subscription tiers to their limits and usage types to
// the limit governing them.
type TierLimitTable struct {
	limits     map[tenantmeter.SubscriptionTier]tenantmeter.TierLimits
	governance map[tenantmeter.UsageType]LimitRule
}

// TierLimitTableOption configures a TierLimitTable
type TierLimitTableOption func(*TierLimitTable)

// WithTierOverride replaces the limits of one tier
func WithTierOverride(tier tenantmeter.SubscriptionTier, limits tenantmeter.TierLimits) TierLimitTableOption {
	return func(t *TierLimitTable) {
		t.limits[tier] = limits
	}
}

// WithLimit replaces a single limit of one tier. Unknown fields are ignored;
// use [ParseLimitOverrides] to validate user input.
func WithLimit(tier tenantmeter.SubscriptionTier, field tenantmeter.LimitField, limit tenantmeter.Limit) TierLimitTableOption {
	return func(t *TierLimitTable) {
		limits := t.limits[tier]
		if err := limits.SetField(field, limit); err == nil {
			t.limits[tier] = limits
		}
	}
}

// ParseLimitOverrides parses "tier.field=limit" entries such as
// "free.max_documents=25" or "basic.max_storage_bytes=unlimited".
func ParseLimitOverrides(values []string) ([]TierLimitTableOption, error) {
	options := make([]TierLimitTableOption, 0, len(values))
	for _, v := range values {
		target, rawLimit, ok := strings.Cut(v, "=")
		rawTier, rawField, ok2 := strings.Cut(target, ".")
		if !ok || !ok2 {
			return nil, fmt.Errorf("%w: limit override %q must be tier.field=limit", tenantmeter.ErrInvalidArgument, v)
		}
		tier, err := tenantmeter.ParseSubscriptionTier(rawTier)
		if err != nil {
			return nil, err
		}
		field := tenantmeter.LimitField(strings.TrimSpace(rawField))
		if !field.IsValid() {
			return nil, fmt.Errorf("%w: unknown limit field %q", tenantmeter.ErrInvalidArgument, rawField)
		}
		limit, err := tenantmeter.ParseLimit(strings.TrimSpace(rawLimit))
		if err != nil {
			return nil, err
		}
		options = append(options, WithLimit(tier, field, limit))
	}
	return options, nil
}

// WithGovernance sets the rule governing usageType
func WithGovernance(usageType tenantmeter.UsageType, rule LimitRule) TierLimitTableOption {
	return func(t *TierLimitTable) {
		t.governance[usageType] = rule
	}
}

// WithoutGovernance leaves usageType unlimited in every tier
func WithoutGovernance(usageType tenantmeter.UsageType) TierLimitTableOption {
	return func(t *TierLimitTable) {
		delete(t.governance, usageType)
	}
}

// NewTierLimitTable creates a table seeded with the built-in limits
func NewTierLimitTable(options ...TierLimitTableOption) *TierLimitTable {
	t := &TierLimitTable{
		limits:     DefaultTierLimits(),
		governance: DefaultGovernance(),
	}

	for _, opt := range options {
		opt(t)
	}

	return t
}

// LimitsFor returns the limits of tier. Tiers without an entry get the free
// tier's limits, never unlimited.
func (t *TierLimitTable) LimitsFor(tier tenantmeter.SubscriptionTier) tenantmeter.TierLimits {
	if limits, ok := t.limits[tier]; ok && tier.IsValid() {
		return limits
	}
	return t.limits[tenantmeter.TierFree]
}

// GoverningLimit returns the rule limiting usageType, false when it is not limited
func (t *TierLimitTable) GoverningLimit(usageType tenantmeter.UsageType) (LimitRule, bool) {
	rule, ok := t.governance[usageType]
	return rule, ok
}

// GovernedTypes lists the usage types that have a governing limit, in the
// order of [tenantmeter.AllUsageTypes]
func (t *TierLimitTable) GovernedTypes() []tenantmeter.UsageType {
	var types []tenantmeter.UsageType
	for _, usageType := range tenantmeter.AllUsageTypes() {
		if _, ok := t.governance[usageType]; ok {
			types = append(types, usageType)
		}
	}
	return types
}

// MostRestrictive returns the governing rule with the smallest limit in the
// free tier together with that limit. It is applied to usage types the table
// does not know about.
func (t *TierLimitTable) MostRestrictive() (LimitRule, tenantmeter.Limit) {
	free := t.LimitsFor(tenantmeter.TierFree)

	best := LimitRule{Field: tenantmeter.LimitMaxDocuments, Counter: CounterCount}
	bestLimit := free.Field(best.Field)
	for _, usageType := range tenantmeter.AllUsageTypes() {
		rule, ok := t.governance[usageType]
		if !ok {
			continue
		}
		l := free.Field(rule.Field)
		if l.IsUnlimited() {
			continue
		}
		if bestLimit.IsUnlimited() || l.Value() < bestLimit.Value() {
			best, bestLimit = rule, l
		}
	}
	return best, bestLimit
}
