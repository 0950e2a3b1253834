// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package tenantmeter

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Window selects the time span of a [PeriodAggregate]
type Window string

const (
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowYear  Window = "year"
)

func (w Window) String() string {
	return string(w)
}

// IsValid reports whether w is a known window
func (w Window) IsValid() bool {
	switch w {
	case WindowDay, WindowWeek, WindowMonth, WindowYear:
		return true
	}
	return false
}

// ParseWindow converts s into a Window, rejecting unknown values
func ParseWindow(s string) (Window, error) {
	w := Window(strings.ToLower(strings.TrimSpace(s)))
	if !w.IsValid() {
		return "", fmt.Errorf("%w: unknown window %q", ErrInvalidArgument, s)
	}
	return w, nil
}

// UsageTotals are summed bucket counters
type UsageTotals struct {
	Count      int64           `json:"count"`
	TokenUsage int64           `json:"tokenUsage"`
	DataSize   int64           `json:"dataSize"`
	Cost       decimal.Decimal `json:"cost"`
}

// AddBucket adds the counters of b
func (t *UsageTotals) AddBucket(b *UsageBucket) {
	t.Count += b.Count
	t.TokenUsage += b.TokenUsage
	t.DataSize += b.DataSize
	t.Cost = t.Cost.Add(b.Cost)
}

// DailyAggregate is one row of the per-day breakdown
type DailyAggregate struct {
	Date          time.Time                 `json:"date"`
	ByType        map[UsageType]UsageTotals `json:"byType"`
	TotalCount    int64                     `json:"totalCount"`
	TotalTokens   int64                     `json:"totalTokens"`
	TotalDataSize int64                     `json:"totalDataSize"`
	TotalCost     decimal.Decimal           `json:"totalCost"`
}

// PeriodAggregate is the derived sum of buckets over a window. It is
// recomputed on every read and never persisted.
type PeriodAggregate struct {
	TenantID      string                    `json:"tenantId,omitempty"`
	UserID        string                    `json:"userId,omitempty"`
	Window        Window                    `json:"window"`
	Start         time.Time                 `json:"start"`
	End           time.Time                 `json:"end"`
	ByType        map[UsageType]UsageTotals `json:"byType"`
	TotalCount    int64                     `json:"totalCount"`
	TotalTokens   int64                     `json:"totalTokens"`
	TotalDataSize int64                     `json:"totalDataSize"`
	TotalCost     decimal.Decimal           `json:"totalCost"`
	Daily         []DailyAggregate          `json:"daily"`
}

// Totals returns the summed counters for one usage type, zero when absent
func (p *PeriodAggregate) Totals(u UsageType) UsageTotals {
	if p == nil {
		return UsageTotals{}
	}
	return p.ByType[u]
}
