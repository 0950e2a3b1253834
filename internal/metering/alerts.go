// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package metering

import (
	"sort"

	"github.com/MadsRC/tenantmeter"
)

// DefaultThresholds returns the alert fractions 80%, 90% and 100%
func DefaultThresholds() []float64 {
	return []float64{0.8, 0.9, 1.0}
}

// AlertThresholdMonitor computes which alert threshold usage has reached. It
// performs no I/O.
type AlertThresholdMonitor struct {
	thresholds []float64
}

// NewAlertThresholdMonitor creates a monitor for thresholds, or the default
// thresholds when none are given.
func NewAlertThresholdMonitor(thresholds ...float64) *AlertThresholdMonitor {
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds()
	}

	sorted := make([]float64, 0, len(thresholds))
	for _, t := range thresholds {
		if t > 0 {
			sorted = append(sorted, t)
		}
	}
	sort.Float64s(sorted)

	return &AlertThresholdMonitor{thresholds: sorted}
}

// Thresholds returns the configured thresholds in ascending order
func (m *AlertThresholdMonitor) Thresholds() []float64 {
	out := make([]float64, len(m.thresholds))
	copy(out, m.thresholds)
	return out
}

// Evaluate returns the highest threshold current has reached against limit,
// or nothing. The result never holds more than one breach. Unlimited and
// zero limits never breach.
func (m *AlertThresholdMonitor) Evaluate(current int64, limit tenantmeter.Limit) []tenantmeter.ThresholdBreach {
	if limit.IsUnlimited() || limit.Value() <= 0 {
		return nil
	}

	ratio := float64(current) / float64(limit.Value())
	for i := len(m.thresholds) - 1; i >= 0; i-- {
		if ratio >= m.thresholds[i] {
			return []tenantmeter.ThresholdBreach{{
				Threshold: m.thresholds[i],
				Current:   current,
				Limit:     limit.Value(),
				Ratio:     ratio,
			}}
		}
	}
	return nil
}
