// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package metering

import (
	"testing"

	"github.com/MadsRC/tenantmeter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertThresholdMonitor_Evaluate(t *testing.T) {
	monitor := NewAlertThresholdMonitor()
	limit := tenantmeter.LimitOf(100)

	tests := []struct {
		current   int64
		threshold float64
	}{
		{0, 0},
		{79, 0},
		{80, 0.8},
		{81, 0.8},
		{90, 0.9},
		{95, 0.9},
		{100, 1.0},
		{120, 1.0},
	}

	for _, tt := range tests {
		breaches := monitor.Evaluate(tt.current, limit)
		if tt.threshold == 0 {
			assert.Empty(t, breaches, "current %d", tt.current)
			continue
		}
		require.Len(t, breaches, 1, "current %d", tt.current)
		assert.Equal(t, tt.threshold, breaches[0].Threshold, "current %d", tt.current)
		assert.Equal(t, tt.current, breaches[0].Current)
		assert.Equal(t, int64(100), breaches[0].Limit)
	}
}

func TestAlertThresholdMonitor_NoRatioForUnlimitedOrZero(t *testing.T) {
	monitor := NewAlertThresholdMonitor()

	assert.Empty(t, monitor.Evaluate(1_000_000, tenantmeter.Unlimited()))
	assert.Empty(t, monitor.Evaluate(0, tenantmeter.LimitOf(0)))
	assert.Empty(t, monitor.Evaluate(5, tenantmeter.LimitOf(0)))
}

func TestAlertThresholdMonitor_CustomThresholds(t *testing.T) {
	monitor := NewAlertThresholdMonitor(1.0, 0.5, -1)
	assert.Equal(t, []float64{0.5, 1.0}, monitor.Thresholds())

	breaches := monitor.Evaluate(6, tenantmeter.LimitOf(10))
	require.Len(t, breaches, 1)
	assert.Equal(t, 0.5, breaches[0].Threshold)
	assert.InDelta(t, 0.6, breaches[0].Ratio, 1e-9)
}

func TestDefaultThresholds(t *testing.T) {
	assert.Equal(t, []float64{0.8, 0.9, 1.0}, NewAlertThresholdMonitor().Thresholds())
}
