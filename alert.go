// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package tenantmeter

import "context"

// ThresholdBreach reports that usage reached a fraction of its limit
type ThresholdBreach struct {
	Threshold float64 `json:"threshold"`
	Current   int64   `json:"current"`
	Limit     int64   `json:"limit"`
	Ratio     float64 `json:"ratio"`
}

// Notifier delivers threshold alerts. Delivery channels live outside this
// module; callers of the threshold monitor invoke it.
type Notifier interface {
	Notify(ctx context.Context, tenantID string, usageType UsageType, threshold float64) error
}
