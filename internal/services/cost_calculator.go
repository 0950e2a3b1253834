// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package services

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/MadsRC/tenantmeter"
	"github.com/MadsRC/tenantmeter/internal/metering"
	"github.com/shopspring/decimal"
)

var _ metering.CostEstimator = (*CostCalculator)(nil)

// CostCalculator prices token based usage events that arrive without a cost.
// Prices are per token and configured per usage type.
type CostCalculator struct {
	prices map[tenantmeter.UsageType]decimal.Decimal
	logger *slog.Logger
}

// CostCalculatorOption configures CostCalculator behavior
type CostCalculatorOption func(*CostCalculator)

// WithTokenPrice sets the per token price of usageType
func WithTokenPrice(usageType tenantmeter.UsageType, price decimal.Decimal) CostCalculatorOption {
	return func(c *CostCalculator) {
		c.prices[usageType] = price
	}
}

// WithTokenPrices sets several per token prices at once
func WithTokenPrices(prices map[tenantmeter.UsageType]decimal.Decimal) CostCalculatorOption {
	return func(c *CostCalculator) {
		for usageType, price := range prices {
			c.prices[usageType] = price
		}
	}
}

// WithLogger sets the logger for the cost calculator
func WithLogger(logger *slog.Logger) CostCalculatorOption {
	return func(c *CostCalculator) {
		c.logger = logger
	}
}

// NewCostCalculator creates a new CostCalculator instance
func NewCostCalculator(options ...CostCalculatorOption) *CostCalculator {
	c := &CostCalculator{
		prices: make(map[tenantmeter.UsageType]decimal.Decimal),
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// EstimateCost returns tokenUsage times the configured price. It reports
// false when the usage type has no price or the event carried no tokens.
func (c *CostCalculator) EstimateCost(usageType tenantmeter.UsageType, tokenUsage int64) (decimal.Decimal, bool) {
	price, ok := c.prices[usageType]
	if !ok || tokenUsage <= 0 {
		return decimal.Zero, false
	}

	cost := price.Mul(decimal.NewFromInt(tokenUsage))
	c.logger.Debug("Estimated cost for usage event",
		"usageType", usageType,
		"tokenUsage", tokenUsage,
		"cost", cost.String())
	return cost, true
}

// Prices returns a copy of the configured prices
func (c *CostCalculator) Prices() map[tenantmeter.UsageType]decimal.Decimal {
	out := make(map[tenantmeter.UsageType]decimal.Decimal, len(c.prices))
	for k, v := range c.prices {
		out[k] = v
	}
	return out
}

// ParseTokenPrices parses "usage_type=price" pairs as given on the command line
func ParseTokenPrices(pairs []string) (map[tenantmeter.UsageType]decimal.Decimal, error) {
	prices := make(map[tenantmeter.UsageType]decimal.Decimal, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: token price %q must look like usage_type=price", tenantmeter.ErrInvalidArgument, pair)
		}
		usageType, err := tenantmeter.ParseUsageType(name)
		if err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%w: token price for %s: %v", tenantmeter.ErrInvalidArgument, usageType, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("%w: token price for %s must not be negative", tenantmeter.ErrInvalidArgument, usageType)
		}
		prices[usageType] = price
	}
	return prices, nil
}
