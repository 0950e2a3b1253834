// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package services

import (
	"testing"

	"github.com/MadsRC/tenantmeter"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostCalculator_EstimateCost(t *testing.T) {
	calculator := NewCostCalculator(
		WithTokenPrice(tenantmeter.UsageTypeAIResponse, decimal.RequireFromString("0.000002")),
		WithTokenPrice(tenantmeter.UsageTypeEmbeddingGeneration, decimal.Zero),
	)

	tests := []struct {
		name       string
		usageType  tenantmeter.UsageType
		tokenUsage int64
		wantCost   string
		wantOK     bool
	}{
		{
			name:       "Basic cost calculation",
			usageType:  tenantmeter.UsageTypeAIResponse,
			tokenUsage: 1500,
			wantCost:   "0.003",
			wantOK:     true,
		},
		{
			name:       "Free usage type",
			usageType:  tenantmeter.UsageTypeEmbeddingGeneration,
			tokenUsage: 1000,
			wantCost:   "0",
			wantOK:     true,
		},
		{
			name:       "No tokens",
			usageType:  tenantmeter.UsageTypeAIResponse,
			tokenUsage: 0,
			wantCost:   "0",
		},
		{
			name:       "Unpriced usage type",
			usageType:  tenantmeter.UsageTypeDocumentSearch,
			tokenUsage: 10,
			wantCost:   "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost, ok := calculator.EstimateCost(tt.usageType, tt.tokenUsage)
			assert.Equal(t, tt.wantOK, ok)
			assert.True(t, decimal.RequireFromString(tt.wantCost).Equal(cost), "got %s", cost)
		})
	}
}

func TestCostCalculator_NoFloatDrift(t *testing.T) {
	calculator := NewCostCalculator(WithTokenPrice(tenantmeter.UsageTypeAIResponse, decimal.RequireFromString("0.1")))

	total := decimal.Zero
	for range 10 {
		cost, ok := calculator.EstimateCost(tenantmeter.UsageTypeAIResponse, 1)
		require.True(t, ok)
		total = total.Add(cost)
	}
	assert.True(t, decimal.NewFromInt(1).Equal(total))
}

func TestParseTokenPrices(t *testing.T) {
	prices, err := ParseTokenPrices([]string{"ai_response=0.000002", " embedding_generation = 0.0000001"})
	require.NoError(t, err)
	assert.Len(t, prices, 2)
	assert.True(t, decimal.RequireFromString("0.000002").Equal(prices[tenantmeter.UsageTypeAIResponse]))
	assert.True(t, decimal.RequireFromString("0.0000001").Equal(prices[tenantmeter.UsageTypeEmbeddingGeneration]))

	calculator := NewCostCalculator(WithTokenPrices(prices))
	assert.Len(t, calculator.Prices(), 2)

	for _, bad := range [][]string{
		{"ai_response"},
		{"bogus=1"},
		{"ai_response=cheap"},
		{"ai_response=-1"},
	} {
		_, err := ParseTokenPrices(bad)
		assert.ErrorIs(t, err, tenantmeter.ErrInvalidArgument, "input %v", bad)
	}
}
