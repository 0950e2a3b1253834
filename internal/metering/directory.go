// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package metering

import (
	"context"
	"errors"
	"fmt"

	"github.com/MadsRC/tenantmeter"
)

// OrganizationTierDirectory resolves tenant tiers from organizations
type OrganizationTierDirectory struct {
	orgs tenantmeter.OrganizationRepository
}

// NewOrganizationTierDirectory creates a TierDirectory backed by orgs
func NewOrganizationTierDirectory(orgs tenantmeter.OrganizationRepository) *OrganizationTierDirectory {
	return &OrganizationTierDirectory{orgs: orgs}
}

// GetTier returns the tier of the organization with id tenantID
func (d *OrganizationTierDirectory) GetTier(ctx context.Context, tenantID string) (tenantmeter.SubscriptionTier, error) {
	if tenantID == "" {
		return "", tenantmeter.ErrTenantNotFound
	}

	org, err := d.orgs.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenantmeter.ErrNotFound) {
			return "", tenantmeter.ErrTenantNotFound
		}
		return "", fmt.Errorf("failed to get organization: %w", err)
	}
	return org.Tier, nil
}
