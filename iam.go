// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package tenantmeter

import (
	"context"
	"time"
)

// Organization represents a tenant in the system
type Organization struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	DisplayName string           `json:"displayName"`
	IsSystem    bool             `json:"isSystem"` // Marks the platform's own organization
	Tier        SubscriptionTier `json:"tier"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// IsSystemTenant identifies the platform management tenant
func (o *Organization) IsSystemTenant() bool {
	return o.IsSystem
}

// OrganizationRepository defines persistence operations for Organizations
type OrganizationRepository interface {
	Create(ctx context.Context, org *Organization) error
	Get(ctx context.Context, id string) (*Organization, error)
	GetByName(ctx context.Context, name string) (*Organization, error)
	List(ctx context.Context) ([]*Organization, error)
	Update(ctx context.Context, org *Organization) error
	Delete(ctx context.Context, id string) error
}

// TierDirectory resolves the current subscription tier of a tenant.
// Unresolvable tenants yield [ErrTenantNotFound].
type TierDirectory interface {
	GetTier(ctx context.Context, tenantID string) (SubscriptionTier, error)
}
