// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MadsRC/tenantmeter"
	"github.com/google/uuid"
)

const (
	SystemOrgName        = "system"
	SystemOrgDisplayName = "System Administration"
)

// TenantSeed names an organization that must exist with the given tier
type TenantSeed struct {
	Name string
	Tier tenantmeter.SubscriptionTier
}

// ParseTenantSeeds parses "name=tier" pairs as given to --tenant
func ParseTenantSeeds(values []string) ([]TenantSeed, error) {
	seeds := make([]TenantSeed, 0, len(values))
	for _, v := range values {
		name, rawTier, ok := strings.Cut(v, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: tenant %q must be name=tier", tenantmeter.ErrInvalidArgument, v)
		}
		tier, err := tenantmeter.ParseSubscriptionTier(rawTier)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, TenantSeed{Name: name, Tier: tier})
	}
	return seeds, nil
}

// CheckAndBootstrap makes sure the system organization exists and that every
// seeded organization exists with its configured tier.
func CheckAndBootstrap(
	ctx context.Context,
	logger *slog.Logger,
	orgRepo tenantmeter.OrganizationRepository,
	seeds []TenantSeed,
) error {
	logger.Info("Checking if system needs bootstrapping...")

	if _, err := EnsureSystemOrganization(ctx, logger, orgRepo); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	if err := SeedOrganizations(ctx, logger, orgRepo, seeds); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	return nil
}

// EnsureSystemOrganization returns the organization marked IsSystem, creating
// it on the enterprise tier when there is none. The platform's own usage is
// metered but never limited.
func EnsureSystemOrganization(
	ctx context.Context,
	logger *slog.Logger,
	orgRepo tenantmeter.OrganizationRepository,
) (*tenantmeter.Organization, error) {
	systemOrg, err := findSystemOrganization(ctx, orgRepo)
	if err == nil {
		logger.Info("Using existing system organization", "id", systemOrg.ID, "name", systemOrg.Name)
		return systemOrg, nil
	}
	if !errors.Is(err, tenantmeter.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for system organization: %w", err)
	}

	logger.Info("No system organization found, creating it")
	systemOrg = &tenantmeter.Organization{
		ID:          newID(),
		Name:        SystemOrgName,
		DisplayName: SystemOrgDisplayName,
		IsSystem:    true,
		Tier:        tenantmeter.TierEnterprise,
		CreatedAt:   time.Now(),
	}
	if err := orgRepo.Create(ctx, systemOrg); err != nil {
		return nil, fmt.Errorf("failed to create system organization: %w", err)
	}
	logger.Info("System organization created", "id", systemOrg.ID, "name", systemOrg.Name)
	return systemOrg, nil
}

// SeedOrganizations creates missing organizations and moves existing ones to
// the seeded tier.
func SeedOrganizations(
	ctx context.Context,
	logger *slog.Logger,
	orgRepo tenantmeter.OrganizationRepository,
	seeds []TenantSeed,
) error {
	for _, seed := range seeds {
		org, err := orgRepo.GetByName(ctx, seed.Name)
		switch {
		case errors.Is(err, tenantmeter.ErrNotFound):
			org = &tenantmeter.Organization{
				ID:          newID(),
				Name:        seed.Name,
				DisplayName: seed.Name,
				Tier:        seed.Tier,
				CreatedAt:   time.Now(),
			}
			if err := orgRepo.Create(ctx, org); err != nil {
				return fmt.Errorf("failed to create organization %s: %w", seed.Name, err)
			}
			logger.Info("Seeded organization", "id", org.ID, "name", org.Name, "tier", org.Tier)

		case err != nil:
			return fmt.Errorf("failed to look up organization %s: %w", seed.Name, err)

		case org.Tier != seed.Tier:
			previous := org.Tier
			org.Tier = seed.Tier
			if err := orgRepo.Update(ctx, org); err != nil {
				return fmt.Errorf("failed to update organization %s: %w", seed.Name, err)
			}
			logger.Info("Changed organization tier", "id", org.ID, "name", org.Name, "from", previous, "to", org.Tier)
		}
	}
	return nil
}

// findSystemOrganization looks for an organization with IsSystem=true
func findSystemOrganization(ctx context.Context, orgRepo tenantmeter.OrganizationRepository) (*tenantmeter.Organization, error) {
	orgs, err := orgRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, org := range orgs {
		if org.IsSystemTenant() {
			return org, nil
		}
	}

	return nil, tenantmeter.ErrNotFound
}

func newID() string {
	id, _ := uuid.NewV7()
	return id.String()
}
