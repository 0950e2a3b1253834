// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"time"

	"github.com/MadsRC/tenantmeter"
	"github.com/MadsRC/tenantmeter/internal/cache"
)

var _ tenantmeter.OrganizationRepository = (*CachedOrganizationRepository)(nil)

// CachedOrganizationRepository wraps an OrganizationRepository with caching.
// Tier lookups happen on every quota check, so single organizations are
// cached by ID. Lists are never cached.
type CachedOrganizationRepository struct {
	underlying tenantmeter.OrganizationRepository
	orgCache   *cache.Cache[string, *tenantmeter.Organization]
	cacheTTL   time.Duration
}

// NewCachedOrganizationRepository creates a new cached organization repository.
// Close must be called to release the cache.
func NewCachedOrganizationRepository(underlying tenantmeter.OrganizationRepository, cacheTTL time.Duration, options ...cache.Option) *CachedOrganizationRepository {
	return &CachedOrganizationRepository{
		underlying: underlying,
		orgCache:   cache.New[string, *tenantmeter.Organization](cacheTTL, options...),
		cacheTTL:   cacheTTL,
	}
}

// Get retrieves an organization with caching. Lookup failures, including
// ErrNotFound, are not cached.
func (r *CachedOrganizationRepository) Get(ctx context.Context, id string) (*tenantmeter.Organization, error) {
	org, err := r.orgCache.GetOrLoad(id, func() (*tenantmeter.Organization, error) {
		org, err := r.underlying.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return cloneOrganization(org), nil
	})
	if err != nil {
		return nil, err
	}
	return cloneOrganization(org), nil
}

// GetByName always asks the underlying repository and refreshes the ID entry
func (r *CachedOrganizationRepository) GetByName(ctx context.Context, name string) (*tenantmeter.Organization, error) {
	org, err := r.underlying.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	r.orgCache.Set(org.ID, cloneOrganization(org))
	return org, nil
}

func (r *CachedOrganizationRepository) List(ctx context.Context) ([]*tenantmeter.Organization, error) {
	return r.underlying.List(ctx)
}

// Create creates a new organization and caches it
func (r *CachedOrganizationRepository) Create(ctx context.Context, org *tenantmeter.Organization) error {
	if err := r.underlying.Create(ctx, org); err != nil {
		return err
	}
	r.orgCache.Set(org.ID, cloneOrganization(org))
	return nil
}

// Update updates an organization and invalidates its entry, so a tier change
// is visible to the next quota check.
func (r *CachedOrganizationRepository) Update(ctx context.Context, org *tenantmeter.Organization) error {
	if err := r.underlying.Update(ctx, org); err != nil {
		return err
	}
	r.orgCache.Delete(org.ID)
	return nil
}

// Delete removes an organization and invalidates its entry
func (r *CachedOrganizationRepository) Delete(ctx context.Context, id string) error {
	if err := r.underlying.Delete(ctx, id); err != nil {
		return err
	}
	r.orgCache.Delete(id)
	return nil
}

// cached entries never share a pointer with callers, who may mutate theirs
func cloneOrganization(org *tenantmeter.Organization) *tenantmeter.Organization {
	c := *org
	return &c
}

// ClearCache clears all cached entries
func (r *CachedOrganizationRepository) ClearCache() {
	r.orgCache.Clear()
}

// Close stops the cache cleanup loop
func (r *CachedOrganizationRepository) Close() {
	r.orgCache.Close()
}
