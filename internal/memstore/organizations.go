// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/MadsRC/tenantmeter"
)

// OrganizationRepository is an in-memory OrganizationRepository
type OrganizationRepository struct {
	mu   sync.RWMutex
	orgs map[string]tenantmeter.Organization
}

func NewOrganizationRepository() *OrganizationRepository {
	return &OrganizationRepository{orgs: make(map[string]tenantmeter.Organization)}
}

func (r *OrganizationRepository) Create(ctx context.Context, org *tenantmeter.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orgs[org.ID]; ok {
		return tenantmeter.ErrDuplicateEntry
	}
	for _, existing := range r.orgs {
		if existing.Name == org.Name {
			return tenantmeter.ErrDuplicateEntry
		}
	}
	r.orgs[org.ID] = *org
	return nil
}

func (r *OrganizationRepository) Get(ctx context.Context, id string) (*tenantmeter.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	org, ok := r.orgs[id]
	if !ok {
		return nil, tenantmeter.ErrNotFound
	}
	return &org, nil
}

func (r *OrganizationRepository) GetByName(ctx context.Context, name string) (*tenantmeter.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, org := range r.orgs {
		if org.Name == name {
			return &org, nil
		}
	}
	return nil, tenantmeter.ErrNotFound
}

func (r *OrganizationRepository) List(ctx context.Context) ([]*tenantmeter.Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orgs := make([]*tenantmeter.Organization, 0, len(r.orgs))
	for _, org := range r.orgs {
		orgs = append(orgs, &org)
	}
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].Name < orgs[j].Name })
	return orgs, nil
}

func (r *OrganizationRepository) Update(ctx context.Context, org *tenantmeter.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orgs[org.ID]; !ok {
		return tenantmeter.ErrNotFound
	}
	r.orgs[org.ID] = *org
	return nil
}

func (r *OrganizationRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orgs[id]; !ok {
		return tenantmeter.ErrNotFound
	}
	delete(r.orgs, id)
	return nil
}
