// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/MadsRC/tenantmeter"
	"github.com/MadsRC/tenantmeter/internal/cache"
	"github.com/MadsRC/tenantmeter/internal/memstore"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOrganizationRepository struct {
	mock.Mock
}

func (m *MockOrganizationRepository) Create(ctx context.Context, org *tenantmeter.Organization) error {
	return m.Called(ctx, org).Error(0)
}

func (m *MockOrganizationRepository) Get(ctx context.Context, id string) (*tenantmeter.Organization, error) {
	args := m.Called(ctx, id)
	org, _ := args.Get(0).(*tenantmeter.Organization)
	return org, args.Error(1)
}

func (m *MockOrganizationRepository) GetByName(ctx context.Context, name string) (*tenantmeter.Organization, error) {
	args := m.Called(ctx, name)
	org, _ := args.Get(0).(*tenantmeter.Organization)
	return org, args.Error(1)
}

func (m *MockOrganizationRepository) List(ctx context.Context) ([]*tenantmeter.Organization, error) {
	args := m.Called(ctx)
	orgs, _ := args.Get(0).([]*tenantmeter.Organization)
	return orgs, args.Error(1)
}

func (m *MockOrganizationRepository) Update(ctx context.Context, org *tenantmeter.Organization) error {
	return m.Called(ctx, org).Error(0)
}

func (m *MockOrganizationRepository) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func newCachedRepo(t *testing.T, underlying tenantmeter.OrganizationRepository) (*CachedOrganizationRepository, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	repo := NewCachedOrganizationRepository(underlying, time.Minute, cache.WithClock(clock))
	t.Cleanup(repo.Close)
	return repo, clock
}

func TestCachedOrganizationRepository_Get(t *testing.T) {
	ctx := context.Background()
	org := &tenantmeter.Organization{ID: "org-1", Name: "acme", Tier: tenantmeter.TierBasic}

	t.Run("second lookup is served from cache", func(t *testing.T) {
		underlying := new(MockOrganizationRepository)
		underlying.On("Get", mock.Anything, "org-1").Return(org, nil).Once()

		repo, _ := newCachedRepo(t, underlying)
		got, err := repo.Get(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, org, got)

		got, err = repo.Get(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, org, got)
		underlying.AssertExpectations(t)
	})

	t.Run("entry expires after ttl", func(t *testing.T) {
		underlying := new(MockOrganizationRepository)
		underlying.On("Get", mock.Anything, "org-1").Return(org, nil).Twice()

		repo, clock := newCachedRepo(t, underlying)
		_, err := repo.Get(ctx, "org-1")
		require.NoError(t, err)

		clock.Set(clock.Now().Add(time.Minute))
		_, err = repo.Get(ctx, "org-1")
		require.NoError(t, err)
		underlying.AssertExpectations(t)
	})

	t.Run("not found is not cached", func(t *testing.T) {
		underlying := new(MockOrganizationRepository)
		underlying.On("Get", mock.Anything, "ghost").Return(nil, tenantmeter.ErrNotFound).Twice()

		repo, _ := newCachedRepo(t, underlying)
		_, err := repo.Get(ctx, "ghost")
		assert.ErrorIs(t, err, tenantmeter.ErrNotFound)
		_, err = repo.Get(ctx, "ghost")
		assert.ErrorIs(t, err, tenantmeter.ErrNotFound)
		underlying.AssertExpectations(t)
	})
}

func TestCachedOrganizationRepository_UpdateInvalidates(t *testing.T) {
	ctx := context.Background()
	before := &tenantmeter.Organization{ID: "org-1", Name: "acme", Tier: tenantmeter.TierFree}
	after := &tenantmeter.Organization{ID: "org-1", Name: "acme", Tier: tenantmeter.TierProfessional}

	underlying := new(MockOrganizationRepository)
	underlying.On("Get", mock.Anything, "org-1").Return(before, nil).Once()
	underlying.On("Update", mock.Anything, after).Return(nil).Once()
	underlying.On("Get", mock.Anything, "org-1").Return(after, nil).Once()

	repo, _ := newCachedRepo(t, underlying)
	got, err := repo.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, tenantmeter.TierFree, got.Tier)

	require.NoError(t, repo.Update(ctx, after))

	got, err = repo.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, tenantmeter.TierProfessional, got.Tier)
	underlying.AssertExpectations(t)
}

func TestCachedOrganizationRepository_Delete(t *testing.T) {
	ctx := context.Background()
	org := &tenantmeter.Organization{ID: "org-1", Name: "acme"}

	underlying := new(MockOrganizationRepository)
	underlying.On("Create", mock.Anything, org).Return(nil).Once()
	underlying.On("Delete", mock.Anything, "org-1").Return(nil).Once()
	underlying.On("Get", mock.Anything, "org-1").Return(nil, tenantmeter.ErrNotFound).Once()

	repo, _ := newCachedRepo(t, underlying)
	require.NoError(t, repo.Create(ctx, org))

	got, err := repo.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, org, got)

	require.NoError(t, repo.Delete(ctx, "org-1"))
	_, err = repo.Get(ctx, "org-1")
	assert.ErrorIs(t, err, tenantmeter.ErrNotFound)
	underlying.AssertExpectations(t)
}

func TestCachedOrganizationRepository_FailedWritesKeepCache(t *testing.T) {
	ctx := context.Background()
	org := &tenantmeter.Organization{ID: "org-1", Name: "acme", Tier: tenantmeter.TierBasic}

	underlying := new(MockOrganizationRepository)
	underlying.On("Get", mock.Anything, "org-1").Return(org, nil).Once()
	underlying.On("Delete", mock.Anything, "org-1").Return(assert.AnError).Once()

	repo, _ := newCachedRepo(t, underlying)
	_, err := repo.Get(ctx, "org-1")
	require.NoError(t, err)

	assert.ErrorIs(t, repo.Delete(ctx, "org-1"), assert.AnError)

	got, err := repo.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, org, got)
	underlying.AssertExpectations(t)
}

func TestCachedOrganizationRepository_GetByNameAndList(t *testing.T) {
	ctx := context.Background()
	org := &tenantmeter.Organization{ID: "org-1", Name: "acme"}

	underlying := new(MockOrganizationRepository)
	underlying.On("GetByName", mock.Anything, "acme").Return(org, nil).Once()
	underlying.On("List", mock.Anything).Return([]*tenantmeter.Organization{org}, nil).Twice()

	repo, _ := newCachedRepo(t, underlying)
	got, err := repo.GetByName(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, org, got)

	// populated by GetByName
	got, err = repo.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, org, got)

	for range 2 {
		orgs, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, orgs, 1)
	}
	underlying.AssertExpectations(t)
}

type failingUpdateRepo struct {
	*memstore.OrganizationRepository
}

func (failingUpdateRepo) Update(context.Context, *tenantmeter.Organization) error {
	return assert.AnError
}

func TestCachedOrganizationRepository_CallerMutationsDoNotLeak(t *testing.T) {
	ctx := context.Background()
	orgs := memstore.NewOrganizationRepository()
	require.NoError(t, orgs.Create(ctx, &tenantmeter.Organization{ID: "org-1", Name: "acme", Tier: tenantmeter.TierFree}))

	repo, _ := newCachedRepo(t, failingUpdateRepo{orgs})

	org, err := repo.GetByName(ctx, "acme")
	require.NoError(t, err)
	org.Tier = tenantmeter.TierEnterprise
	assert.ErrorIs(t, repo.Update(ctx, org), assert.AnError)

	got, err := repo.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, tenantmeter.TierFree, got.Tier)

	// a value handed out by Get is a copy as well
	got.Tier = tenantmeter.TierEnterprise
	again, err := repo.Get(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, tenantmeter.TierFree, again.Tier)

	created := &tenantmeter.Organization{ID: "org-2", Name: "globex", Tier: tenantmeter.TierBasic}
	require.NoError(t, repo.Create(ctx, created))
	created.Tier = tenantmeter.TierEnterprise
	got, err = repo.Get(ctx, "org-2")
	require.NoError(t, err)
	assert.Equal(t, tenantmeter.TierBasic, got.Tier)
}
