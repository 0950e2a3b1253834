// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package metering

import (
	"context"
	"testing"
	"time"

	"github.com/MadsRC/tenantmeter"
	"github.com/MadsRC/tenantmeter/internal/memstore"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// now is mid-month so month and week windows differ
var now = time.Date(2025, 3, 14, 15, 30, 0, 0, time.UTC)

// MockTierDirectory is a mock implementation of TierDirectory
type MockTierDirectory struct {
	mock.Mock
}

func (m *MockTierDirectory) GetTier(ctx context.Context, tenantID string) (tenantmeter.SubscriptionTier, error) {
	args := m.Called(ctx, tenantID)
	return args.Get(0).(tenantmeter.SubscriptionTier), args.Error(1)
}

// MockNotifier is a mock implementation of Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, tenantID string, usageType tenantmeter.UsageType, threshold float64) error {
	args := m.Called(ctx, tenantID, usageType, threshold)
	return args.Error(0)
}

// MockBucketStore is a mock implementation of UsageBucketStore
type MockBucketStore struct {
	mock.Mock
}

func (m *MockBucketStore) UpsertIncrement(ctx context.Context, key tenantmeter.BucketKey, deltas tenantmeter.BucketDeltas) (*tenantmeter.UsageBucket, error) {
	args := m.Called(ctx, key, deltas)
	b, _ := args.Get(0).(*tenantmeter.UsageBucket)
	return b, args.Error(1)
}

func (m *MockBucketStore) FindByTenant(ctx context.Context, tenantID string, r tenantmeter.DateRange) ([]*tenantmeter.UsageBucket, error) {
	args := m.Called(ctx, tenantID, r)
	b, _ := args.Get(0).([]*tenantmeter.UsageBucket)
	return b, args.Error(1)
}

func (m *MockBucketStore) FindByUser(ctx context.Context, userID string, r tenantmeter.DateRange) ([]*tenantmeter.UsageBucket, error) {
	args := m.Called(ctx, userID, r)
	b, _ := args.Get(0).([]*tenantmeter.UsageBucket)
	return b, args.Error(1)
}

func mockClock(t *testing.T) *quartz.Mock {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(now)
	return clock
}

// seed records n events of usageType for tenantID on date
func seed(t *testing.T, store *memstore.Store, tenantID string, usageType tenantmeter.UsageType, date time.Time, n int) {
	t.Helper()
	key := tenantmeter.TenantBucketKey(tenantID, usageType, date)
	for i := 0; i < n; i++ {
		_, err := store.UpsertIncrement(context.Background(), key, tenantmeter.BucketDeltas{})
		require.NoError(t, err)
	}
}

// fixture wires the evaluator against an in-memory store
type fixture struct {
	store      *memstore.Store
	orgs       *memstore.OrganizationRepository
	table      *TierLimitTable
	aggregator *PeriodAggregator
	evaluator  *QuotaEvaluator
}

func newFixture(t *testing.T, options ...TierLimitTableOption) *fixture {
	t.Helper()

	clock := mockClock(t)
	f := &fixture{
		store: memstore.NewStore(memstore.WithClock(clock)),
		orgs:  memstore.NewOrganizationRepository(),
		table: NewTierLimitTable(options...),
	}
	f.aggregator = NewPeriodAggregator(f.store, WithAggregatorClock(clock))
	f.evaluator = NewQuotaEvaluator(NewOrganizationTierDirectory(f.orgs), f.table, f.aggregator)
	return f
}

func (f *fixture) addTenant(t *testing.T, id string, tier tenantmeter.SubscriptionTier) {
	t.Helper()
	require.NoError(t, f.orgs.Create(context.Background(), &tenantmeter.Organization{ID: id, Name: id, Tier: tier}))
}
