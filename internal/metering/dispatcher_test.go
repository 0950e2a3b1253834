// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package metering

import (
	"context"
	"errors"
	"testing"

	"github.com/MadsRC/tenantmeter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newDispatcherFixture(t *testing.T) (*fixture, *MockNotifier, *AlertDispatcher) {
	t.Helper()

	f := newFixture(t)
	f.addTenant(t, "acme", tenantmeter.TierFree)
	notifier := &MockNotifier{}
	return f, notifier, NewAlertDispatcher(f.evaluator, NewAlertThresholdMonitor(), notifier)
}

func TestAlertDispatcher_NotifiesEachThresholdOnce(t *testing.T) {
	f, notifier, dispatcher := newDispatcherFixture(t)
	ctx := context.Background()
	upload := tenantmeter.UsageTypeDocumentUpload

	notifier.On("Notify", mock.Anything, "acme", upload, 0.8).Return(nil).Once()
	notifier.On("Notify", mock.Anything, "acme", upload, 0.9).Return(nil).Once()
	notifier.On("Notify", mock.Anything, "acme", upload, 1.0).Return(nil).Once()

	// 7 of 10: nothing to report
	seed(t, f.store, "acme", upload, now, 7)
	breach, err := dispatcher.Dispatch(ctx, "acme", upload)
	require.NoError(t, err)
	assert.Nil(t, breach)

	// 8 of 10 twice: one alert
	seed(t, f.store, "acme", upload, now, 1)
	breach, err = dispatcher.Dispatch(ctx, "acme", upload)
	require.NoError(t, err)
	require.NotNil(t, breach)
	assert.Equal(t, 0.8, breach.Threshold)

	breach, err = dispatcher.Dispatch(ctx, "acme", upload)
	require.NoError(t, err)
	assert.Nil(t, breach)

	// Jump straight past 0.9 to 1.0: only the highest is sent
	seed(t, f.store, "acme", upload, now, 3)
	breach, err = dispatcher.Dispatch(ctx, "acme", upload)
	require.NoError(t, err)
	require.NotNil(t, breach)
	assert.Equal(t, 1.0, breach.Threshold)

	notifier.AssertNumberOfCalls(t, "Notify", 2)
	notifier.AssertCalled(t, "Notify", mock.Anything, "acme", upload, 0.8)
	notifier.AssertCalled(t, "Notify", mock.Anything, "acme", upload, 1.0)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, "acme", upload, 0.9)
}

func TestAlertDispatcher_RetriesAfterNotifyFailure(t *testing.T) {
	f, notifier, dispatcher := newDispatcherFixture(t)
	ctx := context.Background()
	search := tenantmeter.UsageTypeDocumentSearch

	seed(t, f.store, "acme", search, now, 90)

	boom := errors.New("smtp down")
	notifier.On("Notify", mock.Anything, "acme", search, 0.9).Return(boom).Once()
	notifier.On("Notify", mock.Anything, "acme", search, 0.9).Return(nil).Once()

	_, err := dispatcher.Dispatch(ctx, "acme", search)
	assert.ErrorIs(t, err, boom)

	breach, err := dispatcher.Dispatch(ctx, "acme", search)
	require.NoError(t, err)
	require.NotNil(t, breach)
	assert.Equal(t, 0.9, breach.Threshold)
	notifier.AssertExpectations(t)
}

func TestAlertDispatcher_SkipsUngovernedAndUnknown(t *testing.T) {
	f, notifier, dispatcher := newDispatcherFixture(t)
	ctx := context.Background()

	seed(t, f.store, "acme", tenantmeter.UsageTypeChatMessage, now, 1000)

	breach, err := dispatcher.Dispatch(ctx, "acme", tenantmeter.UsageTypeChatMessage)
	require.NoError(t, err)
	assert.Nil(t, breach)

	breach, err = dispatcher.Dispatch(ctx, "ghost", tenantmeter.UsageTypeDocumentUpload)
	require.NoError(t, err)
	assert.Nil(t, breach)

	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAlertDispatcher_Current(t *testing.T) {
	f, notifier, dispatcher := newDispatcherFixture(t)
	seed(t, f.store, "acme", tenantmeter.UsageTypeDocumentUpload, now, 9)

	breach, err := dispatcher.Current(context.Background(), "acme", tenantmeter.UsageTypeDocumentUpload)
	require.NoError(t, err)
	require.NotNil(t, breach)
	assert.Equal(t, 0.9, breach.Threshold)
	assert.Equal(t, int64(9), breach.Current)
	assert.Equal(t, int64(10), breach.Limit)

	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
