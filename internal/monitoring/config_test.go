// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package monitoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_RequiresEndpoint(t *testing.T) {
	m, err := NewManager(context.Background(), Config{ServiceName: "meterd"})
	require.Error(t, err)
	assert.Nil(t, m)
	assert.ErrorContains(t, err, "OTLP endpoint is required")
}

func TestManager_NilIsDisabled(t *testing.T) {
	var m *Manager

	assert.False(t, m.Enabled())
	assert.Nil(t, m.GetUsageMetrics())
	assert.NoError(t, m.Shutdown(context.Background()))

	// every instrument method tolerates the nil metrics of a disabled manager
	metrics := m.GetUsageMetrics()
	assert.NotPanics(t, func() {
		ctx := context.Background()
		metrics.RecordEventRecorded(ctx, "chat_message", "tenant")
		metrics.RecordQuotaCheck(ctx, "document_upload", false)
		metrics.UpdateQueueSize(ctx, 3)
		metrics.RecordStorageError(ctx, "upsert", "redis")
	})
}
