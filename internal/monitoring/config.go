// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MadsRC/tenantmeter/metering"

// Config enables usage metrics. The zero OTLPEndpoint is rejected; callers
// that want metrics off use a nil *Manager instead.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
	Logger         *slog.Logger
	ExportInterval time.Duration
	TLS            bool
}

type Manager struct {
	telemetry    *TelemetryManager
	usageMetrics *UsageMetrics
	config       Config
}

func NewManager(ctx context.Context, config Config) (*Manager, error) {
	telemetry, err := NewTelemetryManager(ctx, TelemetryConfig(config))
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry manager: %w", err)
	}

	usageMetrics, err := NewUsageMetrics(telemetry.GetMeter(meterName))
	if err != nil {
		_ = telemetry.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create usage metrics: %w", err)
	}

	return &Manager{
		telemetry:    telemetry,
		usageMetrics: usageMetrics,
		config:       config,
	}, nil
}

// Enabled reports whether metrics are exported
func (m *Manager) Enabled() bool {
	return m != nil
}

// GetUsageMetrics returns the metering instruments. A nil manager yields nil
// metrics, which every instrument method treats as disabled.
func (m *Manager) GetUsageMetrics() *UsageMetrics {
	if m == nil {
		return nil
	}
	return m.usageMetrics
}

func (m *Manager) GetMeter(instrumentationName string) metric.Meter {
	return m.telemetry.GetMeter(instrumentationName)
}

func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.telemetry.Shutdown(ctx)
}
