// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package monitoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TelemetryConfig describes where usage metrics are exported to
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
	Logger         *slog.Logger

	// ExportInterval is how often metrics are pushed. Defaults to 30s.
	ExportInterval time.Duration
	// TLS enables transport security towards the collector
	TLS bool
}

const defaultExportInterval = 30 * time.Second

// TelemetryManager owns the meter provider the metering instruments are created from
type TelemetryManager struct {
	meterProvider *sdkmetric.MeterProvider
	config        TelemetryConfig
}

// NewTelemetryManager creates a meter provider that pushes to an OTLP gRPC
// collector and installs it as the global provider.
func NewTelemetryManager(ctx context.Context, config TelemetryConfig) (*TelemetryManager, error) {
	if config.OTLPEndpoint == "" {
		return nil, errors.New("OTLP endpoint is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := config.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporterOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
	if !config.TLS {
		exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	logger.Info("OTLP metrics enabled",
		"endpoint", config.OTLPEndpoint,
		"interval", interval.String(),
		"tls", config.TLS)

	return newTelemetryManager(config, sdkmetric.WithResource(res), sdkmetric.WithReader(reader)), nil
}

func newTelemetryManager(config TelemetryConfig, opts ...sdkmetric.Option) *TelemetryManager {
	meterProvider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	return &TelemetryManager{
		meterProvider: meterProvider,
		config:        config,
	}
}

func (tm *TelemetryManager) GetMeter(instrumentationName string) metric.Meter {
	return tm.meterProvider.Meter(instrumentationName)
}

// Shutdown flushes pending metrics and stops the exporter
func (tm *TelemetryManager) Shutdown(ctx context.Context) error {
	if err := tm.meterProvider.ForceFlush(ctx); err != nil {
		return errors.Join(fmt.Errorf("failed to flush metrics: %w", err), tm.meterProvider.Shutdown(ctx))
	}
	return tm.meterProvider.Shutdown(ctx)
}
