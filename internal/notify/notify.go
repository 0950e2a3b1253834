// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package notify holds tenantmeter.Notifier implementations.
package notify

import (
	"context"
	"log/slog"

	"github.com/MadsRC/tenantmeter"
)

var _ tenantmeter.Notifier = (*LogNotifier)(nil)

// LogNotifier writes threshold alerts to a structured log
type LogNotifier struct {
	logger *slog.Logger
	level  slog.Level
}

type LogNotifierOption func(*LogNotifier)

func WithLogger(logger *slog.Logger) LogNotifierOption {
	return func(n *LogNotifier) {
		n.logger = logger
	}
}

// WithLevel sets the level alerts are logged at. Defaults to warn.
func WithLevel(level slog.Level) LogNotifierOption {
	return func(n *LogNotifier) {
		n.level = level
	}
}

func NewLogNotifier(options ...LogNotifierOption) *LogNotifier {
	n := &LogNotifier{
		logger: slog.Default(),
		level:  slog.LevelWarn,
	}
	for _, opt := range options {
		opt(n)
	}
	return n
}

func (n *LogNotifier) Notify(ctx context.Context, tenantID string, usageType tenantmeter.UsageType, threshold float64) error {
	n.logger.Log(ctx, n.level, "Usage threshold reached",
		"tenantID", tenantID,
		"usageType", usageType.String(),
		"threshold", threshold)
	return nil
}
