// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"errors"
	"log/slog"

	"github.com/MadsRC/tenantmeter"
	"github.com/MadsRC/tenantmeter/internal/monitoring"
	"github.com/coder/quartz"
)

var _ tenantmeter.UsageBucketStore = (*UsageBucketRepository)(nil)

// UsageBucketRepository is the postgres implementation of [tenantmeter.UsageBucketStore]
type UsageBucketRepository struct {
	options *usageBucketRepositoryOptions
}

// NewUsageBucketRepository creates a new [UsageBucketRepository].
func NewUsageBucketRepository(options ...UsageBucketRepositoryOption) (*UsageBucketRepository, error) {
	opts := defaultUsageBucketRepositoryOptions
	for _, opt := range GlobalUsageBucketRepositoryOptions {
		opt.apply(&opts)
	}
	for _, opt := range options {
		opt.apply(&opts)
	}

	if opts.Db == nil {
		return nil, errors.New("usage bucket repository requires a database connection")
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}

	return &UsageBucketRepository{
		options: &opts,
	}, nil
}

type usageBucketRepositoryOptions struct {
	Logger  *slog.Logger
	Db      PgxPoolInterface
	Clock   quartz.Clock
	Metrics *monitoring.UsageMetrics
}

var defaultUsageBucketRepositoryOptions = usageBucketRepositoryOptions{
	Logger: slog.Default(),
}

// GlobalUsageBucketRepositoryOptions is a list of [UsageBucketRepositoryOption]s that are applied to all [UsageBucketRepository]s.
var GlobalUsageBucketRepositoryOptions []UsageBucketRepositoryOption

// UsageBucketRepositoryOption is an option for configuring a [UsageBucketRepository].
type UsageBucketRepositoryOption interface {
	apply(*usageBucketRepositoryOptions)
}

type funcUsageBucketRepositoryOption struct {
	f func(*usageBucketRepositoryOptions)
}

func (fdo *funcUsageBucketRepositoryOption) apply(opts *usageBucketRepositoryOptions) {
	fdo.f(opts)
}

func newFuncUsageBucketRepositoryOption(f func(*usageBucketRepositoryOptions)) *funcUsageBucketRepositoryOption {
	return &funcUsageBucketRepositoryOption{
		f: f,
	}
}

// WithUsageBucketRepositoryLogger returns a [UsageBucketRepositoryOption] that uses the provided logger.
func WithUsageBucketRepositoryLogger(logger *slog.Logger) UsageBucketRepositoryOption {
	return newFuncUsageBucketRepositoryOption(func(opts *usageBucketRepositoryOptions) {
		opts.Logger = logger
	})
}

// WithUsageBucketRepositoryDb returns a [UsageBucketRepositoryOption] that uses the provided database connection.
func WithUsageBucketRepositoryDb(db PgxPoolInterface) UsageBucketRepositoryOption {
	return newFuncUsageBucketRepositoryOption(func(opts *usageBucketRepositoryOptions) {
		opts.Db = db
	})
}

// WithUsageBucketRepositoryClock returns a [UsageBucketRepositoryOption] that stamps rows with the provided clock.
func WithUsageBucketRepositoryClock(clock quartz.Clock) UsageBucketRepositoryOption {
	return newFuncUsageBucketRepositoryOption(func(opts *usageBucketRepositoryOptions) {
		opts.Clock = clock
	})
}

// WithUsageBucketRepositoryMetrics returns a [UsageBucketRepositoryOption] that reports failed queries.
func WithUsageBucketRepositoryMetrics(metrics *monitoring.UsageMetrics) UsageBucketRepositoryOption {
	return newFuncUsageBucketRepositoryOption(func(opts *usageBucketRepositoryOptions) {
		opts.Metrics = metrics
	})
}
