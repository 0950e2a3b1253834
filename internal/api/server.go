// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MadsRC/tenantmeter"
	"github.com/MadsRC/tenantmeter/internal/api/middleware"
	"github.com/MadsRC/tenantmeter/internal/metering"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var (
	_ middleware.LimitChecker  = (*metering.QuotaEvaluator)(nil)
	_ middleware.UsageRecorder = (*metering.UsageRecorder)(nil)
	_ Aggregator               = (*metering.PeriodAggregator)(nil)
	_ LimitTable               = (*metering.TierLimitTable)(nil)
	_ AlertSource              = (*metering.AlertDispatcher)(nil)
)

// Aggregator sums usage buckets over a window
type Aggregator interface {
	Aggregate(ctx context.Context, tenantID string, window tenantmeter.Window) (*tenantmeter.PeriodAggregate, error)
	AggregateUser(ctx context.Context, userID string, window tenantmeter.Window) (*tenantmeter.PeriodAggregate, error)
}

// LimitTable looks up the limits of a subscription tier
type LimitTable interface {
	LimitsFor(tier tenantmeter.SubscriptionTier) tenantmeter.TierLimits
}

// AlertSource reports the highest threshold a tenant has reached
type AlertSource interface {
	Current(ctx context.Context, tenantID string, usageType tenantmeter.UsageType) (*tenantmeter.ThresholdBreach, error)
}

type Server struct {
	options    *serverOptions
	mux        *http.ServeMux
	httpServer *http.Server
}

type serverOptions struct {
	Logger       *slog.Logger
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
	Recorder     middleware.UsageRecorder
	Checker      middleware.LimitChecker
	Aggregator   Aggregator
	Limits       LimitTable
	Alerts       AlertSource
	QuotaGate    *middleware.QuotaGate
}

// GlobalServerOptions are applied to every Server before the options passed
// to NewServer.
var GlobalServerOptions []ServerOption

type ServerOption interface {
	apply(*serverOptions)
}

type serverOptionFunc func(*serverOptions)

func (f serverOptionFunc) apply(opts *serverOptions) {
	f(opts)
}

func WithServerLogger(logger *slog.Logger) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.Logger = logger
	})
}

func WithServerAddr(addr string) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.Addr = addr
	})
}

func WithServerReadTimeout(timeout time.Duration) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.ReadTimeout = timeout
	})
}

func WithServerWriteTimeout(timeout time.Duration) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.WriteTimeout = timeout
	})
}

func WithServerIdleTimeout(timeout time.Duration) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.IdleTimeout = timeout
	})
}

// WithServerCORSOrigins allows browser calls from origins. No CORS headers
// are sent when the list is empty.
func WithServerCORSOrigins(origins ...string) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.CORSOrigins = append(opts.CORSOrigins, origins...)
	})
}

func WithServerRecorder(recorder middleware.UsageRecorder) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.Recorder = recorder
	})
}

func WithServerLimitChecker(checker middleware.LimitChecker) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.Checker = checker
	})
}

func WithServerAggregator(aggregator Aggregator) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.Aggregator = aggregator
	})
}

func WithServerLimitTable(table LimitTable) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.Limits = table
	})
}

// WithServerAlertSource enables the alert status route
func WithServerAlertSource(alerts AlertSource) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.Alerts = alerts
	})
}

// WithServerQuotaGate enables the metered pass-through route. The server
// shuts the gate down with itself.
func WithServerQuotaGate(gate *middleware.QuotaGate) ServerOption {
	return serverOptionFunc(func(opts *serverOptions) {
		opts.QuotaGate = gate
	})
}

func NewServer(options ...ServerOption) (*Server, error) {
	opts := &serverOptions{
		Logger:       slog.Default(),
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	for _, option := range GlobalServerOptions {
		option.apply(opts)
	}
	for _, option := range options {
		option.apply(opts)
	}

	switch {
	case opts.Recorder == nil:
		return nil, errors.New("server requires a usage recorder")
	case opts.Checker == nil:
		return nil, errors.New("server requires a limit checker")
	case opts.Aggregator == nil:
		return nil, errors.New("server requires an aggregator")
	case opts.Limits == nil:
		return nil, errors.New("server requires a tier limit table")
	}

	server := &Server{
		options: opts,
		mux:     http.NewServeMux(),
	}
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}

	return server, nil
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /v1/usage", s.handleRecordUsage)
	s.mux.HandleFunc("GET /v1/tenants/{tenantID}/quota/{usageType}", s.handleCheckLimit)
	s.mux.HandleFunc("GET /v1/tenants/{tenantID}/usage", s.handleTenantUsage)
	s.mux.HandleFunc("GET /v1/users/{userID}/usage", s.handleUserUsage)
	s.mux.HandleFunc("GET /v1/tiers/{tier}", s.handleTierLimits)

	if s.options.Alerts != nil {
		s.mux.HandleFunc("GET /v1/tenants/{tenantID}/alerts/{usageType}", s.handleAlertStatus)
	}

	if s.options.QuotaGate != nil {
		s.mux.Handle("POST /v1/meter/{usageType}",
			s.options.QuotaGate.Gate(middleware.FromPathValue("usageType"), http.HandlerFunc(s.handleMeter)))
	}
}

// Handler returns the routes wrapped in CORS handling and h2c, so HTTP/2
// works without TLS.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux
	if len(s.options.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: s.options.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{
				"Content-Type",
				middleware.HeaderTenantID,
				middleware.HeaderUserID,
				middleware.HeaderRequestID,
			},
			MaxAge: 7200,
		}).Handler(handler)
	}
	return h2c.NewHandler(handler, &http2.Server{})
}

func (s *Server) Start(ctx context.Context) error {
	s.options.Logger.Info("Starting metering API server", "addr", s.options.Addr)

	listener, err := net.Listen("tcp", s.options.Addr)
	if err != nil {
		s.stopQuotaGate()
		return fmt.Errorf("failed to listen on %s: %w", s.options.Addr, err)
	}

	serverErrors := make(chan error, 1)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		s.stopQuotaGate()
		return err
	case <-ctx.Done():
		return s.Shutdown(context.WithoutCancel(ctx))
	}
}

// stopQuotaGate records whatever the gate has queued. It is safe to call
// more than once.
func (s *Server) stopQuotaGate() {
	if s.options.QuotaGate != nil {
		s.options.QuotaGate.Shutdown()
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.options.Logger.Info("Shutting down metering API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)

	// after the listener is closed no new events can be queued
	s.stopQuotaGate()

	if err != nil {
		s.options.Logger.Error("Failed to gracefully shutdown server", "error", err)
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.options.Logger.Info("Metering API server stopped")
	return nil
}

func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}
