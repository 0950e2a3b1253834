// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MadsRC/tenantmeter"
	"github.com/MadsRC/tenantmeter/internal/metering"
	"github.com/MadsRC/tenantmeter/internal/monitoring"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderUserID    = "X-User-ID"
	HeaderRequestID = "X-Request-ID"
)

type contextKey string

const (
	quotaGateUsageKey  contextKey = "quota_gate_usage"
	quotaGateResultKey contextKey = "quota_gate_result"
)

// LimitChecker decides whether a tenant may perform one more operation
type LimitChecker interface {
	CheckLimit(ctx context.Context, tenantID string, usageType tenantmeter.UsageType) (*metering.LimitCheckResult, error)
}

// UsageRecorder persists one usage event
type UsageRecorder interface {
	Record(ctx context.Context, usageType tenantmeter.UsageType, opts metering.RecordOptions) error
}

// AlertDispatcher is told about every recorded event so threshold alerts go
// out as soon as usage crosses them.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, tenantID string, usageType tenantmeter.UsageType) (*tenantmeter.ThresholdBreach, error)
}

// UsageTypeResolver picks the usage type a request is metered as
type UsageTypeResolver func(r *http.Request) (tenantmeter.UsageType, error)

// Fixed meters every request as usageType
func Fixed(usageType tenantmeter.UsageType) UsageTypeResolver {
	return func(*http.Request) (tenantmeter.UsageType, error) {
		return usageType, nil
	}
}

// FromPathValue reads the usage type from the named route wildcard
func FromPathValue(name string) UsageTypeResolver {
	return func(r *http.Request) (tenantmeter.UsageType, error) {
		return tenantmeter.ParseUsageType(r.PathValue(name))
	}
}

// Usage collects the metrics a metered handler wants recorded with its event.
// It is safe for concurrent use.
type Usage struct {
	mu         sync.Mutex
	tokenUsage int64
	dataSize   int64
	cost       decimal.Decimal
	metadata   map[string]any
}

// UsageFromContext returns the collector the gate placed in ctx, or nil
func UsageFromContext(ctx context.Context) *Usage {
	u, _ := ctx.Value(quotaGateUsageKey).(*Usage)
	return u
}

// CheckResultFromContext returns the quota decision that admitted the request
func CheckResultFromContext(ctx context.Context) *metering.LimitCheckResult {
	res, _ := ctx.Value(quotaGateResultKey).(*metering.LimitCheckResult)
	return res
}

func (u *Usage) AddTokens(n int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tokenUsage += n
}

func (u *Usage) AddDataSize(n int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.dataSize += n
}

func (u *Usage) AddCost(d decimal.Decimal) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cost = u.cost.Add(d)
}

func (u *Usage) SetMetadata(key string, value any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.metadata == nil {
		u.metadata = make(map[string]any)
	}
	u.metadata[key] = value
}

func (u *Usage) recordOptions(tenantID, userID string) metering.RecordOptions {
	u.mu.Lock()
	defer u.mu.Unlock()
	return metering.RecordOptions{
		TenantID:   tenantID,
		UserID:     userID,
		TokenUsage: u.tokenUsage,
		DataSize:   u.dataSize,
		Cost:       u.cost,
		Metadata:   u.metadata,
	}
}

type usageEvent struct {
	requestID string
	usageType tenantmeter.UsageType
	opts      metering.RecordOptions
}

// QuotaGate refuses metered requests once the tenant's quota is spent and
// records the usage of requests that succeed. Recording happens on a
// background worker and never delays or fails the response.
type QuotaGate struct {
	checker       LimitChecker
	recorder      UsageRecorder
	dispatcher    AlertDispatcher
	logger        *slog.Logger
	metrics       *monitoring.UsageMetrics
	recordTimeout time.Duration
	bufferSize    int

	eventsCh     chan *usageEvent
	done         chan struct{}
	finished     chan struct{}
	shutdownOnce sync.Once

	// closed is set under the write lock so no event is queued after the
	// worker starts draining.
	mu     sync.RWMutex
	closed bool
}

type QuotaGateOption func(*QuotaGate)

func WithLogger(logger *slog.Logger) QuotaGateOption {
	return func(g *QuotaGate) {
		g.logger = logger
	}
}

func WithMetrics(metrics *monitoring.UsageMetrics) QuotaGateOption {
	return func(g *QuotaGate) {
		g.metrics = metrics
	}
}

// WithDispatcher runs the alert dispatcher after every recorded event
func WithDispatcher(dispatcher AlertDispatcher) QuotaGateOption {
	return func(g *QuotaGate) {
		g.dispatcher = dispatcher
	}
}

// WithBufferSize sets how many events may wait for the worker before new
// ones are dropped. Defaults to 1000.
func WithBufferSize(n int) QuotaGateOption {
	return func(g *QuotaGate) {
		g.bufferSize = n
	}
}

// WithRecordTimeout bounds each background Record call. Defaults to 5s.
func WithRecordTimeout(d time.Duration) QuotaGateOption {
	return func(g *QuotaGate) {
		g.recordTimeout = d
	}
}

// NewQuotaGate creates a new gate and starts its worker. Shutdown must be
// called to stop it.
func NewQuotaGate(checker LimitChecker, recorder UsageRecorder, options ...QuotaGateOption) *QuotaGate {
	g := &QuotaGate{
		checker:       checker,
		recorder:      recorder,
		logger:        slog.Default(),
		recordTimeout: 5 * time.Second,
		bufferSize:    1000,
		done:          make(chan struct{}),
		finished:      make(chan struct{}),
	}

	for _, opt := range options {
		opt(g)
	}

	g.eventsCh = make(chan *usageEvent, g.bufferSize)

	go g.processEvents()

	return g
}

// Gate wraps next so it only runs while the tenant named by the X-Tenant-ID
// header has quota left for the resolved usage type.
func (g *QuotaGate) Gate(resolve UsageTypeResolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(HeaderTenantID)
		if tenantID == "" {
			writeError(w, http.StatusBadRequest, "missing "+HeaderTenantID+" header")
			return
		}
		userID := r.Header.Get(HeaderUserID)

		usageType, err := resolve(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		res, err := g.checker.CheckLimit(r.Context(), tenantID, usageType)
		if err != nil {
			g.logger.Error("Quota check failed, refusing request",
				"error", err,
				"request_id", requestID,
				"tenantID", tenantID,
				"usageType", usageType)
			if res == nil {
				writeError(w, http.StatusServiceUnavailable, metering.ReasonUnavailable)
				return
			}
			writeJSON(w, http.StatusServiceUnavailable, res)
			return
		}
		if !res.Allowed {
			writeJSON(w, http.StatusTooManyRequests, res)
			return
		}

		usage := &Usage{}
		ctx := context.WithValue(r.Context(), quotaGateUsageKey, usage)
		ctx = context.WithValue(ctx, quotaGateResultKey, res)

		recorder := &responseRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		if recorder.statusCode < 200 || recorder.statusCode >= 300 {
			return
		}

		g.enqueue(r.Context(), &usageEvent{
			requestID: requestID,
			usageType: usageType,
			opts:      usage.recordOptions(tenantID, userID),
		})
	})
}

func (g *QuotaGate) enqueue(ctx context.Context, event *usageEvent) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		g.logger.Warn("Quota gate is shut down, dropping event",
			"request_id", event.requestID,
			"usageType", event.usageType)
		g.metrics.RecordEventDropped(ctx, event.usageType.String())
		return
	}

	select {
	case g.eventsCh <- event:
		g.metrics.UpdateQueueSize(ctx, int64(len(g.eventsCh)))
	default:
		// Channel is full, drop event to prevent blocking
		g.logger.Warn("Usage channel full, dropping event",
			"request_id", event.requestID,
			"usageType", event.usageType)
		g.metrics.RecordEventDropped(ctx, event.usageType.String())
	}
}

func (g *QuotaGate) processEvents() {
	defer close(g.finished)

	for {
		select {
		case event := <-g.eventsCh:
			g.handle(event)

		case <-g.done:
			g.logger.Info("Quota gate shutting down", "pending", len(g.eventsCh))

			// Process remaining events
			for {
				select {
				case event := <-g.eventsCh:
					g.handle(event)
				default:
					return
				}
			}
		}
	}
}

func (g *QuotaGate) handle(event *usageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), g.recordTimeout)
	defer cancel()

	g.metrics.UpdateQueueSize(ctx, int64(len(g.eventsCh)))

	if err := g.recorder.Record(ctx, event.usageType, event.opts); err != nil {
		g.logger.Error("Failed to record usage event",
			"error", err,
			"request_id", event.requestID,
			"tenantID", event.opts.TenantID,
			"userID", event.opts.UserID,
			"usageType", event.usageType)
		return
	}

	g.logger.Debug("Usage event recorded",
		"request_id", event.requestID,
		"tenantID", event.opts.TenantID,
		"usageType", event.usageType)

	if g.dispatcher == nil || event.opts.TenantID == "" {
		return
	}
	if _, err := g.dispatcher.Dispatch(ctx, event.opts.TenantID, event.usageType); err != nil {
		g.logger.Error("Failed to dispatch threshold alert",
			"error", err,
			"tenantID", event.opts.TenantID,
			"usageType", event.usageType)
	}
}

// Shutdown stops accepting work, records every queued event and waits for
// the worker to exit.
func (g *QuotaGate) Shutdown() {
	g.shutdownOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()
		close(g.done)
	})
	<-g.finished
}

// responseRecorder captures the status code written by the wrapped handler
type responseRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	if !r.wroteHeader {
		r.statusCode = statusCode
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
