// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MadsRC/tenantmeter"
	"github.com/MadsRC/tenantmeter/internal/api/middleware"
	"github.com/MadsRC/tenantmeter/internal/metering"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// recordUsageRequest is the body of POST /v1/usage
type recordUsageRequest struct {
	UsageType  string          `json:"usageType"`
	TenantID   string          `json:"tenantId"`
	UserID     string          `json:"userId"`
	TokenUsage int64           `json:"tokenUsage"`
	DataSize   int64           `json:"dataSize"`
	Cost       decimal.Decimal `json:"cost"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// meterRequest is the optional body of POST /v1/meter/{usageType}
type meterRequest struct {
	TokenUsage int64           `json:"tokenUsage"`
	DataSize   int64           `json:"dataSize"`
	Cost       decimal.Decimal `json:"cost"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

type tierLimitsResponse struct {
	Tier   tenantmeter.SubscriptionTier `json:"tier"`
	Limits tenantmeter.TierLimits       `json:"limits"`
}

type alertStatusResponse struct {
	TenantID  string                       `json:"tenantId"`
	UsageType tenantmeter.UsageType        `json:"usageType"`
	Breach    *tenantmeter.ThresholdBreach `json:"breach"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	var req recordUsageRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	usageType, err := tenantmeter.ParseUsageType(req.UsageType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.options.Recorder.Record(r.Context(), usageType, metering.RecordOptions{
		TenantID:   req.TenantID,
		UserID:     req.UserID,
		TokenUsage: req.TokenUsage,
		DataSize:   req.DataSize,
		Cost:       req.Cost,
		Metadata:   req.Metadata,
	})
	switch {
	case errors.Is(err, tenantmeter.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.options.Logger.Error("Failed to record usage",
			"error", err,
			"tenantID", req.TenantID,
			"userID", req.UserID,
			"usageType", usageType)
		writeError(w, http.StatusServiceUnavailable, "usage store unavailable")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleCheckLimit passes the raw usage type through, so unknown types are
// evaluated against the most restrictive limit rather than rejected.
func (s *Server) handleCheckLimit(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	usageType := tenantmeter.UsageType(r.PathValue("usageType"))

	res, err := s.options.Checker.CheckLimit(r.Context(), tenantID, usageType)
	if err != nil {
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
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTenantUsage(w http.ResponseWriter, r *http.Request) {
	window, ok := windowParam(w, r)
	if !ok {
		return
	}

	tenantID := r.PathValue("tenantID")
	agg, err := s.options.Aggregator.Aggregate(r.Context(), tenantID, window)
	if err != nil {
		s.options.Logger.Error("Failed to aggregate tenant usage", "error", err, "tenantID", tenantID, "window", window)
		writeError(w, http.StatusServiceUnavailable, "usage store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (s *Server) handleUserUsage(w http.ResponseWriter, r *http.Request) {
	window, ok := windowParam(w, r)
	if !ok {
		return
	}

	userID := r.PathValue("userID")
	agg, err := s.options.Aggregator.AggregateUser(r.Context(), userID, window)
	if err != nil {
		s.options.Logger.Error("Failed to aggregate user usage", "error", err, "userID", userID, "window", window)
		writeError(w, http.StatusServiceUnavailable, "usage store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// handleTierLimits reports the limits a tier is held to. Unknown tiers get
// the free tier's limits, same as quota checks.
func (s *Server) handleTierLimits(w http.ResponseWriter, r *http.Request) {
	tier := tenantmeter.SubscriptionTier(r.PathValue("tier"))
	writeJSON(w, http.StatusOK, tierLimitsResponse{
		Tier:   tier,
		Limits: s.options.Limits.LimitsFor(tier),
	})
}

func (s *Server) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	usageType, err := tenantmeter.ParseUsageType(r.PathValue("usageType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	breach, err := s.options.Alerts.Current(r.Context(), tenantID, usageType)
	if err != nil {
		s.options.Logger.Error("Failed to evaluate alert status", "error", err, "tenantID", tenantID, "usageType", usageType)
		writeError(w, http.StatusServiceUnavailable, "usage store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, alertStatusResponse{
		TenantID:  tenantID,
		UsageType: usageType,
		Breach:    breach,
	})
}

// handleMeter runs behind the quota gate. It only reports the metrics of the
// operation; the gate records them once the response succeeds.
func (s *Server) handleMeter(w http.ResponseWriter, r *http.Request) {
	var req meterRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if usage := middleware.UsageFromContext(r.Context()); usage != nil {
		usage.AddTokens(req.TokenUsage)
		usage.AddDataSize(req.DataSize)
		usage.AddCost(req.Cost)
		for k, v := range req.Metadata {
			usage.SetMetadata(k, v)
		}
	}

	writeJSON(w, http.StatusOK, middleware.CheckResultFromContext(r.Context()))
}

func windowParam(w http.ResponseWriter, r *http.Request) (tenantmeter.Window, bool) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return tenantmeter.WindowMonth, true
	}
	window, err := tenantmeter.ParseWindow(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return window, true
}

func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
