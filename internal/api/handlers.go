package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wxdecoder/wxdecoder/internal/airports"
	"github.com/wxdecoder/wxdecoder/internal/analysis"
	"github.com/wxdecoder/wxdecoder/internal/physics"
	"github.com/wxdecoder/wxdecoder/internal/ratelimit"
	"github.com/wxdecoder/wxdecoder/internal/settings"
	"github.com/wxdecoder/wxdecoder/internal/weather"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// Request headers read by the analyze endpoint
const (
	HeaderClientID     = "X-Client-ID"
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderKioskKey     = "X-Kiosk-Key"
)

const (
	maxBodyBytes = 16 << 10
	peekTimeout  = 15 * time.Second
)

// Analyzer runs the briefing pipeline
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request, caller analysis.Caller) (*analysis.Outcome, error)
}

// SettingsSource yields the current runtime settings
type SettingsSource interface {
	Current(ctx context.Context) settings.Snapshot
}

// ErrorResponse is the body of every non-200 JSON reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler contains the API handlers
type Handler struct {
	analyzer Analyzer
	settings SettingsSource
	weather  weather.Fetcher
	version  string
	logger   *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(analyzer Analyzer, settings SettingsSource, wx weather.Fetcher, version string, log *logger.Logger) *Handler {
	return &Handler{
		analyzer: analyzer,
		settings: settings,
		weather:  wx,
		version:  version,
		logger:   log.Named("api-handler"),
	}
}

// Analyze handles POST /api/analyze
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	defer func() {
		// The pipeline has already logged the request and raised the alert
		if rec := recover(); rec != nil {
			h.logger.Error("Analysis panicked", logger.Any("panic", rec))
			WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal Server Error"})
		}
	}()

	snap := h.settings.Current(r.Context())
	if snap.GlobalPause {
		msg := snap.GlobalPauseMessage
		if msg == "" {
			msg = settings.DefaultPauseMessage
		}
		WriteJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: msg})
		return
	}

	var req analysis.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	caller := analysis.Caller{
		ClientID:     r.Header.Get(HeaderClientID),
		ForwardedFor: r.Header.Get(HeaderForwardedFor),
		RemoteAddr:   r.RemoteAddr,
		KioskKey:     r.Header.Get(HeaderKioskKey),
	}

	out, err := h.analyzer.Analyze(r.Context(), req, caller)
	switch {
	case errors.Is(err, airports.ErrNotFound):
		WriteJSON(w, http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("Airport '%s' not found.", strings.ToUpper(strings.TrimSpace(req.ICAO))),
		})
		return
	case errors.Is(err, ratelimit.ErrRateLimited):
		WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: ratelimit.RejectionMessage})
		return
	case err != nil:
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal Server Error"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", out.RequestID)
	w.Header().Set("X-Cache-Status", out.Status)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Body); err != nil {
		h.logger.Debug("Failed to write analysis response", logger.Error(err))
	}
}

// GetSystemStatus returns the banner shown by the frontend
func (h *Handler) GetSystemStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.settings.Current(r.Context())
	WriteJSON(w, http.StatusOK, map[string]any{
		"banner_enabled": snap.BannerEnabled,
		"banner_message": snap.BannerMessage,
	})
}

// ManualCrosswindRequest is the body of POST /api/calculate-manual
type ManualCrosswindRequest struct {
	RunwayHeading *float64 `json:"rwy_heading"`
	WindDir       *float64 `json:"wind_dir"`
	WindSpeed     *float64 `json:"wind_speed"`
}

// CalculateManual computes a crosswind component without any lookups
func (h *Handler) CalculateManual(w http.ResponseWriter, r *http.Request) {
	var req ManualCrosswindRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.RunwayHeading == nil || req.WindDir == nil || req.WindSpeed == nil {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "rwy_heading, wind_dir and wind_speed are required"})
		return
	}
	if *req.WindSpeed < 0 {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "wind_speed must not be negative"})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"crosswind": physics.Crosswind(*req.RunwayHeading, *req.WindDir, *req.WindSpeed),
	})
}

// KioskPeek returns only the raw METAR so a kiosk can poll for changes
// without triggering a briefing
func (h *Handler) KioskPeek(w http.ResponseWriter, r *http.Request) {
	icao := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "icao")))

	ctx, cancel := context.WithTimeout(r.Context(), peekTimeout)
	defer cancel()

	obs, err := h.weather.FetchWeather(ctx, icao)
	if err != nil || !obs.HasMETAR() {
		if err != nil {
			h.logger.Debug("Kiosk peek failed", logger.String("icao", icao), logger.Error(err))
		}
		WriteJSON(w, http.StatusOK, map[string]any{"status": "unavailable", "raw_metar": nil})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "success", "raw_metar": obs.METAR})
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
	})
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
