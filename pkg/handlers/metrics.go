package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
	"github.com/ekaya-inc/ekaya-pulse/pkg/services"
)

// SeriesResponse wraps a time series.
type SeriesResponse struct {
	Kind   models.SeriesKind `json:"kind"`
	Range  models.TimeRange  `json:"range"`
	Points any               `json:"points"`
}

// MetricsHandler serves metric snapshots and time series.
type MetricsHandler struct {
	metricsService services.MetricsService
	logger         *zap.Logger
}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler(metricsService services.MetricsService, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{
		metricsService: metricsService,
		logger:         logger.Named("metrics-handler"),
	}
}

// RegisterRoutes registers the metrics handler's routes on the given mux.
func (h *MetricsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/connections/{id}/metrics", h.GetMetrics)
	mux.HandleFunc("GET /api/connections/{id}/series/{kind}", h.GetSeries)
}

// GetMetrics handles GET /api/connections/{id}/metrics
// force=true bypasses the cache and the persisted base metrics.
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}
	force, ok := ParseBoolQuery(w, r, "force", h.logger)
	if !ok {
		return
	}

	snap, err := h.metricsService.GetMetrics(r.Context(), id, force)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteData(w, http.StatusOK, snap, h.logger)
}

// GetSeries handles GET /api/connections/{id}/series/{kind}?range=7d|30d|all
func (h *MetricsHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	kind, err := models.ParseSeriesKind(r.PathValue("kind"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_series_kind", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	rng, err := models.ParseTimeRange(r.URL.Query().Get("range"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_range", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var points any
	switch kind {
	case models.SeriesGrowth:
		points, err = h.metricsService.GetGrowthSeries(r.Context(), id, rng)
	case models.SeriesNewUsers:
		points, err = h.metricsService.GetNewUsersSeries(r.Context(), id, rng)
	case models.SeriesWeeklyActiveUsers:
		points, err = h.metricsService.GetWeeklyActiveUsersSeries(r.Context(), id, rng)
	}
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteData(w, http.StatusOK, SeriesResponse{Kind: kind, Range: rng, Points: points}, h.logger)
}
