package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pulse/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
)

func newMetricsMux(svc *mockMetricsService) *http.ServeMux {
	mux := http.NewServeMux()
	NewMetricsHandler(svc, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestMetricsHandler_GetMetrics(t *testing.T) {
	total, paid := int64(200), int64(50)
	rate := 25.0
	svc := &mockMetricsService{snapshot: &models.MetricsSnapshot{
		TotalUsers:     &total,
		PaidUsers:      &paid,
		NewSignups30d:  12,
		ConversionRate: &rate,
		ComputedAt:     time.Date(2025, 3, 19, 12, 0, 0, 0, time.UTC),
	}}
	mux := newMetricsMux(svc)

	rec := serve(mux, http.MethodGet, "/api/connections/"+uuid.NewString()+"/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var snap models.MetricsSnapshot
	resp := decodeEnvelope(t, rec, &snap)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(200), *snap.TotalUsers)
	assert.Equal(t, 25.0, *snap.ConversionRate)
	assert.Nil(t, snap.MonthlyGrowthRate)
	assert.Contains(t, rec.Body.String(), `"monthly_growth_rate":null`, "unknown values serialize as null")
	assert.False(t, svc.lastForce)

	rec = serve(mux, http.MethodGet, "/api/connections/"+uuid.NewString()+"/metrics?force=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.lastForce)
}

func TestMetricsHandler_GetMetrics_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
	}{
		{"invalid id", "/api/connections/abc/metrics", nil, http.StatusBadRequest},
		{"invalid force", "/api/connections/" + uuid.NewString() + "/metrics?force=maybe", nil, http.StatusBadRequest},
		{"not found", "/api/connections/" + uuid.NewString() + "/metrics", apperrors.ErrNotFound, http.StatusNotFound},
		{"tenant unreachable", "/api/connections/" + uuid.NewString() + "/metrics",
			apperrors.NewConnectionError(apperrors.ReasonConnectionRefused, "connection refused", nil), http.StatusBadGateway},
		{"tampered credentials", "/api/connections/" + uuid.NewString() + "/metrics",
			apperrors.NewDecryptionError("failed to decrypt", nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newMetricsMux(&mockMetricsService{err: tt.err}), http.MethodGet, tt.path, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestMetricsHandler_GetSeries(t *testing.T) {
	day := models.NewDate(time.Date(2025, 3, 19, 0, 0, 0, 0, time.UTC))
	svc := &mockMetricsService{
		growth:   []models.GrowthPoint{{Date: day, Users: 10}},
		newUsers: []models.NewUsersPoint{{Date: day, NewUsers: 3}},
		wau:      []models.WeeklyActivePoint{{Date: day, WAU: 7}},
	}
	mux := newMetricsMux(svc)
	base := "/api/connections/" + uuid.NewString() + "/series/"

	tests := []struct {
		kind      string
		query     string
		wantKind  models.SeriesKind
		wantRange models.TimeRange
		wantField string
	}{
		{"growth", "?range=7d", models.SeriesGrowth, models.TimeRange7d, `"users":10`},
		{"new-users", "", models.SeriesNewUsers, models.TimeRange30d, `"new_users":3`},
		{"weekly-active-users", "?range=all", models.SeriesWeeklyActiveUsers, models.TimeRangeAll, `"wau":7`},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			rec := serve(mux, http.MethodGet, base+tt.kind+tt.query, "")

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantKind, svc.lastKind)
			assert.Equal(t, tt.wantRange, svc.lastRange)
			assert.Contains(t, rec.Body.String(), tt.wantField)
			assert.Contains(t, rec.Body.String(), `"date":"2025-03-19"`)
		})
	}
}

func TestMetricsHandler_GetSeries_InvalidInput(t *testing.T) {
	mux := newMetricsMux(&mockMetricsService{})
	base := "/api/connections/" + uuid.NewString() + "/series/"

	rec := serve(mux, http.MethodGet, base+"revenue", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_series_kind", decodeEnvelope(t, rec, nil).Error)

	rec = serve(mux, http.MethodGet, base+"growth?range=90d", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_range", decodeEnvelope(t, rec, nil).Error)
}
