package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-pulse/pkg/audit"
	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
)

const testAdminToken = "admin-token-for-tests"

func adminRequest(mux http.Handler, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/admin/refresh", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func newAdminMux(trigger *mockTrigger, token string) *http.ServeMux {
	mux := http.NewServeMux()
	NewAdminHandler(trigger, token, audit.NewSecurityAuditor(zap.NewNop()), zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestAdminHandler_AuditsRejectedTokens(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	mux := http.NewServeMux()
	NewAdminHandler(&mockTrigger{}, testAdminToken, audit.NewSecurityAuditor(zap.New(core)), zap.NewNop()).RegisterRoutes(mux)

	adminRequest(mux, "", `{}`)
	adminRequest(mux, "guess", `{}`)

	logs := recorded.FilterMessage("Admin authentication failed").All()
	require.Len(t, logs, 2)
	assert.Equal(t, "missing_token", logs[0].ContextMap()["reason"])
	assert.Equal(t, "invalid_token", logs[1].ContextMap()["reason"])
	assert.Equal(t, "/api/admin/refresh", logs[1].ContextMap()["path"])
	assert.NotContains(t, logs[1].ContextMap()["event_json"], "guess")
}

func TestAdminHandler_Refresh(t *testing.T) {
	failedID := uuid.New()
	trigger := &mockTrigger{report: models.NewRefreshReport([]models.RefreshResult{
		{ConnectionID: uuid.New(), Success: true},
		{ConnectionID: failedID, Success: false, Error: "connection timed out"},
	})}
	mux := newAdminMux(trigger, testAdminToken)

	rec := adminRequest(mux, testAdminToken, `{"concurrency":3,"force":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var report models.RefreshReport
	resp := decodeEnvelope(t, rec, &report)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{failedID.String()}, report.FailedIDs())
	assert.Equal(t, 3, trigger.lastConcurrency)
	assert.True(t, trigger.lastForce)
}

func TestAdminHandler_Refresh_EmptyBodyUsesDefaults(t *testing.T) {
	trigger := &mockTrigger{report: models.NewRefreshReport(nil)}

	rec := adminRequest(newAdminMux(trigger, testAdminToken), testAdminToken, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, trigger.lastConcurrency)
	assert.False(t, trigger.lastForce)
}

func TestAdminHandler_Refresh_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		body       string
		wantStatus int
	}{
		{"missing token", "", `{}`, http.StatusUnauthorized},
		{"wrong token", "guess", `{}`, http.StatusUnauthorized},
		{"malformed body", testAdminToken, `{"force":`, http.StatusBadRequest},
		{"negative concurrency", testAdminToken, `{"concurrency":-1}`, http.StatusBadRequest},
		{"excessive concurrency", testAdminToken, `{"concurrency":500}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := &mockTrigger{report: models.NewRefreshReport(nil)}

			rec := adminRequest(newAdminMux(trigger, testAdminToken), tt.token, tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Zero(t, trigger.calls)
		})
	}
}

func TestAdminHandler_DisabledWithoutToken(t *testing.T) {
	trigger := &mockTrigger{}

	rec := adminRequest(newAdminMux(trigger, ""), "anything", `{}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, trigger.calls)
}

func TestAdminHandler_Refresh_ListFailure(t *testing.T) {
	trigger := &mockTrigger{err: errors.New("failed to list connections: connection reset")}

	rec := adminRequest(newAdminMux(trigger, testAdminToken), testAdminToken, `{}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}
