package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pulse/pkg/audit"
	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
)

// maxRefreshConcurrency caps the concurrency an admin may request.
const maxRefreshConcurrency = 50

// RefreshTrigger starts a batch refresh and waits for its report.
// *services.RefreshScheduler satisfies it.
type RefreshTrigger interface {
	Trigger(ctx context.Context, concurrency int, force bool) (*models.RefreshReport, error)
}

// RefreshRequest for POST /api/admin/refresh. Both fields are optional.
type RefreshRequest struct {
	Concurrency int  `json:"concurrency"`
	Force       bool `json:"force"`
}

// AdminHandler serves operator endpoints guarded by a bearer token.
type AdminHandler struct {
	trigger RefreshTrigger
	token   string
	auditor *audit.SecurityAuditor
	logger  *zap.Logger
}

// NewAdminHandler creates a new admin handler. An empty token disables every
// admin endpoint.
func NewAdminHandler(trigger RefreshTrigger, token string, auditor *audit.SecurityAuditor, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		trigger: trigger,
		token:   token,
		auditor: auditor,
		logger:  logger.Named("admin-handler"),
	}
}

// RegisterRoutes registers the admin handler's routes on the given mux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/admin/refresh", h.requireToken(h.Refresh))
}

// requireToken rejects requests without the admin bearer token.
func (h *AdminHandler) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Admin endpoints are disabled"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}

		supplied, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(supplied), []byte(h.token)) != 1 {
			reason := "invalid_token"
			if !found {
				reason = "missing_token"
			}
			h.auditor.LogAdminAuthFailure(r.URL.Path, reason, r.RemoteAddr)
			if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid admin token"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}

		next(w, r)
	}
}

// Refresh handles POST /api/admin/refresh
// Runs a batch refresh of every connection and returns the report.
func (h *AdminHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Concurrency < 0 || req.Concurrency > maxRefreshConcurrency {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_concurrency", "concurrency must be between 1 and 50"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.logger.Info("Manual refresh requested",
		zap.Int("concurrency", req.Concurrency),
		zap.Bool("force", req.Force))

	report, err := h.trigger.Trigger(r.Context(), req.Concurrency, req.Force)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteData(w, http.StatusOK, report, h.logger)
}
