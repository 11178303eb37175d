package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
	"github.com/ekaya-inc/ekaya-pulse/pkg/services"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 64 << 10

// CreateConnectionRequest for POST body.
type CreateConnectionRequest struct {
	ConnectionString string   `json:"connection_string"`
	SelectedTables   []string `json:"selected_tables,omitempty"`
}

// ListConnectionsResponse wraps the connection list.
type ListConnectionsResponse struct {
	Connections []*models.Connection `json:"connections"`
}

// ConnectionsHandler handles connection registration and lookup.
type ConnectionsHandler struct {
	connectionService services.ConnectionService
	logger            *zap.Logger
}

// NewConnectionsHandler creates a new connections handler.
func NewConnectionsHandler(connectionService services.ConnectionService, logger *zap.Logger) *ConnectionsHandler {
	return &ConnectionsHandler{
		connectionService: connectionService,
		logger:            logger.Named("connections-handler"),
	}
}

// RegisterRoutes registers the connections handler's routes on the given mux.
func (h *ConnectionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/connections", h.Create)
	mux.HandleFunc("GET /api/connections", h.List)
	mux.HandleFunc("GET /api/connections/{id}", h.Get)
	mux.HandleFunc("DELETE /api/connections/{id}", h.Delete)
}

// Create handles POST /api/connections
// Tests the connection string and registers the database.
func (h *ConnectionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateConnectionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	created, err := h.connectionService.Create(r.Context(), req.ConnectionString, req.SelectedTables)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteData(w, http.StatusCreated, created, h.logger)
}

// List handles GET /api/connections
func (h *ConnectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	conns, err := h.connectionService.List(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteData(w, http.StatusOK, ListConnectionsResponse{Connections: conns}, h.logger)
}

// Get handles GET /api/connections/{id}
func (h *ConnectionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	conn, err := h.connectionService.Get(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteData(w, http.StatusOK, conn, h.logger)
}

// Delete handles DELETE /api/connections/{id}
func (h *ConnectionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseConnectionID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.connectionService.Delete(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteData(w, http.StatusOK, map[string]string{"id": id.String()}, h.logger)
}
