package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pulse/pkg/apperrors"
)

// ApiResponse is the envelope of every JSON response.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, ApiResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteData writes a successful envelope around data.
func WriteData(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// errorStatus maps an error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	}

	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return http.StatusBadRequest, "validation_error"
	case apperrors.KindAuth:
		return http.StatusUnprocessableEntity, string(apperrors.ReasonInvalidCredentials)
	case apperrors.KindConnection:
		return http.StatusBadGateway, "connection_error"
	case apperrors.KindDecryption:
		return http.StatusInternalServerError, "decryption_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

// errorMessage returns the caller-safe message for err.
func errorMessage(err error, status int) string {
	var appErr *apperrors.Error
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return "Connection not found"
	case errors.Is(err, apperrors.ErrConflict):
		return "A connection to this database is already registered"
	case status == http.StatusInternalServerError:
		return "An unexpected error occurred"
	case errors.As(err, &appErr):
		if appErr.Kind == apperrors.KindConnection {
			return appErr.Message + ". Check that the database accepts connections from this server (network, firewall, allowed IPs)."
		}
		return appErr.Message
	}
	return "An unexpected error occurred"
}

// WriteError maps err to a status code and writes it in the envelope.
// Server errors are logged with their cause; callers only see a generic message.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		if apperrors.KindOf(err) == apperrors.KindDecryption {
			logger.Error("Stored credentials failed integrity check", zap.Error(err))
		} else {
			logger.Error("Request failed", zap.Error(err))
		}
	}

	if err := ErrorResponse(w, status, code, errorMessage(err, status)); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
