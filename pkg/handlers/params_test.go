package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestParseConnectionID(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name       string
		pathValue  string
		wantOK     bool
		wantStatus int
		wantError  string
	}{
		{
			name:      "valid UUID",
			pathValue: "550e8400-e29b-41d4-a716-446655440000",
			wantOK:    true,
		},
		{
			name:       "invalid UUID",
			pathValue:  "not-a-uuid",
			wantOK:     false,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_connection_id",
		},
		{
			name:       "empty UUID",
			pathValue:  "",
			wantOK:     false,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_connection_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.SetPathValue("id", tt.pathValue)
			rec := httptest.NewRecorder()

			id, ok := ParseConnectionID(rec, req, logger)

			if ok != tt.wantOK {
				t.Errorf("ParseConnectionID() ok = %v, want %v", ok, tt.wantOK)
			}

			if tt.wantOK {
				if id.String() != tt.pathValue {
					t.Errorf("ParseConnectionID() id = %v, want %v", id, tt.pathValue)
				}
				return
			}

			if id != uuid.Nil {
				t.Errorf("ParseConnectionID() id = %v, want uuid.Nil", id)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("ParseConnectionID() status = %v, want %v", rec.Code, tt.wantStatus)
			}

			var resp ApiResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error != tt.wantError {
				t.Errorf("ParseConnectionID() error = %v, want %v", resp.Error, tt.wantError)
			}
		})
	}
}

func TestParseBoolQuery(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name      string
		query     string
		wantValue bool
		wantOK    bool
	}{
		{"missing", "", false, true},
		{"true", "?force=true", true, true},
		{"one", "?force=1", true, true},
		{"false", "?force=false", false, true},
		{"garbage", "?force=yes-please", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test"+tt.query, nil)
			rec := httptest.NewRecorder()

			value, ok := ParseBoolQuery(rec, req, "force", logger)

			if value != tt.wantValue || ok != tt.wantOK {
				t.Errorf("ParseBoolQuery() = (%v, %v), want (%v, %v)", value, ok, tt.wantValue, tt.wantOK)
			}
			if !tt.wantOK && rec.Code != http.StatusBadRequest {
				t.Errorf("ParseBoolQuery() status = %v, want %v", rec.Code, http.StatusBadRequest)
			}
		})
	}
}
