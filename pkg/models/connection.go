package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies the hosting platform of a tenant database.
type Provider string

const (
	ProviderNeon     Provider = "neon"
	ProviderSupabase Provider = "supabase"
	// ProviderPostgres covers self-hosted and other Postgres hosts.
	ProviderPostgres Provider = "postgres"
)

// IsValid reports whether p is a known provider.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderNeon, ProviderSupabase, ProviderPostgres:
		return true
	}
	return false
}

// Connection is a registered customer database.
// The encrypted connection string is stored beside the record by the
// repository and is never part of the model.
type Connection struct {
	ID             uuid.UUID `json:"id"`
	ProjectName    string    `json:"project_name"`
	Provider       Provider  `json:"provider"`
	SelectedTables []string  `json:"selected_tables,omitempty"` // Ordered schema hint
	TotalUsers     *int64    `json:"total_users"`
	PaidUsers      *int64    `json:"paid_users"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// MetricsUpdatedAt is when TotalUsers and PaidUsers were last persisted.
	MetricsUpdatedAt *time.Time `json:"metrics_updated_at,omitempty"`
}

// CreatedConnection is the result of registering a connection.
type CreatedConnection struct {
	ID          uuid.UUID `json:"id"`
	ProjectName string    `json:"project_name"`
}
