package postgres

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-pulse/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pulse/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
)

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// sslModes maps accepted sslmode values to whether TLS is used.
// Verification modes still connect with TLS; certificate checks are relaxed
// in buildConnConfig because managed providers commonly present self-signed chains.
var sslModes = map[string]bool{
	"":            true,
	"require":     true,
	"prefer":      true,
	"verify-ca":   true,
	"verify-full": true,
	"disable":     false,
	"allow":       false,
}

// genericDatabaseNames are default database names that say nothing about the project.
var genericDatabaseNames = map[string]bool{
	"postgres":  true,
	"neondb":    true,
	"defaultdb": true,
}

// ParseConnectionString parses a postgres:// or postgresql:// URL into credentials.
// Host, database, username and password are required; each missing field is
// reported as a validation error naming that field.
func ParseConnectionString(connStr string) (*datasource.Credentials, error) {
	connStr = strings.TrimSpace(connStr)
	if connStr == "" {
		return nil, apperrors.NewValidationError("connection_string", "connection string is required")
	}

	if !strings.HasPrefix(connStr, "postgres://") && !strings.HasPrefix(connStr, "postgresql://") {
		return nil, apperrors.NewValidationError("connection_string", "connection string must start with postgres:// or postgresql://")
	}

	u, err := url.Parse(connStr)
	if err != nil {
		if strings.Contains(err.Error(), "invalid port") {
			return nil, apperrors.NewValidationError("port", "port must be a number between 1 and 65535")
		}
		return nil, apperrors.NewValidationError("connection_string", "connection string is not a valid URL")
	}

	creds := &datasource.Credentials{
		Host:     u.Hostname(),
		Port:     DefaultPort(),
		Database: strings.TrimPrefix(u.Path, "/"),
	}

	if creds.Host == "" {
		return nil, apperrors.NewValidationError("host", "host is required")
	}

	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, apperrors.NewValidationError("port", "port must be a number between 1 and 65535")
		}
		creds.Port = port
	}

	if creds.Database == "" {
		return nil, apperrors.NewValidationError("database", "database name is required")
	}

	if u.User != nil {
		creds.Username = u.User.Username()
		creds.Password, _ = u.User.Password()
	}
	if creds.Username == "" {
		return nil, apperrors.NewValidationError("username", "username is required")
	}
	if creds.Password == "" {
		return nil, apperrors.NewValidationError("password", "password is required")
	}

	sslMode := u.Query().Get("sslmode")
	ssl, ok := sslModes[sslMode]
	if !ok {
		return nil, apperrors.NewValidationError("sslmode", fmt.Sprintf("unsupported sslmode %q", sslMode))
	}
	creds.SSL = ssl

	return creds, nil
}

// DetectProvider infers the hosting provider from the host name.
func DetectProvider(host string) models.Provider {
	host = strings.ToLower(host)
	switch {
	case strings.HasSuffix(host, ".neon.tech"):
		return models.ProviderNeon
	case strings.HasSuffix(host, ".supabase.co"), strings.HasSuffix(host, ".supabase.com"):
		return models.ProviderSupabase
	}
	return models.ProviderPostgres
}

// DeriveProjectName picks a human-readable name for a connection: the database
// name unless it is a provider default, then the provider's project identifier,
// then the first label of the host.
func DeriveProjectName(creds *datasource.Credentials, provider models.Provider) string {
	if !genericDatabaseNames[strings.ToLower(creds.Database)] {
		return creds.Database
	}

	firstLabel := strings.Split(creds.Host, ".")[0]

	switch provider {
	case models.ProviderSupabase:
		// Direct: db.<ref>.supabase.co; pooler: user "postgres.<ref>"
		labels := strings.Split(creds.Host, ".")
		if len(labels) >= 3 && labels[0] == "db" {
			return labels[1]
		}
		if _, ref, ok := strings.Cut(creds.Username, "."); ok && ref != "" {
			return ref
		}
	case models.ProviderNeon:
		return strings.TrimSuffix(firstLabel, "-pooler")
	}

	return firstLabel
}
