package datasource

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Credentials are the parsed parts of a tenant connection string.
// They exist only for the duration of a connection attempt and are never persisted.
type Credentials struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSL      bool
}

// String implements fmt.Stringer without exposing the password.
func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s:%d/%s (ssl=%t)", c.Username, c.Host, c.Port, c.Database, c.SSL)
}

// Target identifies the database the credentials point at. It excludes the
// password, so rotating a password keeps the same target.
func (c Credentials) Target() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.Username, strings.ToLower(c.Host), c.Port, c.Database)
}

// Querier runs statements against a tenant database. *pgx.Conn satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TenantClient is a short-lived connection to a single tenant database.
// It does not support concurrent statements. Callers must Close it on every
// exit path.
type TenantClient interface {
	Querier

	// Close releases the connection. It is safe to call more than once and
	// completes even if ctx is already done.
	Close(ctx context.Context) error
}

// Connector opens tenant clients.
type Connector interface {
	// Connect opens a new, unpooled tenant connection.
	Connect(ctx context.Context, creds *Credentials) (TenantClient, error)

	// TestConnection connects, runs a no-op query and always closes the connection.
	TestConnection(ctx context.Context, creds *Credentials) error
}
