package postgres

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgconn/ctxwatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pulse/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pulse/pkg/config"
	"github.com/ekaya-inc/ekaya-pulse/pkg/logging"
)

const (
	// ApplicationName is reported to tenant databases in pg_stat_activity.
	ApplicationName = "ekaya-pulse"

	defaultConnectTimeout = 10 * time.Second
	closeTimeout          = 5 * time.Second

	// cancelDeadlineDelay is how long a cancelled statement may take to
	// return after the cancel request before the socket deadline closes the
	// connection.
	cancelDeadlineDelay = 2 * time.Second
)

var (
	openConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulse",
		Subsystem: "tenant",
		Name:      "open_connections",
		Help:      "Tenant database connections currently open.",
	})
	connectCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "tenant",
		Name:      "connect_total",
		Help:      "Tenant connection attempts by outcome.",
	}, []string{"outcome"})
)

// FactoryConfig controls how tenant connections are established.
type FactoryConfig struct {
	// ConnectTimeout bounds connection establishment only.
	ConnectTimeout time.Duration
	// StatementTimeout is sent as the session statement_timeout; zero leaves the server default.
	StatementTimeout time.Duration
}

// Factory builds short-lived, unpooled tenant clients.
type Factory struct {
	cfg    FactoryConfig
	logger *zap.Logger
}

// StatementTimeoutFor returns the server-side statement_timeout to pair with
// a client query timeout. It fires slightly earlier so the server ends the
// statement itself and the connection stays usable.
func StatementTimeoutFor(queryTimeout time.Duration) time.Duration {
	return queryTimeout * 9 / 10
}

// NewFactory creates a tenant connection factory.
// If logger is nil, a no-op logger is used.
func NewFactory(cfg FactoryConfig, logger *zap.Logger) *Factory {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger.Named("tenant-connector")}
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// User info and database are escaped by net/url so that special characters in
// passwords (@, /, #, ?) cannot break URL parsing. TLS is configured on the
// parsed config rather than through sslmode.
func buildConnectionString(creds *datasource.Credentials) string {
	host := config.ResolveHostForDocker(creds.Host)
	port := creds.Port
	if port == 0 {
		port = DefaultPort()
	}

	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(creds.Username, creds.Password),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + creds.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// buildConnConfig converts credentials into a pgx connection config with the
// TLS policy, connect timeout and session parameters applied.
func (f *Factory) buildConnConfig(creds *datasource.Credentials) (*pgx.ConnConfig, error) {
	connCfg, err := pgx.ParseConfig(buildConnectionString(creds))
	if err != nil {
		return nil, fmt.Errorf("parse connection config: %w", err)
	}

	connCfg.ConnectTimeout = f.cfg.ConnectTimeout
	connCfg.Fallbacks = nil

	if creds.SSL {
		connCfg.TLSConfig = &tls.Config{
			ServerName: creds.Host,
			// Managed providers commonly present certificates that do not
			// chain to a public root; the channel is still encrypted.
			InsecureSkipVerify: true, //nolint:gosec // see above
		}
	} else {
		connCfg.TLSConfig = nil
	}

	// A context deadline sends a cancel request for the running statement
	// instead of expiring the socket, so one slow metric does not close the
	// connection shared by the rest of the session.
	connCfg.BuildContextWatcherHandler = func(pgConn *pgconn.PgConn) ctxwatch.Handler {
		return &pgconn.CancelRequestContextWatcherHandler{
			Conn:          pgConn,
			DeadlineDelay: cancelDeadlineDelay,
		}
	}

	connCfg.RuntimeParams["application_name"] = ApplicationName
	connCfg.RuntimeParams["timezone"] = "UTC"
	if f.cfg.StatementTimeout > 0 {
		connCfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(f.cfg.StatementTimeout.Milliseconds(), 10)
	}

	return connCfg, nil
}

// Connect opens a new tenant connection. The returned client must be closed.
func (f *Factory) Connect(ctx context.Context, creds *datasource.Credentials) (datasource.TenantClient, error) {
	connCfg, err := f.buildConnConfig(creds)
	if err != nil {
		connectCounter.WithLabelValues("error").Inc()
		return nil, ClassifyError(err)
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		connectCounter.WithLabelValues("error").Inc()
		classified := ClassifyError(err)
		f.logger.Warn("Tenant connection failed",
			zap.String("host", creds.Host),
			zap.String("database", creds.Database),
			zap.String("reason", string(classified.Reason)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, classified
	}

	connectCounter.WithLabelValues("ok").Inc()
	openConnections.Inc()

	return &Client{conn: conn}, nil
}

// TestConnection verifies the database is reachable with valid credentials.
// The connection is closed whether or not the check succeeds.
func (f *Factory) TestConnection(ctx context.Context, creds *datasource.Credentials) error {
	client, err := f.Connect(ctx, creds)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(ctx); err != nil {
			f.logger.Warn("Failed to close test connection", zap.String("error", logging.SanitizeError(err)))
		}
	}()

	var one int
	if err := client.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return ClassifyError(err)
	}

	return nil
}

// Client is a single tenant connection.
type Client struct {
	conn *pgx.Conn

	closeOnce sync.Once
	closeErr  error
}

// Query implements datasource.Querier.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.conn.Query(ctx, sql, args...)
}

// QueryRow implements datasource.Querier.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.conn.QueryRow(ctx, sql, args...)
}

// Close terminates the connection once. It uses a detached context so that
// the connection is released even after the caller's deadline has passed.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		c.closeErr = c.conn.Close(closeCtx)
		openConnections.Dec()
	})
	return c.closeErr
}

// Ensure interfaces are satisfied at compile time.
var (
	_ datasource.Connector    = (*Factory)(nil)
	_ datasource.TenantClient = (*Client)(nil)
)
