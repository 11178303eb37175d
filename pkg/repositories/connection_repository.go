package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-pulse/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pulse/pkg/database"
	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
)

// ConnectionRepository defines data access for registered connections.
// The connection string is stored as encrypted TEXT - encryption/decryption is
// handled by the service layer.
type ConnectionRepository interface {
	// Create inserts a new connection and sets its ID and timestamps.
	// Returns apperrors.ErrConflict if the fingerprint is already registered.
	Create(ctx context.Context, conn *models.Connection, encryptedConnStr, fingerprint string) error

	// GetByID retrieves a connection and its encrypted connection string.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, string, error)

	// List retrieves all connections, oldest first, with their encrypted connection strings.
	List(ctx context.Context) ([]*models.Connection, []string, error)

	// UpdateBaseMetrics sets only the persisted user counts.
	UpdateBaseMetrics(ctx context.Context, id uuid.UUID, totalUsers, paidUsers *int64) error

	// Delete removes a connection by ID.
	Delete(ctx context.Context, id uuid.UUID) error
}

// connectionRepository implements ConnectionRepository using PostgreSQL.
type connectionRepository struct {
	db *database.DB
}

// NewConnectionRepository creates a new connection repository.
func NewConnectionRepository(db *database.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = `id, project_name, provider, selected_tables, total_users, paid_users,
	metrics_updated_at, created_at, updated_at, encrypted_connection_string`

func (r *connectionRepository) Create(ctx context.Context, conn *models.Connection, encryptedConnStr, fingerprint string) error {
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now
	if conn.SelectedTables == nil {
		conn.SelectedTables = []string{}
	}

	query := `
		INSERT INTO pulse_connections (project_name, provider, encrypted_connection_string,
			target_fingerprint, selected_tables, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		conn.ProjectName,
		conn.Provider,
		encryptedConnStr,
		fingerprint,
		conn.SelectedTables,
		conn.CreatedAt,
		conn.UpdatedAt,
	).Scan(&conn.ID)
	if err != nil {
		// Check for unique constraint violation (PostgreSQL error code 23505)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create connection: %w", err)
	}

	return nil
}

func (r *connectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Connection, string, error) {
	query := `SELECT ` + connectionColumns + ` FROM pulse_connections WHERE id = $1`

	conn, encrypted, err := scanConnection(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", apperrors.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to get connection: %w", err)
	}

	return conn, encrypted, nil
}

func (r *connectionRepository) List(ctx context.Context) ([]*models.Connection, []string, error) {
	query := `SELECT ` + connectionColumns + ` FROM pulse_connections ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*models.Connection
	var encrypted []string
	for rows.Next() {
		conn, enc, err := scanConnection(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
		encrypted = append(encrypted, enc)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return conns, encrypted, nil
}

func (r *connectionRepository) UpdateBaseMetrics(ctx context.Context, id uuid.UUID, totalUsers, paidUsers *int64) error {
	query := `
		UPDATE pulse_connections
		SET total_users = $2, paid_users = $3, metrics_updated_at = now(), updated_at = now()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, totalUsers, paidUsers)
	if err != nil {
		return fmt.Errorf("failed to update base metrics: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *connectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM pulse_connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanConnection(row pgx.Row) (*models.Connection, string, error) {
	var conn models.Connection
	var encrypted string
	err := row.Scan(
		&conn.ID,
		&conn.ProjectName,
		&conn.Provider,
		&conn.SelectedTables,
		&conn.TotalUsers,
		&conn.PaidUsers,
		&conn.MetricsUpdatedAt,
		&conn.CreatedAt,
		&conn.UpdatedAt,
		&encrypted,
	)
	if err != nil {
		return nil, "", err
	}
	return &conn, encrypted, nil
}
