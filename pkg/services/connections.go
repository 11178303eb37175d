package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pulse/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pulse/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-pulse/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-pulse/pkg/audit"
	"github.com/ekaya-inc/ekaya-pulse/pkg/cache"
	"github.com/ekaya-inc/ekaya-pulse/pkg/crypto"
	"github.com/ekaya-inc/ekaya-pulse/pkg/metrics"
	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
	"github.com/ekaya-inc/ekaya-pulse/pkg/repositories"
	"github.com/ekaya-inc/ekaya-pulse/pkg/sql"
)

// maxSelectedTables bounds the table hint list.
const maxSelectedTables = 10

// ConnectionService defines the interface for connection operations.
type ConnectionService interface {
	// Create validates and tests a connection string, then stores it encrypted.
	Create(ctx context.Context, connectionString string, selectedTables []string) (*models.CreatedConnection, error)

	// Get retrieves a connection by ID.
	Get(ctx context.Context, id uuid.UUID) (*models.Connection, error)

	// List retrieves all connections.
	List(ctx context.Context) ([]*models.Connection, error)

	// Delete removes a connection and its cached metrics.
	Delete(ctx context.Context, id uuid.UUID) error
}

// connectionService implements ConnectionService.
type connectionService struct {
	repo      repositories.ConnectionRepository
	encryptor *crypto.CredentialEncryptor
	connector datasource.Connector
	cache     *cache.MetricsCache
	recency   *cache.RecencyTracker
	auditor   *audit.SecurityAuditor
	logger    *zap.Logger
}

// NewConnectionService creates a new connection service with dependencies.
func NewConnectionService(
	repo repositories.ConnectionRepository,
	encryptor *crypto.CredentialEncryptor,
	connector datasource.Connector,
	metricsCache *cache.MetricsCache,
	recency *cache.RecencyTracker,
	auditor *audit.SecurityAuditor,
	logger *zap.Logger,
) ConnectionService {
	return &connectionService{
		repo:      repo,
		encryptor: encryptor,
		connector: connector,
		cache:     metricsCache,
		recency:   recency,
		auditor:   auditor,
		logger:    logger.Named("connection-service"),
	}
}

func (s *connectionService) Create(ctx context.Context, connectionString string, selectedTables []string) (*models.CreatedConnection, error) {
	creds, err := postgres.ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	if results := sql.CheckAll("selected_tables", selectedTables); len(results) > 0 {
		for _, r := range results {
			s.auditor.LogInjectionAttempt(audit.InjectionDetails{
				Field:       r.Field,
				Value:       r.Value,
				Fingerprint: r.Fingerprint,
			})
		}
		return nil, apperrors.NewValidationError("selected_tables",
			fmt.Sprintf("table hint %q is not a valid table name", results[0].Value))
	}

	tables, err := validateSelectedTables(selectedTables)
	if err != nil {
		return nil, err
	}

	if err := s.connector.TestConnection(ctx, creds); err != nil {
		return nil, err
	}

	encrypted, err := s.encryptor.Encrypt(strings.TrimSpace(connectionString))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt connection string: %w", err)
	}

	provider := postgres.DetectProvider(creds.Host)
	conn := &models.Connection{
		ProjectName:    postgres.DeriveProjectName(creds, provider),
		Provider:       provider,
		SelectedTables: tables,
	}

	if err := s.repo.Create(ctx, conn, encrypted, s.encryptor.Fingerprint(creds.Target())); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, fmt.Errorf("connection to this database is already registered: %w", err)
		}
		return nil, err
	}

	s.logger.Info("Created connection",
		zap.String("connection_id", conn.ID.String()),
		zap.String("project_name", conn.ProjectName),
		zap.String("provider", string(provider)),
		zap.Int("selected_tables", len(tables)))

	return &models.CreatedConnection{ID: conn.ID, ProjectName: conn.ProjectName}, nil
}

func (s *connectionService) Get(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	conn, _, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *connectionService) List(ctx context.Context) ([]*models.Connection, error) {
	conns, _, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if conns == nil {
		conns = []*models.Connection{}
	}
	return conns, nil
}

func (s *connectionService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, id)
	if err := s.recency.Clear(ctx, id); err != nil {
		s.logger.Warn("Failed to clear recency marker",
			zap.String("connection_id", id.String()),
			zap.Error(err))
	}

	s.logger.Info("Deleted connection", zap.String("connection_id", id.String()))
	return nil
}

// validateSelectedTables screens operator table hints. Every hint must be
// free of injection patterns and name an allow-listed table. Blank entries
// and duplicates are dropped.
func validateSelectedTables(tables []string) ([]string, error) {
	if results := sql.CheckAll("selected_tables", tables); len(results) > 0 {
		return nil, apperrors.NewValidationError("selected_tables",
			fmt.Sprintf("table hint %q is not a valid table name", results[0].Value))
	}

	var out []string
	seen := make(map[string]bool)
	for _, t := range tables {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		ref, ok := metrics.LookupTable(t)
		if !ok {
			return nil, apperrors.NewValidationError("selected_tables",
				fmt.Sprintf("table hint %q is not a recognized users or subscriptions table", t))
		}
		if seen[ref.String()] {
			continue
		}
		seen[ref.String()] = true
		out = append(out, ref.String())
	}

	if len(out) > maxSelectedTables {
		return nil, apperrors.NewValidationError("selected_tables",
			fmt.Sprintf("at most %d table hints are allowed", maxSelectedTables))
	}
	return out, nil
}
