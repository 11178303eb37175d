package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pulse/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pulse/pkg/cache"
	"github.com/ekaya-inc/ekaya-pulse/pkg/crypto"
	"github.com/ekaya-inc/ekaya-pulse/pkg/metrics"
	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
	"github.com/ekaya-inc/ekaya-pulse/pkg/repositories"
	"github.com/ekaya-inc/ekaya-pulse/pkg/retry"
)

// Defaults for MetricsConfig.
const (
	DefaultCacheTTL      = 15 * time.Minute
	DefaultBaseFreshness = 2 * time.Hour
)

// MetricsConfig controls metric caching.
type MetricsConfig struct {
	CacheTTL      time.Duration // How long snapshots and series are served from cache
	BaseFreshness time.Duration // How long persisted base metrics are reused
	PersistRetry  *retry.Config // nil uses retry.DefaultConfig
}

func (c MetricsConfig) withDefaults() MetricsConfig {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.BaseFreshness <= 0 {
		c.BaseFreshness = DefaultBaseFreshness
	}
	return c
}

// MetricsService computes metrics and time series for registered connections.
type MetricsService interface {
	// GetMetrics returns the metrics snapshot for a connection. force bypasses
	// the cache and the persisted base metrics.
	GetMetrics(ctx context.Context, id uuid.UUID, force bool) (*models.MetricsSnapshot, error)

	// GetGrowthSeries returns cumulative users over rng.
	GetGrowthSeries(ctx context.Context, id uuid.UUID, rng models.TimeRange) ([]models.GrowthPoint, error)

	// GetNewUsersSeries returns signups per bucket over rng.
	GetNewUsersSeries(ctx context.Context, id uuid.UUID, rng models.TimeRange) ([]models.NewUsersPoint, error)

	// GetWeeklyActiveUsersSeries returns weekly active users over rng.
	GetWeeklyActiveUsersSeries(ctx context.Context, id uuid.UUID, rng models.TimeRange) ([]models.WeeklyActivePoint, error)
}

// metricsService implements MetricsService.
type metricsService struct {
	repo    repositories.ConnectionRepository
	tenants *tenantOpener
	engine  *metrics.Engine
	cache   *cache.MetricsCache
	recency *cache.RecencyTracker
	cfg     MetricsConfig
	logger  *zap.Logger
}

// NewMetricsService creates a new metrics service with dependencies.
func NewMetricsService(
	repo repositories.ConnectionRepository,
	encryptor *crypto.CredentialEncryptor,
	connector datasource.Connector,
	engine *metrics.Engine,
	metricsCache *cache.MetricsCache,
	recency *cache.RecencyTracker,
	cfg MetricsConfig,
	logger *zap.Logger,
) MetricsService {
	logger = logger.Named("metrics-service")
	return &metricsService{
		repo:    repo,
		tenants: &tenantOpener{encryptor: encryptor, connector: connector, logger: logger},
		engine:  engine,
		cache:   metricsCache,
		recency: recency,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

func (s *metricsService) GetMetrics(ctx context.Context, id uuid.UUID, force bool) (*models.MetricsSnapshot, error) {
	conn, encrypted, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	compute := func(ctx context.Context) (*models.MetricsSnapshot, error) {
		return s.computeSnapshot(ctx, conn, encrypted, force)
	}

	if !force {
		return s.cache.GetOrCompute(ctx, id, s.cfg.CacheTTL, compute)
	}

	snapshot, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Put(ctx, id, s.cfg.CacheTTL, snapshot)
	return snapshot, nil
}

// computeSnapshot opens one tenant connection and computes base then
// detailed metrics on it. Base metrics come from the connection row when
// they were refreshed within the freshness window.
func (s *metricsService) computeSnapshot(ctx context.Context, conn *models.Connection, encrypted string, force bool) (*models.MetricsSnapshot, error) {
	client, err := s.tenants.open(ctx, conn.ID, encrypted)
	if err != nil {
		return nil, err
	}
	defer s.tenants.close(ctx, conn.ID, client)

	session := s.session(client, conn)

	var base metrics.BaseMetrics
	if !force && s.baseIsFresh(ctx, conn) {
		base = metrics.BaseMetrics{TotalUsers: conn.TotalUsers, PaidUsers: conn.PaidUsers}
	} else {
		base = session.BaseMetrics(ctx)
		s.persistBase(ctx, conn.ID, base)
	}

	detailed := session.DetailedMetrics(ctx)
	snapshot := metrics.BuildSnapshot(base, detailed, s.engine.Now())
	return &snapshot, nil
}

func (s *metricsService) baseIsFresh(ctx context.Context, conn *models.Connection) bool {
	if conn.MetricsUpdatedAt == nil {
		return false
	}
	fresh, err := s.recency.RefreshedWithin(ctx, conn.ID, s.cfg.BaseFreshness)
	if err != nil {
		s.logger.Warn("Failed to read recency marker",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(err))
		return false
	}
	return fresh
}

// persistBase mirrors freshly computed base metrics onto the connection row.
// Failures are logged; the computed values are still served. Results with a
// failed query are served but never persisted.
func (s *metricsService) persistBase(ctx context.Context, id uuid.UUID, base metrics.BaseMetrics) {
	if base.Err != nil {
		return
	}
	err := retry.DoIfRetryable(ctx, s.cfg.PersistRetry, func() error {
		return s.repo.UpdateBaseMetrics(ctx, id, base.TotalUsers, base.PaidUsers)
	})
	if err != nil {
		s.logger.Warn("Failed to persist base metrics",
			zap.String("connection_id", id.String()),
			zap.Error(err))
		return
	}
	if err := s.recency.MarkRefreshed(ctx, id); err != nil {
		s.logger.Warn("Failed to mark connection refreshed",
			zap.String("connection_id", id.String()),
			zap.Error(err))
	}
}

func (s *metricsService) session(client datasource.TenantClient, conn *models.Connection) *metrics.Session {
	return s.engine.NewSession(client, conn.Provider, conn.SelectedTables).
		WithLogger(zap.String("connection_id", conn.ID.String()))
}

func (s *metricsService) GetGrowthSeries(ctx context.Context, id uuid.UUID, rng models.TimeRange) ([]models.GrowthPoint, error) {
	return computeSeries(ctx, s, id, models.SeriesGrowth, rng,
		func(ctx context.Context, session *metrics.Session) []models.GrowthPoint {
			return session.GrowthSeries(ctx, rng)
		})
}

func (s *metricsService) GetNewUsersSeries(ctx context.Context, id uuid.UUID, rng models.TimeRange) ([]models.NewUsersPoint, error) {
	return computeSeries(ctx, s, id, models.SeriesNewUsers, rng,
		func(ctx context.Context, session *metrics.Session) []models.NewUsersPoint {
			return session.NewUsersSeries(ctx, rng)
		})
}

func (s *metricsService) GetWeeklyActiveUsersSeries(ctx context.Context, id uuid.UUID, rng models.TimeRange) ([]models.WeeklyActivePoint, error) {
	return computeSeries(ctx, s, id, models.SeriesWeeklyActiveUsers, rng,
		func(ctx context.Context, session *metrics.Session) []models.WeeklyActivePoint {
			return session.WeeklyActiveUsersSeries(ctx, rng)
		})
}

// computeSeries serves a series from cache or computes it on a fresh tenant connection.
func computeSeries[T any](
	ctx context.Context,
	s *metricsService,
	id uuid.UUID,
	kind models.SeriesKind,
	rng models.TimeRange,
	fn func(ctx context.Context, session *metrics.Session) []T,
) ([]T, error) {
	conn, encrypted, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return cache.GetOrComputeSeries(ctx, s.cache, id, kind, rng, s.cfg.CacheTTL,
		func(ctx context.Context) ([]T, error) {
			client, err := s.tenants.open(ctx, id, encrypted)
			if err != nil {
				return nil, err
			}
			defer s.tenants.close(ctx, id, client)

			return fn(ctx, s.session(client, conn)), nil
		})
}
