package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pulse/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-pulse/pkg/cache"
	"github.com/ekaya-inc/ekaya-pulse/pkg/crypto"
	"github.com/ekaya-inc/ekaya-pulse/pkg/metrics"
	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
	"github.com/ekaya-inc/ekaya-pulse/pkg/repositories"
	"github.com/ekaya-inc/ekaya-pulse/pkg/retry"
	"github.com/ekaya-inc/ekaya-pulse/pkg/workerpool"
)

// DefaultRefreshConcurrency is used when RefreshAll gets a non-positive concurrency.
const DefaultRefreshConcurrency = 5

// Refresh outcomes.
const (
	refreshRefreshed = "refreshed"
	refreshSkipped   = "skipped"
	refreshFailed    = "failed"
)

var refreshCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pulse",
	Subsystem: "refresh",
	Name:      "connections_total",
	Help:      "Connections processed by batch refresh, by outcome.",
}, []string{"outcome"})

// BatchRefresher recomputes base metrics for every connection.
type BatchRefresher interface {
	// RefreshAll refreshes all connections with at most concurrency tenant
	// connections open at once. Per-connection failures are reported in the
	// result; only failing to list connections returns an error.
	RefreshAll(ctx context.Context, concurrency int, force bool) (*models.RefreshReport, error)
}

// batchRefresher implements BatchRefresher.
type batchRefresher struct {
	repo    repositories.ConnectionRepository
	tenants *tenantOpener
	engine  *metrics.Engine
	cache   *cache.MetricsCache
	recency *cache.RecencyTracker
	cfg     MetricsConfig
	logger  *zap.Logger
}

// NewBatchRefresher creates a new batch refresher with dependencies.
func NewBatchRefresher(
	repo repositories.ConnectionRepository,
	encryptor *crypto.CredentialEncryptor,
	connector datasource.Connector,
	engine *metrics.Engine,
	metricsCache *cache.MetricsCache,
	recency *cache.RecencyTracker,
	cfg MetricsConfig,
	logger *zap.Logger,
) BatchRefresher {
	logger = logger.Named("batch-refresher")
	return &batchRefresher{
		repo:    repo,
		tenants: &tenantOpener{encryptor: encryptor, connector: connector, logger: logger},
		engine:  engine,
		cache:   metricsCache,
		recency: recency,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

func (r *batchRefresher) RefreshAll(ctx context.Context, concurrency int, force bool) (*models.RefreshReport, error) {
	if concurrency <= 0 {
		concurrency = DefaultRefreshConcurrency
	}

	conns, encrypted, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	start := time.Now()
	pool := workerpool.New(workerpool.Config{MaxConcurrent: concurrency}, r.logger)

	items := make([]workerpool.Item[models.RefreshResult], len(conns))
	for i, conn := range conns {
		enc := encrypted[i]
		items[i] = workerpool.Item[models.RefreshResult]{
			ID: conn.ID.String(),
			Execute: func(ctx context.Context) (models.RefreshResult, error) {
				return r.refreshOne(ctx, conn, enc, force), nil
			},
		}
	}

	results := make([]models.RefreshResult, len(conns))
	for i, res := range workerpool.Process(ctx, pool, items, nil) {
		if res.Err != nil {
			// Never started (ctx ended) or panicked.
			results[i] = failedResult(conns[i].ID, res.Err)
			refreshCounter.WithLabelValues(refreshFailed).Inc()
			continue
		}
		results[i] = res.Result
	}

	report := models.NewRefreshReport(results)
	r.logger.Info("Batch refresh complete",
		zap.Int("total", report.Total),
		zap.Int("successful", report.Successful),
		zap.Int("failed", report.Failed),
		zap.Int("concurrency", concurrency),
		zap.Bool("force", force),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	if report.Failed > 0 {
		r.logger.Warn("Connections failed to refresh", zap.Strings("connection_ids", report.FailedIDs()))
	}

	return report, nil
}

// refreshOne refreshes a single connection. The tenant client is closed on
// every path.
func (r *batchRefresher) refreshOne(ctx context.Context, conn *models.Connection, encrypted string, force bool) models.RefreshResult {
	logger := r.logger.With(zap.String("connection_id", conn.ID.String()))

	if !force {
		fresh, err := r.recency.RefreshedWithin(ctx, conn.ID, r.cfg.BaseFreshness)
		if err != nil {
			logger.Warn("Failed to read recency marker", zap.Error(err))
		}
		if fresh {
			refreshCounter.WithLabelValues(refreshSkipped).Inc()
			return models.RefreshResult{
				ConnectionID: conn.ID,
				Success:      true,
				Skipped:      true,
				TotalUsers:   conn.TotalUsers,
				PaidUsers:    conn.PaidUsers,
			}
		}
	}

	client, err := r.tenants.open(ctx, conn.ID, encrypted)
	if err != nil {
		refreshCounter.WithLabelValues(refreshFailed).Inc()
		return failedResult(conn.ID, err)
	}
	defer r.tenants.close(ctx, conn.ID, client)

	base := r.engine.NewSession(client, conn.Provider, conn.SelectedTables).
		WithLogger(zap.String("connection_id", conn.ID.String())).
		BaseMetrics(ctx)
	if base.Err != nil {
		// Persisted counts and the recency marker stay as they were.
		refreshCounter.WithLabelValues(refreshFailed).Inc()
		return failedResult(conn.ID, base.Err)
	}

	err = retry.DoIfRetryable(ctx, r.cfg.PersistRetry, func() error {
		return r.repo.UpdateBaseMetrics(ctx, conn.ID, base.TotalUsers, base.PaidUsers)
	})
	if err != nil {
		logger.Error("Failed to persist base metrics", zap.Error(err))
		refreshCounter.WithLabelValues(refreshFailed).Inc()
		return failedResult(conn.ID, err)
	}

	if err := r.recency.MarkRefreshed(ctx, conn.ID); err != nil {
		logger.Warn("Failed to mark connection refreshed", zap.Error(err))
	}
	r.cache.Invalidate(ctx, conn.ID)

	refreshCounter.WithLabelValues(refreshRefreshed).Inc()
	return models.RefreshResult{
		ConnectionID: conn.ID,
		Success:      true,
		TotalUsers:   base.TotalUsers,
		PaidUsers:    base.PaidUsers,
	}
}

func failedResult(id uuid.UUID, err error) models.RefreshResult {
	return models.RefreshResult{
		ConnectionID: id,
		Success:      false,
		Error:        safeMessage(err),
	}
}
