package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pulse/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-pulse/pkg/audit"
	"github.com/ekaya-inc/ekaya-pulse/pkg/cache"
	"github.com/ekaya-inc/ekaya-pulse/pkg/config"
	"github.com/ekaya-inc/ekaya-pulse/pkg/crypto"
	"github.com/ekaya-inc/ekaya-pulse/pkg/database"
	"github.com/ekaya-inc/ekaya-pulse/pkg/handlers"
	"github.com/ekaya-inc/ekaya-pulse/pkg/logging"
	"github.com/ekaya-inc/ekaya-pulse/pkg/metrics"
	"github.com/ekaya-inc/ekaya-pulse/pkg/middleware"
	"github.com/ekaya-inc/ekaya-pulse/pkg/repositories"
	"github.com/ekaya-inc/ekaya-pulse/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.Bool("redis", cfg.Redis.Enabled()),
		zap.Duration("refresh_interval", cfg.Refresh.Interval),
		zap.Bool("admin_enabled", cfg.AdminToken != ""))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metadata store
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	sqlDB, err := database.OpenSQL(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		_ = sqlDB.Close()
		return err
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	// Cache and recency store: Redis when configured, otherwise in-process.
	clk := clock.New()
	var store cache.Store
	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		store = cache.NewRedisStore(redisClient, cfg.Redis.Prefix)
		logger.Info("Using Redis cache store", zap.String("addr", cfg.Redis.Addr()))
	} else {
		memory, err := cache.NewMemoryStore(cfg.Metrics.CacheSize, clk)
		if err != nil {
			return err
		}
		store = memory
		logger.Info("Using in-memory cache store", zap.Int("size", cfg.Metrics.CacheSize))
	}

	encryptor, err := crypto.NewCredentialEncryptor(cfg.ConnectionCredentialsKey)
	if err != nil {
		return err
	}

	factory := postgres.NewFactory(postgres.FactoryConfig{
		ConnectTimeout:   cfg.Metrics.ConnectTimeout,
		StatementTimeout: postgres.StatementTimeoutFor(cfg.Metrics.QueryTimeout),
	}, logger)
	engine := metrics.NewEngine(metrics.Config{QueryTimeout: cfg.Metrics.QueryTimeout}, clk, logger)
	metricsCache := cache.NewMetricsCache(store, clk, logger)
	recency := cache.NewRecencyTracker(store, clk)
	repo := repositories.NewConnectionRepository(db)
	auditor := audit.NewSecurityAuditor(logger)

	metricsCfg := services.MetricsConfig{
		CacheTTL:      cfg.Metrics.CacheTTL,
		BaseFreshness: cfg.Metrics.BaseFreshness,
	}
	connectionService := services.NewConnectionService(repo, encryptor, factory, metricsCache, recency, auditor, logger)
	metricsService := services.NewMetricsService(repo, encryptor, factory, engine, metricsCache, recency, metricsCfg, logger)
	refresher := services.NewBatchRefresher(repo, encryptor, factory, engine, metricsCache, recency, metricsCfg, logger)

	// The scheduler loop also serves manual triggers, so it always runs;
	// with refresh disabled its interval is pushed out of reach.
	schedulerCfg := services.SchedulerConfig{
		Interval:    cfg.Refresh.Interval,
		Concurrency: cfg.Refresh.Concurrency,
		RunOnStart:  cfg.Refresh.Enabled && cfg.Refresh.RunOnStart,
	}
	if !cfg.Refresh.Enabled {
		schedulerCfg.Interval = time.Duration(1<<63 - 1)
		logger.Info("Scheduled refresh disabled")
	}
	scheduler := services.NewRefreshScheduler(refresher, schedulerCfg, clk, logger)
	go scheduler.Start(ctx)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewConnectionsHandler(connectionService, logger).RegisterRoutes(mux)
	handlers.NewMetricsHandler(metricsService, logger).RegisterRoutes(mux)
	handlers.NewAdminHandler(scheduler, cfg.AdminToken, auditor, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := middleware.Instrument(prometheus.DefaultRegisterer)(mux)
	handler = middleware.RequestLogger(logger.Named("http"))(handler)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Admin refresh answers only after the whole batch.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-pulse", zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}
