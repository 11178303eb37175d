package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-pulse/pkg/models"
)

// sharedComputeTimeout bounds a computation that outlives the caller that
// started it.
const sharedComputeTimeout = 2 * time.Minute

var cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pulse",
	Subsystem: "metrics_cache",
	Name:      "requests_total",
	Help:      "Metrics cache lookups by result.",
}, []string{"kind", "result"})

// MetricsKey is the cache key of a connection's metrics snapshot.
func MetricsKey(id uuid.UUID) string {
	return "metrics-" + id.String()
}

// SeriesKey is the cache key of one time series of a connection.
func SeriesKey(id uuid.UUID, kind models.SeriesKind, rng models.TimeRange) string {
	return "series-" + id.String() + "-" + string(kind) + "-" + string(rng)
}

// entry is the stored form of a cached value. ExpiresAt is checked on read
// in addition to the store's own expiry.
type entry[T any] struct {
	Value     T         `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MetricsCache memoizes computed metrics and series per connection.
// Concurrent misses on the same key run the computation once.
type MetricsCache struct {
	store  Store
	clock  clock.Clock
	group  singleflight.Group
	logger *zap.Logger
}

// NewMetricsCache creates a cache over store. A nil clock uses the wall clock.
func NewMetricsCache(store Store, clk clock.Clock, logger *zap.Logger) *MetricsCache {
	if clk == nil {
		clk = clock.New()
	}
	return &MetricsCache{
		store:  store,
		clock:  clk,
		logger: logger.Named("metrics-cache"),
	}
}

// GetOrCompute returns the cached snapshot for id, or runs compute and caches
// its result for ttl. Errors from compute are returned and not cached.
func (c *MetricsCache) GetOrCompute(ctx context.Context, id uuid.UUID, ttl time.Duration, compute func(context.Context) (*models.MetricsSnapshot, error)) (*models.MetricsSnapshot, error) {
	return getOrCompute(ctx, c, "metrics", MetricsKey(id), ttl, compute)
}

// Put stores snapshot for id, replacing any cached value.
func (c *MetricsCache) Put(ctx context.Context, id uuid.UUID, ttl time.Duration, snapshot *models.MetricsSnapshot) {
	put(ctx, c, MetricsKey(id), ttl, snapshot)
}

// GetOrComputeSeries is GetOrCompute for a time series.
func GetOrComputeSeries[T any](ctx context.Context, c *MetricsCache, id uuid.UUID, kind models.SeriesKind, rng models.TimeRange, ttl time.Duration, compute func(context.Context) ([]T, error)) ([]T, error) {
	return getOrCompute(ctx, c, "series", SeriesKey(id, kind, rng), ttl, compute)
}

// Invalidate drops the cached snapshot and every cached series for id.
func (c *MetricsCache) Invalidate(ctx context.Context, id uuid.UUID) {
	keys := []string{MetricsKey(id)}
	for _, kind := range models.SeriesKinds {
		for _, rng := range models.TimeRanges {
			keys = append(keys, SeriesKey(id, kind, rng))
		}
	}
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("Failed to invalidate cache entry",
				zap.String("key", key),
				zap.Error(err))
		}
	}
}

func getOrCompute[T any](ctx context.Context, c *MetricsCache, kind, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if v, ok := lookup[T](ctx, c, key); ok {
		cacheRequests.WithLabelValues(kind, "hit").Inc()
		return v, nil
	}
	cacheRequests.WithLabelValues(kind, "miss").Inc()

	// The computation is shared by every waiter on key, so it runs detached
	// from the caller that started it. Each caller still stops waiting when
	// its own context ends.
	ch := c.group.DoChan(key, func() (any, error) {
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedComputeTimeout)
		defer cancel()

		// A caller that just left the group may have filled the entry.
		if v, ok := lookup[T](computeCtx, c, key); ok {
			return v, nil
		}
		v, err := compute(computeCtx)
		if err != nil {
			return nil, err
		}
		put(computeCtx, c, key, ttl, v)
		return v, nil
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// lookup reads key. Store failures and undecodable entries count as misses.
func lookup[T any](ctx context.Context, c *MetricsCache, key string) (T, bool) {
	var zero T

	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn("Cache read failed, treating as miss",
				zap.String("key", key),
				zap.Error(err))
		}
		return zero, false
	}

	var e entry[T]
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("Discarding undecodable cache entry",
			zap.String("key", key),
			zap.Error(err))
		return zero, false
	}
	if !c.clock.Now().Before(e.ExpiresAt) {
		return zero, false
	}
	return e.Value, true
}

func put[T any](ctx context.Context, c *MetricsCache, key string, ttl time.Duration, v T) {
	raw, err := json.Marshal(entry[T]{Value: v, ExpiresAt: c.clock.Now().Add(ttl)})
	if err != nil {
		c.logger.Error("Failed to encode cache entry",
			zap.String("key", key),
			zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Warn("Cache write failed",
			zap.String("key", key),
			zap.Error(err))
	}
}
